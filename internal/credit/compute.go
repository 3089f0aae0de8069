package credit

import (
	"math"
	"sort"
)

// Volume and score weights for the composite credit score.
const (
	growingFactor   = 1.2
	decliningFactor = 0.8

	volumeCeiling = 100_000 // minor units of monthly volume worth 100 points

	trendPointsGrowing   = 100.0
	trendPointsStable    = 70.0
	trendPointsDeclining = 40.0
)

// Compute derives a MetricBundle from a ledger. It is total and deterministic:
// the same set of transactions yields the same bundle regardless of input
// order. Intermediates use float64 so a local preview and the prover's
// authoritative recompute cannot drift.
func Compute(ledger []Transaction) MetricBundle {
	if len(ledger) == 0 {
		return ZeroBundle()
	}

	txs := make([]Transaction, len(ledger))
	copy(txs, ledger)
	sortLedger(txs)

	first := txs[0].OccurredAt
	last := txs[len(txs)-1].OccurredAt

	daysSpan := int64(last.Sub(first) / (24 * 3600 * 1e9))
	daysInPeriod := daysSpan + 1
	if daysInPeriod < 1 {
		daysInPeriod = 1
	}

	var totalVolume int64
	for _, tx := range txs {
		totalVolume += absAmount(tx.Amount)
	}

	monthlyVolume := float64(totalVolume) / float64(daysInPeriod) * 30.0
	averageTicket := float64(totalVolume) / float64(len(txs))

	diversity := diversityScore(txs)
	trend := growthTrend(txs)

	denom := daysSpan
	if denom < 1 {
		denom = 1
	}
	avgPerDay := float64(len(txs)) / float64(denom)

	consistency := int(math.Floor(avgPerDay * 10.0))
	if consistency > 100 {
		consistency = 100
	}

	volumeComponent := math.Min(100.0, monthlyVolume/float64(volumeCeiling)*100.0)
	score := float64(consistency)*0.3 +
		volumeComponent*0.3 +
		float64(diversity)*0.2 +
		trendPoints(trend)*0.2

	return MetricBundle{
		CreditScore:            clampScore(int(math.Floor(score))),
		MonthlyVolume:          int64(math.Floor(monthlyVolume)),
		AverageTicketSize:      int64(math.Floor(averageTicket)),
		CustomerDiversityScore: diversity,
		GrowthTrend:            trend,
		ConsistencyScore:       consistency,
		ActivityFrequency:      frequencyFor(avgPerDay),
	}
}

// sortLedger orders by occurrence time with deterministic tie-breaks so the
// half-split below never depends on the caller's ordering.
func sortLedger(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		return a.Counterparty < b.Counterparty
	})
}

func diversityScore(txs []Transaction) int {
	seen := map[string]struct{}{}
	for _, tx := range txs {
		if tx.Counterparty != "" {
			seen[tx.Counterparty] = struct{}{}
		}
	}
	score := int(math.Floor(float64(len(seen)) / 50.0 * 100.0))
	if score > 100 {
		score = 100
	}
	return score
}

// growthTrend compares the volume of the two halves of the sorted ledger.
func growthTrend(sorted []Transaction) GrowthTrend {
	mid := len(sorted) / 2
	var firstHalf, secondHalf int64
	for _, tx := range sorted[:mid] {
		firstHalf += absAmount(tx.Amount)
	}
	for _, tx := range sorted[mid:] {
		secondHalf += absAmount(tx.Amount)
	}
	switch {
	case float64(secondHalf) > float64(firstHalf)*growingFactor:
		return TrendGrowing
	case float64(secondHalf) < float64(firstHalf)*decliningFactor:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func frequencyFor(avgPerDay float64) ActivityFrequency {
	switch {
	case avgPerDay >= 5:
		return FrequencyHigh
	case avgPerDay >= 2:
		return FrequencyMedium
	default:
		return FrequencyLow
	}
}

func trendPoints(trend GrowthTrend) float64 {
	switch trend {
	case TrendGrowing:
		return trendPointsGrowing
	case TrendDeclining:
		return trendPointsDeclining
	default:
		return trendPointsStable
	}
}

func absAmount(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
