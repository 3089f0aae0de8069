package credit

import "time"

// Kind is the normalized transaction category. Ingestion collapses every raw
// provider category into one of these before a ledger reaches the engine.
type Kind string

const (
	KindPayment  Kind = "Payment"
	KindReversal Kind = "Reversal"
)

// Transaction is one immutable ledger entry. Amount is in minor currency
// units and is never zero; Counterparty is a pre-anonymized token or empty.
type Transaction struct {
	OccurredAt   time.Time `json:"occurredAt"`
	Amount       int64     `json:"amount"`
	Kind         Kind      `json:"kind"`
	Counterparty string    `json:"counterparty,omitempty"`
}

// GrowthTrend classifies volume movement between the two halves of a ledger.
type GrowthTrend string

const (
	TrendGrowing   GrowthTrend = "Growing"
	TrendStable    GrowthTrend = "Stable"
	TrendDeclining GrowthTrend = "Declining"
)

// ActivityFrequency buckets average transactions per day.
type ActivityFrequency string

const (
	FrequencyHigh   ActivityFrequency = "High"
	FrequencyMedium ActivityFrequency = "Medium"
	FrequencyLow    ActivityFrequency = "Low"
)

// MetricBundle is the fixed set of derived creditworthiness metrics. All
// bounded scores are clamped to [0,100]; amounts are minor currency units.
type MetricBundle struct {
	CreditScore            int               `json:"creditScore"`
	MonthlyVolume          int64             `json:"monthlyVolume"`
	AverageTicketSize      int64             `json:"averageTicketSize"`
	CustomerDiversityScore int               `json:"customerDiversityScore"`
	GrowthTrend            GrowthTrend       `json:"growthTrend"`
	ConsistencyScore       int               `json:"consistencyScore"`
	ActivityFrequency      ActivityFrequency `json:"activityFrequency"`
}

// ZeroBundle is the bundle for an empty ledger.
func ZeroBundle() MetricBundle {
	return MetricBundle{
		GrowthTrend:       TrendStable,
		ActivityFrequency: FrequencyLow,
	}
}
