package prover

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/tillproof/internal/credit"
)

func sampleLedger() []credit.Transaction {
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	parties := []string{"c1", "c2", "c3", "c4"}
	txs := make([]credit.Transaction, 4)
	for i := range txs {
		txs[i] = credit.Transaction{
			OccurredAt:   base.AddDate(0, 0, i),
			Amount:       1000,
			Kind:         credit.KindPayment,
			Counterparty: parties[i],
		}
	}
	return txs
}

func TestProveProducesVerifiableAttestation(t *testing.T) {
	p := NewLocalProver([]byte("test-key"), 0)
	ledger := sampleLedger()

	var reports []int
	res, err := p.Prove(context.Background(), ledger, func(pct int) { reports = append(reports, pct) })
	if err != nil {
		t.Fatalf("Prove() error = %v", err)
	}
	if want := credit.Compute(ledger); res.Bundle != want {
		t.Errorf("bundle = %+v, want recompute %+v", res.Bundle, want)
	}
	if err := p.VerifyAttestation(res.Attestation, res.Bundle); err != nil {
		t.Errorf("VerifyAttestation() error = %v", err)
	}
	if len(reports) == 0 || reports[len(reports)-1] != 100 {
		t.Errorf("progress reports = %v, want final 100", reports)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("progress regressed: %v", reports)
		}
	}
}

func TestProveRejectsEmptyLedger(t *testing.T) {
	p := NewLocalProver([]byte("test-key"), 0)
	_, err := p.Prove(context.Background(), nil, nil)

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindRejectedInput {
		t.Fatalf("Prove(empty) error = %v, want KindRejectedInput", err)
	}
}

func TestVerifyAttestationRejectsTampering(t *testing.T) {
	p := NewLocalProver([]byte("test-key"), 0)
	ledger := sampleLedger()
	res, err := p.Prove(context.Background(), ledger, nil)
	if err != nil {
		t.Fatalf("Prove() error = %v", err)
	}

	other := res.Bundle
	other.CreditScore++
	if err := p.VerifyAttestation(res.Attestation, other); err == nil {
		t.Error("VerifyAttestation() accepted a swapped bundle")
	}

	var env envelope
	if err := json.Unmarshal(res.Attestation, &env); err != nil {
		t.Fatalf("unmarshal attestation: %v", err)
	}
	env.LedgerDigest = env.BundleDigest
	forged, _ := json.Marshal(env)
	if err := p.VerifyAttestation(forged, res.Bundle); err == nil {
		t.Error("VerifyAttestation() accepted a modified envelope")
	}

	if err := p.VerifyAttestation([]byte("not json"), res.Bundle); err == nil {
		t.Error("VerifyAttestation() accepted garbage")
	}

	stranger := NewLocalProver([]byte("other-key"), 0)
	if err := stranger.VerifyAttestation(res.Attestation, res.Bundle); err == nil {
		t.Error("VerifyAttestation() accepted an attestation sealed under another key")
	}
}

func TestProveHonorsDeadline(t *testing.T) {
	p := NewLocalProver([]byte("test-key"), 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Prove(ctx, sampleLedger(), nil)

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindTimeout {
		t.Fatalf("Prove() with expired deadline error = %v, want KindTimeout", err)
	}
}

func TestProveHonorsCancellation(t *testing.T) {
	p := NewLocalProver([]byte("test-key"), 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Prove(ctx, sampleLedger(), nil)

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindBackend {
		t.Fatalf("Prove() with canceled context error = %v, want KindBackend", err)
	}
}

func TestAttestationIsOrderIndependent(t *testing.T) {
	_ = NewLocalProver([]byte("test-key"), 0)
	ledger := sampleLedger()
	reversed := make([]credit.Transaction, len(ledger))
	for i, tx := range ledger {
		reversed[len(ledger)-1-i] = tx
	}

	if got, want := commitLedger(reversed), commitLedger(ledger); got != want {
		t.Errorf("ledger commitment depends on input order: %s vs %s", got, want)
	}
}
