package prover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yourorg/tillproof/internal/credit"
)

const attestationAlg = "HMAC-SHA256"

// envelope is the serialized attestation. The MAC binds the ledger commitment
// to the bundle digest under the prover key, so a bundle swapped after proving
// fails re-verification.
type envelope struct {
	Alg          string `json:"alg"`
	LedgerDigest string `json:"ledgerDigest"`
	BundleDigest string `json:"bundleDigest"`
	IssuedAt     int64  `json:"issuedAt"`
	MAC          string `json:"mac"`
}

// LocalProver recomputes bundles in-process and seals them with a keyed MAC.
// It stands in for the external zero-knowledge backend behind the same
// contract: deterministic recompute, opaque attestation, re-verification
// before results are released.
type LocalProver struct {
	key       []byte
	stepDelay time.Duration
}

// NewLocalProver builds a prover sealing attestations with key. stepDelay
// spaces the proving stages apart to simulate backend latency; zero is valid
// and keeps tests fast.
func NewLocalProver(key []byte, stepDelay time.Duration) *LocalProver {
	return &LocalProver{key: key, stepDelay: stepDelay}
}

func (p *LocalProver) Prove(ctx context.Context, ledger []credit.Transaction, progress ProgressFunc) (Result, error) {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	if len(ledger) == 0 {
		return Result{}, &Error{Kind: KindRejectedInput, Message: "ledger is empty"}
	}

	report(10)
	if err := p.pause(ctx); err != nil {
		return Result{}, err
	}

	bundle := credit.Compute(ledger)
	report(60)
	if err := p.pause(ctx); err != nil {
		return Result{}, err
	}

	attestation, err := p.seal(ledger, bundle)
	if err != nil {
		return Result{}, &Error{Kind: KindBackend, Message: err.Error()}
	}
	report(90)

	// Independent re-verification; never trust the proving path's own output.
	if err := p.VerifyAttestation(attestation, bundle); err != nil {
		return Result{}, &Error{Kind: KindInvalidAttestation, Message: err.Error()}
	}
	report(100)

	return Result{Bundle: bundle, Attestation: attestation}, nil
}

func (p *LocalProver) VerifyAttestation(attestation []byte, bundle credit.MetricBundle) error {
	var env envelope
	if err := json.Unmarshal(attestation, &env); err != nil {
		return fmt.Errorf("malformed attestation: %w", err)
	}
	if env.Alg != attestationAlg {
		return fmt.Errorf("unsupported attestation algorithm %q", env.Alg)
	}

	wantBundle, err := bundleDigest(bundle)
	if err != nil {
		return err
	}
	if env.BundleDigest != wantBundle {
		return errors.New("attestation does not cover this bundle")
	}

	mac, err := hex.DecodeString(env.MAC)
	if err != nil {
		return fmt.Errorf("malformed attestation mac: %w", err)
	}
	if !hmac.Equal(mac, p.mac(env)) {
		return errors.New("attestation mac mismatch")
	}
	return nil
}

func (p *LocalProver) seal(ledger []credit.Transaction, bundle credit.MetricBundle) ([]byte, error) {
	ledgerDigest := commitLedger(ledger)
	bd, err := bundleDigest(bundle)
	if err != nil {
		return nil, err
	}
	env := envelope{
		Alg:          attestationAlg,
		LedgerDigest: ledgerDigest,
		BundleDigest: bd,
		IssuedAt:     time.Now().UTC().Unix(),
	}
	env.MAC = hex.EncodeToString(p.mac(env))
	return json.Marshal(env)
}

func (p *LocalProver) mac(env envelope) []byte {
	h := hmac.New(sha256.New, p.key)
	h.Write([]byte(env.Alg))
	h.Write([]byte(env.LedgerDigest))
	h.Write([]byte(env.BundleDigest))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(env.IssuedAt))
	h.Write(ts[:])
	return h.Sum(nil)
}

func (p *LocalProver) pause(ctx context.Context) error {
	if p.stepDelay <= 0 {
		if err := ctx.Err(); err != nil {
			return ctxError(err)
		}
		return nil
	}
	select {
	case <-time.After(p.stepDelay):
		return nil
	case <-ctx.Done():
		return ctxError(ctx.Err())
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "proving budget exceeded"}
	}
	return &Error{Kind: KindBackend, Message: err.Error()}
}

// commitLedger hashes the ledger in a canonical order so the commitment is
// independent of the caller's ordering.
func commitLedger(ledger []credit.Transaction) string {
	txs := make([]credit.Transaction, len(ledger))
	copy(txs, ledger)
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		return a.Counterparty < b.Counterparty
	})

	h := sha256.New()
	for _, tx := range txs {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[:8], uint64(tx.OccurredAt.UTC().Unix()))
		binary.BigEndian.PutUint64(buf[8:], uint64(tx.Amount))
		h.Write(buf[:])
		h.Write([]byte(tx.Kind))
		h.Write([]byte{0})
		h.Write([]byte(tx.Counterparty))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func bundleDigest(bundle credit.MetricBundle) (string, error) {
	b, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("bundle digest: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
