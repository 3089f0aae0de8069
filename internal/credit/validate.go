package credit

import (
	"fmt"
	"time"
)

// ValidationIssue describes one malformed ledger entry.
type ValidationIssue struct {
	Code    string `json:"code"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (v ValidationIssue) Error() string {
	return fmt.Sprintf("%s at index %d: %s", v.Code, v.Index, v.Message)
}

// ValidateLedger checks the invariants ingestion is supposed to guarantee:
// non-zero amounts, instants in the past, normalized kinds. A non-empty
// result means the ledger must be rejected before any session is created.
func ValidateLedger(ledger []Transaction, now time.Time) []ValidationIssue {
	issues := make([]ValidationIssue, 0)
	for i, tx := range ledger {
		if tx.Amount == 0 {
			issues = append(issues, ValidationIssue{Code: "LEDGER-ZERO-AMOUNT", Index: i, Message: "amount must be non-zero"})
		}
		if tx.OccurredAt.IsZero() {
			issues = append(issues, ValidationIssue{Code: "LEDGER-NO-INSTANT", Index: i, Message: "occurredAt is required"})
		} else if tx.OccurredAt.After(now) {
			issues = append(issues, ValidationIssue{Code: "LEDGER-FUTURE", Index: i, Message: "occurredAt is in the future"})
		}
		if tx.Kind != KindPayment && tx.Kind != KindReversal {
			issues = append(issues, ValidationIssue{Code: "LEDGER-BAD-KIND", Index: i, Message: fmt.Sprintf("kind %q is not normalized", tx.Kind)})
		}
	}
	return issues
}
