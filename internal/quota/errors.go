package quota

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrQuotaExceeded matches any *ExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrLedgerUnavailable wraps every store failure, including retry
	// exhaustion, so callers never mistake an outage for rate limiting.
	ErrLedgerUnavailable = errors.New("quota ledger unavailable")

	// ErrTxConflict is returned by stores when optimistic retries run out.
	ErrTxConflict = errors.New("transaction conflict: retries exhausted")

	ErrRefundFailed   = errors.New("quota refund failed")
	ErrNotRefundable  = errors.New("family does not support refunds")
	ErrInvalidRequest = errors.New("invalid quota request")
)

// ExceededError reports a denied request with the remaining allowance per period.
type ExceededError struct {
	Family    Family
	Remaining map[Period]int
}

func (e *ExceededError) Error() string {
	keys := make([]string, 0, len(e.Remaining))
	for p := range e.Remaining {
		keys = append(keys, string(p))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Remaining[Period(k)]))
	}
	return fmt.Sprintf("quota exceeded for %s (remaining %s)", e.Family, strings.Join(parts, ", "))
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
