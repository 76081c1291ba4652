package quota

import "context"

// UpdateFunc receives the current record (nil when the user has none yet) and
// returns the record to persist, or nil to leave storage untouched. Stores
// with optimistic transactions may call it more than once, so it must not
// have side effects beyond its return value and captured result variables.
type UpdateFunc func(rec *Record) (*Record, error)

// Store persists ledger records. Update must run fn inside a single atomic
// read-modify-write and return ErrTxConflict once its retries are spent.
type Store interface {
	Get(ctx context.Context, family Family, userID string) (*Record, error)
	Update(ctx context.Context, family Family, userID string, fn UpdateFunc) error
}
