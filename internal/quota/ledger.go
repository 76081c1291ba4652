package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liftlog/liftlog-api/internal/metrics"
	inats "github.com/liftlog/liftlog-api/internal/nats"
)

// EventSink receives a copy of every ledger decision. Publish failures are
// logged and never fail the ledger call.
type EventSink interface {
	PublishQuotaEvent(ctx context.Context, event inats.QuotaEvent) error
}

// Ledger decides, atomically, whether a user may consume one unit of a
// family's quota, and keeps the per-period counters behind that decision.
type Ledger struct {
	store    Store
	families map[Family]FamilyConfig
	now      func() time.Time
	loc      *time.Location
	events   EventSink
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the timezone calendar periods are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithEventSink publishes every decision to sink.
func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) { l.events = sink }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger creates a Ledger over store for the given families.
func NewLedger(store Store, families []FamilyConfig, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		families: make(map[Family]FamilyConfig, len(families)),
		now:      time.Now,
		loc:      time.UTC,
		logger:   slog.Default(),
	}
	for _, f := range families {
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("invalid quota family: %w", err)
		}
		l.families[f.Family] = f
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Family returns the configuration for f.
func (l *Ledger) Family(f Family) (FamilyConfig, bool) {
	cfg, ok := l.families[f]
	return cfg, ok
}

func (l *Ledger) clock() time.Time {
	return l.now().In(l.loc)
}

func (l *Ledger) resolve(family Family, userID string) (FamilyConfig, error) {
	if userID == "" {
		return FamilyConfig{}, fmt.Errorf("%w: empty user id", ErrInvalidRequest)
	}
	cfg, ok := l.families[family]
	if !ok {
		return FamilyConfig{}, fmt.Errorf("%w: unknown family %q", ErrInvalidRequest, family)
	}
	return cfg, nil
}

// CheckAndConsume grants one unit of family's quota to userID if every tracked
// period has allowance left. A denied request returns an *ExceededError along
// with the result; store failures wrap ErrLedgerUnavailable.
func (l *Ledger) CheckAndConsume(ctx context.Context, family Family, userID string) (CheckResult, error) {
	cfg, err := l.resolve(family, userID)
	if err != nil {
		return CheckResult{}, err
	}

	var result CheckResult
	err = l.store.Update(ctx, family, userID, func(current *Record) (*Record, error) {
		now := l.clock()

		rec := newRecord(family, userID)
		if current != nil {
			rec = current.clone()
		}
		applyResets(cfg, rec, now)

		rec.LastRequestAt = now
		if isExhausted(cfg, rec) {
			rec.QuotaExceededCount++
			result = CheckResult{Family: family, Granted: false, Remaining: remaining(cfg, rec)}
			return rec, nil
		}

		for _, p := range cfg.Periods() {
			c := rec.Counters[p]
			c.Count++
			rec.Counters[p] = c
		}
		rec.TotalRequests++
		if rec.FirstRequestAt.IsZero() {
			rec.FirstRequestAt = now
		}
		result = CheckResult{Family: family, Granted: true, Remaining: remaining(cfg, rec)}
		return rec, nil
	})
	if err != nil {
		metrics.QuotaLedgerErrorsTotal.WithLabelValues(string(family)).Inc()
		l.logger.Error("quota: check-and-consume failed", "family", family, "user_id", userID, "error", err)
		return CheckResult{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	if !result.Granted {
		metrics.QuotaDecisionsTotal.WithLabelValues(string(family), inats.OutcomeExceeded).Inc()
		l.logger.Info("quota: exceeded", "family", family, "user_id", userID, "remaining", result.Remaining)
		l.publish(ctx, userID, family, inats.OutcomeExceeded, result.Remaining)
		return result, &ExceededError{Family: family, Remaining: result.Remaining}
	}

	metrics.QuotaDecisionsTotal.WithLabelValues(string(family), inats.OutcomeGranted).Inc()
	l.logger.Debug("quota: granted", "family", family, "user_id", userID, "remaining", result.Remaining)
	l.publish(ctx, userID, family, inats.OutcomeGranted, result.Remaining)
	return result, nil
}

// Refund gives back one previously consumed unit. It is a no-op for users
// with no record, and never raises the remaining allowance above the limit.
// Failures wrap ErrRefundFailed; callers should log them and carry on.
func (l *Ledger) Refund(ctx context.Context, family Family, userID string) error {
	cfg, err := l.resolve(family, userID)
	if err != nil {
		return err
	}
	if !cfg.Refundable {
		return fmt.Errorf("%w: %s", ErrNotRefundable, family)
	}

	var (
		refunded bool
		left     map[Period]int
	)
	err = l.store.Update(ctx, family, userID, func(current *Record) (*Record, error) {
		refunded = false
		if current == nil {
			return nil, nil
		}

		rec := current.clone()
		applyResets(cfg, rec, l.clock())
		for _, p := range cfg.Periods() {
			c := rec.Counters[p]
			if c.Count > 0 {
				c.Count--
				refunded = true
			}
			rec.Counters[p] = c
		}
		left = remaining(cfg, rec)
		return rec, nil
	})
	if err != nil {
		metrics.QuotaRefundsTotal.WithLabelValues(string(family), "error").Inc()
		return fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}

	if !refunded {
		metrics.QuotaRefundsTotal.WithLabelValues(string(family), "noop").Inc()
		return nil
	}
	metrics.QuotaRefundsTotal.WithLabelValues(string(family), "ok").Inc()
	l.logger.Info("quota: refunded", "family", family, "user_id", userID, "remaining", left)
	l.publish(ctx, userID, family, inats.OutcomeRefunded, left)
	return nil
}

// Usage reports the user's current standing without modifying the record.
func (l *Ledger) Usage(ctx context.Context, family Family, userID string) (Usage, error) {
	cfg, err := l.resolve(family, userID)
	if err != nil {
		return Usage{}, err
	}

	current, err := l.store.Get(ctx, family, userID)
	if err != nil {
		metrics.QuotaLedgerErrorsTotal.WithLabelValues(string(family)).Inc()
		return Usage{}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	now := l.clock()
	rec := newRecord(family, userID)
	if current != nil {
		rec = current.clone()
	}
	applyResets(cfg, rec, now)

	u := Usage{
		Family:    family,
		Limits:    make(Limits, len(cfg.Limits)),
		Used:      make(map[Period]int, len(cfg.Limits)),
		Remaining: remaining(cfg, rec),
		ResetsAt:  make(map[Period]time.Time, len(cfg.Limits)),
	}
	for _, p := range cfg.Periods() {
		u.Limits[p] = cfg.Limits[p]
		u.Used[p] = rec.Counters[p].Count
		u.ResetsAt[p] = NextReset(now, p)
	}
	return u, nil
}

func (l *Ledger) publish(ctx context.Context, userID string, family Family, outcome string, left map[Period]int) {
	if l.events == nil {
		return
	}

	rem := make(map[string]int, len(left))
	for p, n := range left {
		rem[string(p)] = n
	}
	event := inats.QuotaEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Family:    string(family),
		Outcome:   outcome,
		Remaining: rem,
		Timestamp: l.clock().UTC(),
	}
	if err := l.events.PublishQuotaEvent(ctx, event); err != nil {
		l.logger.Warn("quota: publishing event failed", "outcome", outcome, "error", err)
	}
}

// applyResets zeroes every counter whose marker lies in an earlier calendar
// period and moves the marker to now.
func applyResets(cfg FamilyConfig, rec *Record, now time.Time) {
	for _, p := range cfg.Periods() {
		c := rec.Counters[p]
		if PeriodBoundaryCrossed(c.LastReset, p, now) {
			c.Count = 0
			c.LastReset = now
		}
		rec.Counters[p] = c
	}
}

func isExhausted(cfg FamilyConfig, rec *Record) bool {
	for _, p := range cfg.Periods() {
		if rec.Counters[p].Count >= cfg.Limits[p] {
			return true
		}
	}
	return false
}

func remaining(cfg FamilyConfig, rec *Record) map[Period]int {
	out := make(map[Period]int, len(cfg.Limits))
	for _, p := range cfg.Periods() {
		out[p] = max(0, cfg.Limits[p]-rec.Counters[p].Count)
	}
	return out
}

// IsExceeded reports whether err is a quota denial and returns its details.
func IsExceeded(err error) (*ExceededError, bool) {
	var ex *ExceededError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
