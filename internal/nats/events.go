package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "LIFTLOG_EVENTS"
)

// Subject constants.
const (
	SubjectQuotaEvent = "liftlog.events.quota"
)

// Quota event outcomes.
const (
	OutcomeGranted  = "granted"
	OutcomeExceeded = "exceeded"
	OutcomeRefunded = "refunded"
)

// QuotaEvent is published after every ledger decision that changed a record.
type QuotaEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Family    string         `json:"family"`
	Outcome   string         `json:"outcome"`
	Remaining map[string]int `json:"remaining"`
	Timestamp time.Time      `json:"timestamp"`
}
