package quota

import "time"

// Counter is one period's usage and the instant it was last zeroed.
type Counter struct {
	Count     int       `json:"count"`
	LastReset time.Time `json:"lastReset"`
}

// Record is the persisted ledger document for one user in one family.
// Counts are units consumed in the current period.
type Record struct {
	UserID             string             `json:"userId"`
	Family             Family             `json:"family"`
	Counters           map[Period]Counter `json:"counters"`
	TotalRequests      int64              `json:"totalRequests"`
	FirstRequestAt     time.Time          `json:"firstRequestAt"`
	LastRequestAt      time.Time          `json:"lastRequestAt"`
	QuotaExceededCount int64              `json:"quotaExceededCount"`
}

func newRecord(family Family, userID string) *Record {
	return &Record{
		UserID:   userID,
		Family:   family,
		Counters: make(map[Period]Counter),
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.Counters = make(map[Period]Counter, len(r.Counters))
	for p, v := range r.Counters {
		c.Counters[p] = v
	}
	return &c
}

// CheckResult is the outcome of a CheckAndConsume call.
type CheckResult struct {
	Family    Family         `json:"family"`
	Granted   bool           `json:"granted"`
	Remaining map[Period]int `json:"remaining"`
}

// Usage is a read-only snapshot of a user's standing in one family.
type Usage struct {
	Family    Family               `json:"family"`
	Limits    Limits               `json:"limits"`
	Used      map[Period]int       `json:"used"`
	Remaining map[Period]int       `json:"remaining"`
	ResetsAt  map[Period]time.Time `json:"resets_at"`
}
