package usagelog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event matches the quota_events table schema.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	UserID    string         `json:"user_id"`
	Family    string         `json:"family"`
	Outcome   string         `json:"outcome"`
	Remaining map[string]int `json:"remaining"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for event queries.
type ListParams struct {
	Family   string
	Outcome  string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

func remainingJSON(m map[string]int) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
