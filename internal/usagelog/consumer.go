package usagelog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/liftlog/liftlog-api/internal/metrics"
	inats "github.com/liftlog/liftlog-api/internal/nats"
)

const consumerName = "quota-event-persister"

type inserter interface {
	Insert(ctx context.Context, e *Event) error
}

// Consumer persists quota events from JetStream into the usage log.
type Consumer struct {
	repo        inserter
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(repo *Repository, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectQuotaEvent)
	if err != nil {
		return err
	}

	slog.Info("usage log consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("usage log consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event inats.QuotaEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		// A malformed payload never becomes valid; drop it.
		slog.Error("usage log consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	if err := c.record(ctx, event); err != nil {
		slog.Error("usage log consumer: persisting event", "error", err, "family", event.Family, "outcome", event.Outcome)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

func (c *Consumer) record(ctx context.Context, event inats.QuotaEvent) error {
	e := eventFromMessage(event)
	if err := c.repo.Insert(ctx, e); err != nil {
		return err
	}
	metrics.QuotaEventsRecordedTotal.WithLabelValues(e.Outcome).Inc()
	slog.Debug("usage log consumer: persisted event",
		"user_id", e.UserID,
		"family", e.Family,
		"outcome", e.Outcome,
	)
	return nil
}

// eventFromMessage converts a published QuotaEvent into a usage log row.
// Ids that are not UUIDs are replaced so the row can still be stored.
func eventFromMessage(event inats.QuotaEvent) *Event {
	id, err := uuid.Parse(event.ID)
	if err != nil {
		id = uuid.New()
	}
	return &Event{
		ID:        id,
		UserID:    event.UserID,
		Family:    event.Family,
		Outcome:   event.Outcome,
		Remaining: event.Remaining,
		CreatedAt: event.Timestamp,
	}
}
