// Package stream publishes accepted arrivals to Redis Streams for
// downstream consumers such as the invitation linker.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/doorlist/doorlist/internal/model"
)

// Key is the Redis Stream accepted arrivals are published to.
const Key = "checkin:applied"

// EventTypeApplied is the event_type field value for accepted arrivals.
const EventTypeApplied = "checkin_applied"

// AppliedEvent is the payload published for every state-changing check-in.
type AppliedEvent struct {
	GuestID     string       `json:"guest_id"`
	GuestEmail  string       `json:"guest_email"`
	CheckedInAt time.Time    `json:"checked_in_at"`
	Origin      model.Origin `json:"origin"`
}

// Publisher writes applied check-ins to the stream.
type Publisher struct {
	client rueidis.Client
}

// NewPublisher creates a stream publisher.
func NewPublisher(client rueidis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishApplied appends one applied check-in to the stream.
func (p *Publisher) PublishApplied(ctx context.Context, guest *model.Guest, event *model.CheckinEvent) error {
	payload, err := json.Marshal(AppliedEvent{
		GuestID:     guest.ID,
		GuestEmail:  guest.Email,
		CheckedInAt: event.CheckedInAt,
		Origin:      event.Origin,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal applied event: %w", err)
	}

	cmd := p.client.B().Xadd().Key(Key).Id("*").
		FieldValue().FieldValue("event_type", EventTypeApplied).
		FieldValue("payload", string(payload)).
		Build()

	return p.client.Do(ctx, cmd).Error()
}
