package model

import (
	"net/mail"
	"time"
)

// Origin denotes how a check-in event was captured: while disconnected
// (local) or while connected (remote). At equal timestamps remote-origin
// events take precedence.
type Origin string

const (
	// OriginLocal marks an event captured while the client was offline.
	OriginLocal Origin = "local"
	// OriginRemote marks an event captured while the client was online.
	OriginRemote Origin = "remote"
)

// Wire representations of Origin used by the sync protocol.
const (
	SourceOffline = "offline"
	SourceOnline  = "online"
)

// Source returns the wire representation of the origin.
func (o Origin) Source() string {
	if o == OriginRemote {
		return SourceOnline
	}
	return SourceOffline
}

// OriginFromSource parses the wire source value into an Origin.
func OriginFromSource(source string) (Origin, error) {
	switch source {
	case SourceOffline:
		return OriginLocal, nil
	case SourceOnline:
		return OriginRemote, nil
	default:
		return "", ErrInvalidSource
	}
}

// CheckinEvent represents one attempt to mark a guest present. The
// timestamp is the operator-observed arrival time, not the submission
// time. Events are immutable once created.
type CheckinEvent struct {
	GuestID     string            `json:"guest_id,omitempty"`
	GuestEmail  string            `json:"guest_email"`
	CheckedInAt time.Time         `json:"checked_in_at"`
	Origin      Origin            `json:"origin"`
	Operator    string            `json:"operator,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the event before it is allowed to reach business logic.
// A validation failure is non-retryable and produces no audit record.
func (e *CheckinEvent) Validate() error {
	if e.GuestEmail == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(e.GuestEmail); err != nil {
		return ErrInvalidEmail
	}
	if e.CheckedInAt.IsZero() {
		return ErrInvalidTimestamp
	}
	if e.Origin != OriginLocal && e.Origin != OriginRemote {
		return ErrInvalidOrigin
	}
	return nil
}

// OutboxEntry wraps a CheckinEvent queued for delivery. It lives only in
// the client-side durable store: created by the producer, deleted by the
// dispatcher after the server has durably recorded an outcome for it.
type OutboxEntry struct {
	ID         string       `json:"id"`
	Event      CheckinEvent `json:"event"`
	Delivered  bool         `json:"delivered"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}
