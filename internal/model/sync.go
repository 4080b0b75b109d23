package model

import "time"

// CheckinPayload is the wire form of one check-in attempt in a sync batch.
type CheckinPayload struct {
	GuestEmail  string            `json:"guest_email"`
	CheckedInAt time.Time         `json:"checked_in_at"`
	Source      string            `json:"source"`
	Operator    string            `json:"operator,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Event converts the payload into a domain event. The returned event is
// not yet validated.
func (p *CheckinPayload) Event() (*CheckinEvent, error) {
	origin, err := OriginFromSource(p.Source)
	if err != nil {
		return nil, err
	}
	return &CheckinEvent{
		GuestEmail:  p.GuestEmail,
		CheckedInAt: p.CheckedInAt,
		Origin:      origin,
		Operator:    p.Operator,
		Metadata:    p.Metadata,
	}, nil
}

// Payload converts a domain event into its wire form.
func (e *CheckinEvent) Payload() CheckinPayload {
	return CheckinPayload{
		GuestEmail:  e.GuestEmail,
		CheckedInAt: e.CheckedInAt,
		Source:      e.Origin.Source(),
		Operator:    e.Operator,
		Metadata:    e.Metadata,
	}
}

// SyncRequest is the body of POST /checkins:sync.
type SyncRequest struct {
	Checks []CheckinPayload `json:"checks"`
}

// SyncFailure reports one event that the server could not apply. The
// timestamp disambiguates multiple queued events for the same guest, and
// Retryable tells the dispatcher whether resubmission can ever succeed.
type SyncFailure struct {
	GuestEmail  string    `json:"guest_email"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Reason      string    `json:"reason"`
	Retryable   bool      `json:"retryable"`
}

// SyncResponse is the result of a sync batch. SuccessCount counts every
// event the server durably recorded an outcome for, including superseded
// duplicates that did not change state.
type SyncResponse struct {
	SuccessCount int           `json:"successCount"`
	Failed       []SyncFailure `json:"failed"`
}
