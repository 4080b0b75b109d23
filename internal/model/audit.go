package model

import "time"

// Reason codes recorded on audit records and reported to sync callers.
const (
	ReasonGuestNotFound    = "guest_not_found"
	ReasonDuplicate        = "duplicate"
	ReasonOlderOffline     = "older_offline"
	ReasonSameTimestamp    = "same_timestamp"
	ReasonInvalidEmail     = "invalid_email"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonInvalidSource    = "invalid_source"
)

// Resolution outcomes recorded on audit records.
const (
	ResolutionApplied          = "applied"
	ResolutionKeptExisting     = "kept=existing"
	ResolutionReplacedExisting = "replaced=existing"
	ResolutionKeptRemote       = "kept=remote"
	ResolutionRejected         = "rejected"
)

// AuditRecord is the immutable trail of one processed check-in attempt,
// written exactly once per event that reaches the resolver, whether or
// not it changed guest state. Only the reconciliation service writes it.
type AuditRecord struct {
	ID                string     `json:"id"`
	GuestEmail        string     `json:"guest_email"`
	EventTimestamp    time.Time  `json:"event_timestamp"`
	Origin            Origin     `json:"origin"`
	Actor             string     `json:"actor"`
	Conflict          bool       `json:"conflict"`
	Reason            string     `json:"reason,omitempty"`
	Resolution        string     `json:"resolution"`
	ExistingTimestamp *time.Time `json:"existing_timestamp,omitempty"`
	DetectedAt        time.Time  `json:"detected_at"`
}
