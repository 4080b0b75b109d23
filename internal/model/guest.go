// Package model defines domain models and data structures.
package model

import "time"

// AttendanceStatus represents a guest's attendance confirmation state.
type AttendanceStatus string

const (
	// StatusUnconfirmed means the guest has not responded yet.
	StatusUnconfirmed AttendanceStatus = "unconfirmed"
	// StatusConfirmed means the guest confirmed attendance.
	StatusConfirmed AttendanceStatus = "confirmed"
	// StatusDeclined means the guest declined attendance.
	StatusDeclined AttendanceStatus = "declined"
)

// Guest represents one invited guest. The email is treated as the natural
// key for matching check-in events to guests. CheckedInAt is nil until the
// first accepted check-in; a non-nil CheckedInAt implies StatusConfirmed.
type Guest struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Name            string           `json:"name"`
	Status          AttendanceStatus `json:"status"`
	CheckedInAt     *time.Time       `json:"checked_in_at,omitempty"`
	CheckedInSource Origin           `json:"checked_in_source,omitempty"`
}

// CheckedIn reports whether the guest already has an accepted arrival.
func (g *Guest) CheckedIn() bool {
	return g.CheckedInAt != nil
}

// Clone returns a deep copy of the guest.
func (g *Guest) Clone() *Guest {
	c := *g
	if g.CheckedInAt != nil {
		t := *g.CheckedInAt
		c.CheckedInAt = &t
	}
	return &c
}
