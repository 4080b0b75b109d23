package model

import "errors"

var (
	// ErrInvalidEmail is returned when a guest email is missing or malformed.
	ErrInvalidEmail = errors.New("invalid guest email")
	// ErrInvalidTimestamp is returned when a check-in timestamp is zero.
	ErrInvalidTimestamp = errors.New("invalid check-in timestamp")
	// ErrInvalidOrigin is returned when an event origin is not local or remote.
	ErrInvalidOrigin = errors.New("invalid event origin")
	// ErrInvalidSource is returned when a wire source value is not offline or online.
	ErrInvalidSource = errors.New("invalid event source")
	// ErrGuestNotFound is returned when no guest matches the event's email.
	ErrGuestNotFound = errors.New("guest not found")
	// ErrAlreadyCheckedIn is returned by the client-side guard when the cached
	// guest already shows an accepted arrival.
	ErrAlreadyCheckedIn = errors.New("guest already checked in")
)

// FailureReason maps a validation or business error to its wire reason code.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return ReasonInvalidEmail
	case errors.Is(err, ErrInvalidTimestamp):
		return ReasonInvalidTimestamp
	case errors.Is(err, ErrInvalidOrigin), errors.Is(err, ErrInvalidSource):
		return ReasonInvalidSource
	case errors.Is(err, ErrGuestNotFound):
		return ReasonGuestNotFound
	default:
		return err.Error()
	}
}
