package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckinEventValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   CheckinEvent
		wantErr error
	}{
		{
			name:  "valid local event",
			event: CheckinEvent{GuestEmail: "ada@example.com", CheckedInAt: now, Origin: OriginLocal},
		},
		{
			name:  "valid remote event",
			event: CheckinEvent{GuestEmail: "ada@example.com", CheckedInAt: now, Origin: OriginRemote},
		},
		{
			name:    "missing email",
			event:   CheckinEvent{CheckedInAt: now, Origin: OriginLocal},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "malformed email",
			event:   CheckinEvent{GuestEmail: "not-an-email", CheckedInAt: now, Origin: OriginLocal},
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "zero timestamp",
			event:   CheckinEvent{GuestEmail: "ada@example.com", Origin: OriginLocal},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name:    "unknown origin",
			event:   CheckinEvent{GuestEmail: "ada@example.com", CheckedInAt: now, Origin: Origin("carrier-pigeon")},
			wantErr: ErrInvalidOrigin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOriginFromSource(t *testing.T) {
	origin, err := OriginFromSource(SourceOffline)
	require.NoError(t, err)
	assert.Equal(t, OriginLocal, origin)

	origin, err = OriginFromSource(SourceOnline)
	require.NoError(t, err)
	assert.Equal(t, OriginRemote, origin)

	_, err = OriginFromSource("fax")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestOriginSourceRoundTrip(t *testing.T) {
	assert.Equal(t, SourceOffline, OriginLocal.Source())
	assert.Equal(t, SourceOnline, OriginRemote.Source())
}

func TestPayloadEventRoundTrip(t *testing.T) {
	at := time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)
	p := CheckinPayload{
		GuestEmail:  "ada@example.com",
		CheckedInAt: at,
		Source:      SourceOffline,
		Operator:    "front-desk",
	}

	ev, err := p.Event()
	require.NoError(t, err)
	assert.Equal(t, OriginLocal, ev.Origin)
	assert.Equal(t, p, ev.Payload())

	bad := CheckinPayload{Source: "fax"}
	_, err = bad.Event()
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestGuestClone(t *testing.T) {
	at := time.Now()
	g := &Guest{ID: "g1", Email: "ada@example.com", CheckedInAt: &at}

	c := g.Clone()
	require.NotNil(t, c.CheckedInAt)

	later := at.Add(time.Hour)
	c.CheckedInAt = &later
	assert.True(t, g.CheckedInAt.Equal(at), "clone must not share the timestamp pointer")
	assert.True(t, g.CheckedIn())
}
