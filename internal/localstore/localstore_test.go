package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorlist/doorlist/internal/model"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()

	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestGuestCacheRoundTrip(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	at := time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)
	guests := []*model.Guest{
		{ID: "g1", Email: "Ada@Example.com", Name: "Ada", Status: model.StatusConfirmed, CheckedInAt: &at, CheckedInSource: model.OriginRemote},
		{ID: "g2", Email: "bob@example.com", Name: "Bob", Status: model.StatusUnconfirmed},
	}
	require.NoError(t, s.CacheGuests(ctx, guests))

	// Lookup is case-insensitive on email.
	g, err := s.LookupGuestByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, model.StatusConfirmed, g.Status)
	require.NotNil(t, g.CheckedInAt)
	assert.True(t, g.CheckedInAt.Equal(at))
	assert.Equal(t, model.OriginRemote, g.CheckedInSource)

	g, err = s.LookupGuestByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, g.CheckedInAt)

	_, err = s.LookupGuestByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, model.ErrGuestNotFound)
}

func TestCacheGuestsUpdatesExisting(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.CacheGuests(ctx, []*model.Guest{
		{ID: "g1", Email: "ada@example.com", Status: model.StatusUnconfirmed},
	}))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CacheGuests(ctx, []*model.Guest{
		{ID: "g1", Email: "ada@example.com", Status: model.StatusConfirmed, CheckedInAt: &at},
	}))

	g, err := s.LookupGuestByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, g.Status)
	require.NotNil(t, g.CheckedInAt)
}

func TestOutboxLifecycle(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	at := time.Date(2026, 6, 14, 9, 58, 0, 0, time.UTC)
	id, err := s.Enqueue(ctx, &model.CheckinEvent{
		GuestID:     "g1",
		GuestEmail:  "ada@example.com",
		CheckedInAt: at,
		Origin:      model.OriginLocal,
		Operator:    "front-desk",
		Metadata:    map[string]string{"station": "east"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	entry := pending[0]
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, "ada@example.com", entry.Event.GuestEmail)
	assert.True(t, entry.Event.CheckedInAt.Equal(at))
	assert.Equal(t, model.OriginLocal, entry.Event.Origin)
	assert.Equal(t, "east", entry.Event.Metadata["station"])

	require.NoError(t, s.MarkDelivered(ctx, id))

	pending, err = s.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "delivered entries must not be resubmitted")

	require.NoError(t, s.Remove(ctx, id))
}

func TestOutboxPreservesEnqueueOrder(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	base := time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, &model.CheckinEvent{
			GuestEmail:  "ada@example.com",
			CheckedInAt: base.Add(time.Duration(i) * time.Minute),
			Origin:      model.OriginLocal,
		})
		require.NoError(t, err)
	}

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, entry := range pending {
		assert.True(t, entry.Event.CheckedInAt.Equal(base.Add(time.Duration(i)*time.Minute)), "entry %d out of order", i)
	}
}

// Pending entries must survive a process restart.
func TestOutboxSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)

	at := time.Date(2026, 6, 14, 9, 58, 0, 0, time.UTC)
	id, err := s.Enqueue(ctx, &model.CheckinEvent{
		GuestEmail:  "ada@example.com",
		CheckedInAt: at,
		Origin:      model.OriginLocal,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.True(t, pending[0].Event.CheckedInAt.Equal(at))
}
