// Package localstore provides the client-resident durable store: a
// read-only cache of known guests plus the outbox of pending check-in
// events. Both survive process restarts.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/doorlist/doorlist/internal/model"
)

// StorageError marks a local persistence fault. It is distinct from
// business-rule errors: a capture action that hits one must surface it to
// the operator immediately, since the event would otherwise be lost.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

const schema = `
CREATE TABLE IF NOT EXISTS guests (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL,
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'unconfirmed',
	checked_in_at     TIMESTAMP,
	checked_in_source TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_guests_email ON guests (email);

CREATE TABLE IF NOT EXISTS outbox_checkins (
	id            TEXT PRIMARY KEY,
	guest_id      TEXT NOT NULL DEFAULT '',
	guest_email   TEXT NOT NULL,
	checked_in_at TIMESTAMP NOT NULL,
	operator      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	delivered     INTEGER NOT NULL DEFAULT 0,
	enqueued_at   TIMESTAMP NOT NULL
);
`

// Store is the on-device durable store backing the producer and the
// dispatcher.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "doorlist.db")

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, storageErr("open", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CacheGuests replaces or inserts the given guests in the local cache.
func (s *Store) CacheGuests(ctx context.Context, guests []*model.Guest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("cache guests", err)
	}
	defer tx.Rollback()

	for _, g := range guests {
		var checkedInAt any
		if g.CheckedInAt != nil {
			checkedInAt = g.CheckedInAt.UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO guests (id, email, name, status, checked_in_at, checked_in_source)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				email = excluded.email,
				name = excluded.name,
				status = excluded.status,
				checked_in_at = excluded.checked_in_at,
				checked_in_source = excluded.checked_in_source`,
			g.ID, strings.ToLower(g.Email), g.Name, string(g.Status), checkedInAt, string(g.CheckedInSource))
		if err != nil {
			return storageErr("cache guests", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("cache guests", err)
	}

	return nil
}

// LookupGuestByEmail reads one guest from the cache.
func (s *Store) LookupGuestByEmail(ctx context.Context, email string) (*model.Guest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, status, checked_in_at, checked_in_source
		FROM guests WHERE email = ?`, strings.ToLower(email))

	var g model.Guest
	var status, source string
	var checkedInAt sql.NullTime
	if err := row.Scan(&g.ID, &g.Email, &g.Name, &status, &checkedInAt, &source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrGuestNotFound
		}

		return nil, storageErr("lookup guest", err)
	}
	g.Status = model.AttendanceStatus(status)
	g.CheckedInSource = model.Origin(source)
	if checkedInAt.Valid {
		t := checkedInAt.Time
		g.CheckedInAt = &t
	}

	return &g, nil
}

// MarkCachedCheckin optimistically updates the cached guest after a
// capture. The server remains the final arbiter; the cache is refreshed
// opportunistically from it.
func (s *Store) MarkCachedCheckin(ctx context.Context, email string, at time.Time, origin model.Origin) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE guests SET checked_in_at = ?, checked_in_source = ?, status = ?
		WHERE email = ?`,
		at.UTC(), string(origin), string(model.StatusConfirmed), strings.ToLower(email))
	if err != nil {
		return storageErr("mark cached checkin", err)
	}

	return nil
}

// Enqueue appends a check-in event to the outbox and returns the entry id.
// It either succeeds durably or reports a StorageError.
func (s *Store) Enqueue(ctx context.Context, event *model.CheckinEvent) (string, error) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return "", storageErr("enqueue", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_checkins (id, guest_id, guest_email, checked_in_at, operator, source, metadata, delivered, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, event.GuestID, strings.ToLower(event.GuestEmail), event.CheckedInAt.UTC(),
		event.Operator, event.Origin.Source(), string(metadata), time.Now().UTC())
	if err != nil {
		return "", storageErr("enqueue", err)
	}

	return id, nil
}

// ListPending returns all undelivered outbox entries in enqueue order.
func (s *Store) ListPending(ctx context.Context) ([]*model.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guest_id, guest_email, checked_in_at, operator, source, metadata, enqueued_at
		FROM outbox_checkins WHERE delivered = 0 ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	defer rows.Close()

	var entries []*model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		var source, metadata string
		if err := rows.Scan(&e.ID, &e.Event.GuestID, &e.Event.GuestEmail, &e.Event.CheckedInAt,
			&e.Event.Operator, &source, &metadata, &e.EnqueuedAt); err != nil {
			return nil, storageErr("list pending", err)
		}
		origin, err := model.OriginFromSource(source)
		if err != nil {
			origin = model.OriginLocal
		}
		e.Event.Origin = origin
		if metadata != "" && metadata != "{}" && metadata != "null" {
			_ = json.Unmarshal([]byte(metadata), &e.Event.Metadata)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending", err)
	}

	return entries, nil
}

// MarkDelivered flags an entry as acknowledged by the server. A delivered
// entry no longer appears in ListPending even if its removal fails.
func (s *Store) MarkDelivered(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_checkins SET delivered = 1 WHERE id = ?", entryID)
	if err != nil {
		return storageErr("mark delivered", err)
	}

	return nil
}

// Remove deletes an entry. Callers must only remove entries whose outcome
// the server has durably recorded.
func (s *Store) Remove(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM outbox_checkins WHERE id = ?", entryID)
	if err != nil {
		return storageErr("remove", err)
	}

	return nil
}
