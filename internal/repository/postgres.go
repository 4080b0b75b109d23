package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doorlist/doorlist/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS guests (
	id                TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'unconfirmed',
	checked_in_at     TIMESTAMPTZ,
	checked_in_source TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_records (
	id                 TEXT PRIMARY KEY,
	guest_email        TEXT NOT NULL,
	event_timestamp    TIMESTAMPTZ NOT NULL,
	origin             TEXT NOT NULL,
	actor              TEXT NOT NULL DEFAULT '',
	conflict           BOOLEAN NOT NULL DEFAULT FALSE,
	reason             TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	existing_timestamp TIMESTAMPTZ,
	detected_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_conflict ON audit_records (conflict, detected_at DESC);

CREATE TABLE IF NOT EXISTS invitations (
	id          TEXT PRIMARY KEY,
	guest_id    TEXT NOT NULL UNIQUE,
	attended    BOOLEAN NOT NULL DEFAULT FALSE,
	attended_at TIMESTAMPTZ
);
`

// EnsureSchema creates the server-side tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}

type txKey struct{}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *queriers) db(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

type queriers struct {
	pool *pgxpool.Pool
}

// PgTransactionManager implements TransactionManager using PostgreSQL. The
// open transaction is stored on the context so repository methods called
// from fn participate in it.
type PgTransactionManager struct {
	pool *pgxpool.Pool
}

// NewPgTransactionManager creates a new TransactionManager implementation.
func NewPgTransactionManager(pool *pgxpool.Pool) TransactionManager {
	return &PgTransactionManager{pool: pool}
}

// WithTransaction executes fn within a database transaction.
func (tm *PgTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PgGuestRepository implements GuestRepository using PostgreSQL.
type PgGuestRepository struct {
	queriers
}

// NewPgGuestRepository creates a new GuestRepository implementation.
func NewPgGuestRepository(pool *pgxpool.Pool) GuestRepository {
	return &PgGuestRepository{queriers{pool: pool}}
}

const guestColumns = "id, email, name, status, checked_in_at, checked_in_source"

func scanGuest(row pgx.Row) (*model.Guest, error) {
	var g model.Guest
	var source string
	if err := row.Scan(&g.ID, &g.Email, &g.Name, &g.Status, &g.CheckedInAt, &source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrGuestNotFound
		}

		return nil, err
	}
	g.CheckedInSource = model.Origin(source)

	return &g, nil
}

// GetByEmail retrieves a guest by email.
func (r *PgGuestRepository) GetByEmail(ctx context.Context, email string) (*model.Guest, error) {
	row := r.db(ctx).QueryRow(ctx,
		"SELECT "+guestColumns+" FROM guests WHERE LOWER(email) = LOWER($1)", email)

	return scanGuest(row)
}

// LockByEmail retrieves a guest by email and holds a row lock until the
// surrounding transaction ends.
func (r *PgGuestRepository) LockByEmail(ctx context.Context, email string) (*model.Guest, error) {
	row := r.db(ctx).QueryRow(ctx,
		"SELECT "+guestColumns+" FROM guests WHERE LOWER(email) = LOWER($1) FOR UPDATE", email)

	return scanGuest(row)
}

// SetCheckedIn records an accepted arrival for the guest.
func (r *PgGuestRepository) SetCheckedIn(ctx context.Context, id string, at time.Time, origin model.Origin) error {
	tag, err := r.db(ctx).Exec(ctx,
		"UPDATE guests SET checked_in_at = $1, checked_in_source = $2, status = $3 WHERE id = $4",
		at, string(origin), string(model.StatusConfirmed), id)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return model.ErrGuestNotFound
	}

	return nil
}

// List retrieves guests ordered by email for stable pagination.
func (r *PgGuestRepository) List(ctx context.Context, limit, offset int) ([]*model.Guest, error) {
	rows, err := r.db(ctx).Query(ctx,
		"SELECT "+guestColumns+" FROM guests ORDER BY email LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guests []*model.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, g)
	}

	return guests, rows.Err()
}

// Upsert inserts or updates a guest row.
func (r *PgGuestRepository) Upsert(ctx context.Context, guest *model.Guest) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO guests (id, email, name, status, checked_in_at, checked_in_source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			checked_in_at = EXCLUDED.checked_in_at,
			checked_in_source = EXCLUDED.checked_in_source`,
		guest.ID, guest.Email, guest.Name, string(guest.Status), guest.CheckedInAt, string(guest.CheckedInSource))

	return err
}

// PgAuditRepository implements AuditRepository using PostgreSQL.
type PgAuditRepository struct {
	queriers
}

// NewPgAuditRepository creates a new AuditRepository implementation.
func NewPgAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &PgAuditRepository{queriers{pool: pool}}
}

// Append writes one audit record. Records are never updated or deleted.
func (r *PgAuditRepository) Append(ctx context.Context, rec *model.AuditRecord) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO audit_records
			(id, guest_email, event_timestamp, origin, actor, conflict, reason, resolution, existing_timestamp, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.GuestEmail, rec.EventTimestamp, string(rec.Origin), rec.Actor,
		rec.Conflict, rec.Reason, rec.Resolution, rec.ExistingTimestamp, rec.DetectedAt)

	return err
}

// ListConflicts retrieves conflict-flagged audit records, newest first.
func (r *PgAuditRepository) ListConflicts(ctx context.Context, limit, offset int) ([]*model.AuditRecord, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, guest_email, event_timestamp, origin, actor, conflict, reason, resolution, existing_timestamp, detected_at
		FROM audit_records WHERE conflict ORDER BY detected_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		var rec model.AuditRecord
		var origin string
		if err := rows.Scan(&rec.ID, &rec.GuestEmail, &rec.EventTimestamp, &origin, &rec.Actor,
			&rec.Conflict, &rec.Reason, &rec.Resolution, &rec.ExistingTimestamp, &rec.DetectedAt); err != nil {
			return nil, err
		}
		rec.Origin = model.Origin(origin)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// CountByEmail returns the number of audit records for a guest email.
func (r *PgAuditRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var n int
	err := r.db(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE LOWER(guest_email) = LOWER($1)", email).Scan(&n)

	return n, err
}

// PgInvitationRepository implements InvitationRepository using PostgreSQL.
type PgInvitationRepository struct {
	queriers
}

// NewPgInvitationRepository creates a new InvitationRepository implementation.
func NewPgInvitationRepository(pool *pgxpool.Pool) InvitationRepository {
	return &PgInvitationRepository{queriers{pool: pool}}
}

// MarkAttended flags the guest's invitation as attended. A guest without
// an invitation row is left untouched.
func (r *PgInvitationRepository) MarkAttended(ctx context.Context, guestID string, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE invitations SET attended = TRUE, attended_at = $1 WHERE guest_id = $2", at, guestID)

	return err
}
