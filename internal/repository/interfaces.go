// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/doorlist/doorlist/internal/model"
)

// GuestRepository defines methods for guest data access. LockByEmail must
// be called inside a transaction started by TransactionManager; it holds a
// row-level lock on the guest until the transaction ends so that two
// concurrent resolutions for the same guest cannot interleave.
type GuestRepository interface {
	GetByEmail(ctx context.Context, email string) (*model.Guest, error)
	LockByEmail(ctx context.Context, email string) (*model.Guest, error)
	SetCheckedIn(ctx context.Context, id string, at time.Time, origin model.Origin) error
	List(ctx context.Context, limit, offset int) ([]*model.Guest, error)
	Upsert(ctx context.Context, guest *model.Guest) error
}

// AuditRepository defines methods for the append-only audit trail.
type AuditRepository interface {
	Append(ctx context.Context, rec *model.AuditRecord) error
	ListConflicts(ctx context.Context, limit, offset int) ([]*model.AuditRecord, error)
	CountByEmail(ctx context.Context, email string) (int, error)
}

// InvitationRepository links accepted arrivals to their invitation record.
// The linkage is best-effort: a missing invitation is not an error.
type InvitationRepository interface {
	MarkAttended(ctx context.Context, guestID string, at time.Time) error
}

// TransactionManager defines methods for database transaction management.
// The transaction is carried on the context passed to fn; repository calls
// made with that context run inside it.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
