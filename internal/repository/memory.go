package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doorlist/doorlist/internal/model"
)

// MemoryStore is an in-memory backend shared by the memory repository
// implementations. It is used by tests and by the server's -mem mode.
// Serialization of same-guest resolutions is provided by the memory
// transaction manager, which holds a single lock for the duration of fn.
type MemoryStore struct {
	mu      sync.Mutex
	guests  map[string]*model.Guest // keyed by id
	byEmail map[string]string       // email -> id
	audits  []*model.AuditRecord
	invites map[string]*invitation // keyed by guest id
}

type invitation struct {
	guestID    string
	attended   bool
	attendedAt *time.Time
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guests:  make(map[string]*model.Guest),
		byEmail: make(map[string]string),
		invites: make(map[string]*invitation),
	}
}

// AuditRecords returns a snapshot of all audit records, in append order.
func (s *MemoryStore) AuditRecords() []*model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.AuditRecord, len(s.audits))
	copy(out, s.audits)

	return out
}

// AddInvitation registers an invitation row for a guest.
func (s *MemoryStore) AddInvitation(guestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[guestID] = &invitation{guestID: guestID}
}

// InvitationAttended reports whether the guest's invitation is linked.
func (s *MemoryStore) InvitationAttended(guestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[guestID]

	return ok && inv.attended
}

// MemoryTransactionManager implements TransactionManager over a
// MemoryStore. A single lock serializes all transactions, which gives the
// same per-guest isolation guarantee as row locks, at test scale.
type MemoryTransactionManager struct {
	store *MemoryStore
}

// NewMemoryTransactionManager creates a new TransactionManager over the store.
func NewMemoryTransactionManager(store *MemoryStore) TransactionManager {
	return &MemoryTransactionManager{store: store}
}

type memTxKey struct{}

// WithTransaction runs fn while holding the store lock.
func (tm *MemoryTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tm.store.mu.Lock()
	defer tm.store.mu.Unlock()

	return fn(context.WithValue(ctx, memTxKey{}, tm.store))
}

func (s *MemoryStore) lockUnlessInTx(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) == s {
		return func() {}
	}
	s.mu.Lock()

	return s.mu.Unlock
}

// MemoryGuestRepository implements GuestRepository over a MemoryStore.
type MemoryGuestRepository struct {
	store *MemoryStore
}

// NewMemoryGuestRepository creates a new GuestRepository over the store.
func NewMemoryGuestRepository(store *MemoryStore) GuestRepository {
	return &MemoryGuestRepository{store: store}
}

func (r *MemoryGuestRepository) getByEmail(email string) (*model.Guest, error) {
	id, ok := r.store.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, model.ErrGuestNotFound
	}

	return r.store.guests[id].Clone(), nil
}

// GetByEmail retrieves a guest by email.
func (r *MemoryGuestRepository) GetByEmail(ctx context.Context, email string) (*model.Guest, error) {
	defer r.store.lockUnlessInTx(ctx)()

	return r.getByEmail(email)
}

// LockByEmail retrieves a guest by email. Locking is provided by the
// memory transaction manager.
func (r *MemoryGuestRepository) LockByEmail(ctx context.Context, email string) (*model.Guest, error) {
	defer r.store.lockUnlessInTx(ctx)()

	return r.getByEmail(email)
}

// SetCheckedIn records an accepted arrival for the guest.
func (r *MemoryGuestRepository) SetCheckedIn(ctx context.Context, id string, at time.Time, origin model.Origin) error {
	defer r.store.lockUnlessInTx(ctx)()

	g, ok := r.store.guests[id]
	if !ok {
		return model.ErrGuestNotFound
	}
	t := at
	g.CheckedInAt = &t
	g.CheckedInSource = origin
	g.Status = model.StatusConfirmed

	return nil
}

// List retrieves guests ordered by email.
func (r *MemoryGuestRepository) List(ctx context.Context, limit, offset int) ([]*model.Guest, error) {
	defer r.store.lockUnlessInTx(ctx)()

	all := make([]*model.Guest, 0, len(r.store.guests))
	for _, g := range r.store.guests {
		all = append(all, g.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return all, nil
}

// Upsert inserts or updates a guest.
func (r *MemoryGuestRepository) Upsert(ctx context.Context, guest *model.Guest) error {
	defer r.store.lockUnlessInTx(ctx)()

	g := guest.Clone()
	if old, ok := r.store.guests[g.ID]; ok {
		delete(r.store.byEmail, strings.ToLower(old.Email))
	}
	r.store.guests[g.ID] = g
	r.store.byEmail[strings.ToLower(g.Email)] = g.ID

	return nil
}

// MemoryAuditRepository implements AuditRepository over a MemoryStore.
type MemoryAuditRepository struct {
	store *MemoryStore
}

// NewMemoryAuditRepository creates a new AuditRepository over the store.
func NewMemoryAuditRepository(store *MemoryStore) AuditRepository {
	return &MemoryAuditRepository{store: store}
}

// Append writes one audit record.
func (r *MemoryAuditRepository) Append(ctx context.Context, rec *model.AuditRecord) error {
	defer r.store.lockUnlessInTx(ctx)()

	cp := *rec
	r.store.audits = append(r.store.audits, &cp)

	return nil
}

// ListConflicts retrieves conflict-flagged records, newest first.
func (r *MemoryAuditRepository) ListConflicts(ctx context.Context, limit, offset int) ([]*model.AuditRecord, error) {
	defer r.store.lockUnlessInTx(ctx)()

	var conflicts []*model.AuditRecord
	for i := len(r.store.audits) - 1; i >= 0; i-- {
		if r.store.audits[i].Conflict {
			cp := *r.store.audits[i]
			conflicts = append(conflicts, &cp)
		}
	}

	if offset >= len(conflicts) {
		return nil, nil
	}
	conflicts = conflicts[offset:]
	if limit > 0 && limit < len(conflicts) {
		conflicts = conflicts[:limit]
	}

	return conflicts, nil
}

// CountByEmail returns the number of audit records for a guest email.
func (r *MemoryAuditRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	defer r.store.lockUnlessInTx(ctx)()

	n := 0
	for _, rec := range r.store.audits {
		if strings.EqualFold(rec.GuestEmail, email) {
			n++
		}
	}

	return n, nil
}

// MemoryInvitationRepository implements InvitationRepository over a MemoryStore.
type MemoryInvitationRepository struct {
	store *MemoryStore
}

// NewMemoryInvitationRepository creates a new InvitationRepository over the store.
func NewMemoryInvitationRepository(store *MemoryStore) InvitationRepository {
	return &MemoryInvitationRepository{store: store}
}

// MarkAttended flags the guest's invitation as attended, if one exists.
func (r *MemoryInvitationRepository) MarkAttended(ctx context.Context, guestID string, at time.Time) error {
	defer r.store.lockUnlessInTx(ctx)()

	inv, ok := r.store.invites[guestID]
	if !ok {
		return nil
	}
	inv.attended = true
	t := at
	inv.attendedAt = &t

	return nil
}
