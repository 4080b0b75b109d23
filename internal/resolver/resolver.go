// Package resolver implements the reconciliation service: it applies
// batches of check-in events against the shared guest record using
// deterministic conflict rules and writes one audit record per attempt.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/doorlist/doorlist/internal/metrics"
	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/repository"
)

// Publisher announces accepted arrivals to downstream consumers. The
// publication is best-effort: failures are logged, never propagated.
type Publisher interface {
	PublishApplied(ctx context.Context, guest *model.Guest, event *model.CheckinEvent) error
}

// BatchResult summarizes one Apply call. Applied counts events that
// changed guest state (or replayed a prior application); Superseded
// counts valid events kept out by an earlier arrival. Both are delivered
// outcomes from the dispatcher's point of view.
type BatchResult struct {
	Applied    int
	Superseded int
	Failures   []model.SyncFailure
}

// SuccessCount returns the number of events the server durably recorded
// an outcome for.
func (r *BatchResult) SuccessCount() int {
	return r.Applied + r.Superseded
}

// Service resolves check-in batches. It is stateless per call and safe
// for concurrent use: same-guest events are serialized under the guest's
// row lock, independent guests are processed in parallel.
type Service struct {
	guests   repository.GuestRepository
	audit    repository.AuditRepository
	tx       repository.TransactionManager
	pub      Publisher
	log      *slog.Logger
	parallel int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the downstream publisher for accepted arrivals.
func WithPublisher(pub Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

// WithParallelism bounds how many guests are resolved concurrently
// within one batch.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithClock overrides the detection-time clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a resolver service.
func New(
	guests repository.GuestRepository,
	audit repository.AuditRepository,
	tx repository.TransactionManager,
	log *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		guests:   guests,
		audit:    audit,
		tx:       tx,
		log:      log,
		parallel: 8,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// outcome classifies one resolved event.
type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSuperseded
	outcomeFailed
)

// Apply resolves every event in the batch independently and returns the
// per-event outcomes. Events for the same guest are applied in batch
// order; events for distinct guests may be applied in any order.
func (s *Service) Apply(ctx context.Context, actor string, events []*model.CheckinEvent) (*BatchResult, error) {
	result := &BatchResult{}

	var mu sync.Mutex
	fail := func(ev *model.CheckinEvent, reason string, retryable bool) {
		mu.Lock()
		defer mu.Unlock()
		result.Failures = append(result.Failures, model.SyncFailure{
			GuestEmail:  ev.GuestEmail,
			CheckedInAt: ev.CheckedInAt,
			Reason:      reason,
			Retryable:   retryable,
		})
	}

	// Malformed events never reach business logic and are not audited.
	groups := make(map[string][]*model.CheckinEvent)
	var order []string
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			fail(ev, model.FailureReason(err), false)
			continue
		}
		key := strings.ToLower(ev.GuestEmail)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, ev := range group {
				out, err := s.applyOne(gctx, actor, ev)
				switch {
				case err != nil && errors.Is(err, model.ErrGuestNotFound):
					fail(ev, model.ReasonGuestNotFound, false)
				case err != nil:
					// Storage trouble: the outcome was not durably
					// recorded, so the caller may safely resubmit.
					s.log.Error("failed to resolve check-in",
						slog.String("guest_email", ev.GuestEmail),
						slog.String("error", err.Error()),
					)
					fail(ev, "storage_unavailable", true)
				case out == outcomeApplied:
					mu.Lock()
					result.Applied++
					mu.Unlock()
				case out == outcomeSuperseded:
					mu.Lock()
					result.Superseded++
					mu.Unlock()
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// applyOne resolves a single event under the guest's row lock. Exactly
// one audit record is written for every event that reaches this point,
// whichever branch fires.
func (s *Service) applyOne(ctx context.Context, actor string, ev *model.CheckinEvent) (outcome, error) {
	var out outcome
	var applied *model.Guest
	notFound := false

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		guest, err := s.guests.LockByEmail(ctx, ev.GuestEmail)
		if err != nil {
			if errors.Is(err, model.ErrGuestNotFound) {
				// The rejection is still audited; return nil so the
				// audit record commits.
				out = outcomeFailed
				notFound = true

				return s.writeAudit(ctx, actor, ev, &decision{
					reason:     model.ReasonGuestNotFound,
					resolution: model.ResolutionRejected,
				})
			}

			return err
		}

		d := resolve(guest, ev)
		out = d.outcome

		if d.overwrite {
			if err := s.guests.SetCheckedIn(ctx, guest.ID, ev.CheckedInAt, ev.Origin); err != nil {
				return err
			}
			updated := guest.Clone()
			t := ev.CheckedInAt
			updated.CheckedInAt = &t
			updated.CheckedInSource = ev.Origin
			updated.Status = model.StatusConfirmed
			applied = updated
		}

		return s.writeAudit(ctx, actor, ev, d)
	})
	if err != nil {
		return outcomeFailed, err
	}
	if notFound {
		return outcomeFailed, model.ErrGuestNotFound
	}

	if applied != nil && s.pub != nil {
		if err := s.pub.PublishApplied(ctx, applied, ev); err != nil {
			s.log.Warn("failed to publish applied check-in",
				slog.String("guest_email", applied.Email),
				slog.String("error", err.Error()),
			)
		}
	}

	return out, nil
}

// decision captures which resolution branch fired.
type decision struct {
	outcome    outcome
	overwrite  bool
	conflict   bool
	reason     string
	resolution string
	existing   *time.Time
}

// resolve applies the conflict rules to the guest's current state and the
// incoming event: the earliest genuine arrival always wins, and at equal
// timestamps remote origin beats local regardless of arrival order.
func resolve(guest *model.Guest, ev *model.CheckinEvent) *decision {
	existing := guest.CheckedInAt
	if existing == nil {
		return &decision{
			outcome:    outcomeApplied,
			overwrite:  true,
			resolution: model.ResolutionApplied,
		}
	}

	switch {
	case ev.CheckedInAt.After(*existing):
		// The recorded arrival happened first; the incoming attempt is a
		// later duplicate.
		return &decision{
			outcome:    outcomeSuperseded,
			conflict:   true,
			reason:     model.ReasonDuplicate,
			resolution: model.ResolutionKeptExisting,
			existing:   existing,
		}
	case ev.CheckedInAt.Before(*existing):
		// The incoming attempt is the earlier genuine arrival, recorded
		// late (typically captured offline and synced afterward).
		return &decision{
			outcome:    outcomeApplied,
			overwrite:  true,
			conflict:   true,
			reason:     model.ReasonOlderOffline,
			resolution: model.ResolutionReplacedExisting,
			existing:   existing,
		}
	case ev.Origin == guest.CheckedInSource:
		// Identical (guest, timestamp, origin) triple: an at-least-once
		// resubmission. Same outcome as the first application, no state
		// change, a fresh equivalent audit record.
		return &decision{
			outcome:    outcomeApplied,
			conflict:   true,
			reason:     model.ReasonSameTimestamp,
			resolution: model.ResolutionKeptExisting,
			existing:   existing,
		}
	case ev.Origin == model.OriginRemote:
		// Equal timestamps, remote beats local.
		return &decision{
			outcome:    outcomeApplied,
			overwrite:  true,
			conflict:   true,
			reason:     model.ReasonSameTimestamp,
			resolution: model.ResolutionReplacedExisting,
			existing:   existing,
		}
	default:
		return &decision{
			outcome:    outcomeSuperseded,
			conflict:   true,
			reason:     model.ReasonSameTimestamp,
			resolution: model.ResolutionKeptRemote,
			existing:   existing,
		}
	}
}

func (s *Service) writeAudit(ctx context.Context, actor string, ev *model.CheckinEvent, d *decision) error {
	if d.conflict {
		metrics.ConflictsDetected.WithLabelValues(d.reason).Inc()
	}

	return s.audit.Append(ctx, &model.AuditRecord{
		ID:                uuid.New().String(),
		GuestEmail:        ev.GuestEmail,
		EventTimestamp:    ev.CheckedInAt,
		Origin:            ev.Origin,
		Actor:             actor,
		Conflict:          d.conflict,
		Reason:            d.reason,
		Resolution:        d.resolution,
		ExistingTimestamp: d.existing,
		DetectedAt:        s.now(),
	})
}
