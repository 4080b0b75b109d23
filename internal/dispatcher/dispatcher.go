// Package dispatcher drains the client outbox and submits pending
// check-ins to the reconciliation service in batches. It performs no
// conflict logic: it only batches, classifies server outcomes, and
// retries with backoff.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/doorlist/doorlist/internal/localstore"
	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/syncclient"
)

// Submitter sends a batch to the reconciliation service.
type Submitter interface {
	Submit(ctx context.Context, checks []model.CheckinPayload) (*model.SyncResponse, error)
}

// maxAttemptsPerCycle bounds in-cycle retries; after that the queue waits
// for the next tick or trigger.
const maxAttemptsPerCycle = 5

// Diagnostic reports an outbox entry the server rejected permanently.
// Retrying it can never succeed, so it is removed from the queue and
// handed to an operator-facing view for follow-up.
type Diagnostic struct {
	Entry  *model.OutboxEntry
	Reason string
}

// Dispatcher owns the drain-and-submit cycle. A single worker runs it, so
// at most one sync is in flight per client; triggers arriving while one
// is in flight are coalesced.
type Dispatcher struct {
	store       *localstore.Store
	client      Submitter
	interval    time.Duration
	trigger     chan struct{}
	diagnostics func(Diagnostic)
	onSynced    func(ctx context.Context)
	log         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDiagnostics sets the sink for permanently rejected entries.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(d *Dispatcher) { d.diagnostics = fn }
}

// WithOnSynced sets a hook invoked after a cycle that delivered at least
// one entry, used for the opportunistic guest cache refresh.
func WithOnSynced(fn func(ctx context.Context)) Option {
	return func(d *Dispatcher) { d.onSynced = fn }
}

// New creates a dispatcher draining store through client every interval.
func New(
	store *localstore.Store,
	client Submitter,
	interval time.Duration,
	log *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		client:   client,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Notify requests a sync cycle, typically on a connectivity-regained
// signal. It never blocks; a request while a cycle is already pending is
// coalesced.
func (d *Dispatcher) Notify() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run executes the drain loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.trigger:
		}

		for attempt := 0; attempt < maxAttemptsPerCycle; attempt++ {
			delivered, err := d.syncOnce(ctx)
			if err == nil {
				bo.Reset()
				if delivered > 0 && d.onSynced != nil {
					d.onSynced(ctx)
				}
				break
			}
			if !retryable(err) {
				d.log.Error("sync cycle failed", slog.String("error", err.Error()))
				break
			}

			wait := bo.NextBackOff()
			var limited *syncclient.RateLimitedError
			if errors.As(err, &limited) && limited.RetryAfter > wait {
				wait = limited.RetryAfter
			}
			d.log.Warn("sync cycle will retry",
				slog.String("error", err.Error()),
				slog.Duration("wait", wait),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// syncOnce submits every pending entry in one batch and reconciles the
// outbox with the server's per-event outcomes. It returns the number of
// entries removed from the queue.
func (d *Dispatcher) syncOnce(ctx context.Context) (int, error) {
	entries, err := d.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	checks := make([]model.CheckinPayload, len(entries))
	for i, e := range entries {
		checks[i] = e.Event.Payload()
	}

	resp, err := d.client.Submit(ctx, checks)
	if err != nil {
		// Transport ambiguity or rate limiting: nothing is removed, the
		// resolver handles an eventual resubmission idempotently.
		return 0, err
	}

	failed := make(map[failureKey]model.SyncFailure, len(resp.Failed))
	for _, f := range resp.Failed {
		failed[failureKey{email: f.GuestEmail, at: f.CheckedInAt.UTC().Format(time.RFC3339Nano)}] = f
	}

	delivered := 0
	for _, e := range entries {
		key := failureKey{
			email: e.Event.GuestEmail,
			at:    e.Event.CheckedInAt.UTC().Format(time.RFC3339Nano),
		}
		f, isFailed := failed[key]

		if isFailed && f.Retryable {
			continue
		}

		if isFailed && d.diagnostics != nil {
			d.diagnostics(Diagnostic{Entry: e, Reason: f.Reason})
		}

		if err := d.store.MarkDelivered(ctx, e.ID); err != nil {
			return delivered, err
		}
		if err := d.store.Remove(ctx, e.ID); err != nil {
			return delivered, err
		}
		delivered++
	}

	d.log.Info("sync cycle complete",
		slog.Int("submitted", len(entries)),
		slog.Int("removed", delivered),
		slog.Int("failed", len(resp.Failed)),
	)

	return delivered, nil
}

type failureKey struct {
	email string
	at    string
}

func retryable(err error) bool {
	var transport *syncclient.TransportError
	var limited *syncclient.RateLimitedError
	var storage *localstore.StorageError

	return errors.As(err, &transport) || errors.As(err, &limited) || errors.As(err, &storage)
}
