// Package producer implements the operator-facing check-in action:
// immediate delivery when connected, durable capture into the outbox when
// not. Capture is never blocked by connectivity.
package producer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/doorlist/doorlist/internal/localstore"
	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/syncclient"
)

// Submitter sends a batch to the reconciliation service.
type Submitter interface {
	Submit(ctx context.Context, checks []model.CheckinPayload) (*model.SyncResponse, error)
}

// Producer records guest arrivals.
type Producer struct {
	store    *localstore.Store
	client   Submitter
	online   func() bool
	operator string
	timeout  time.Duration
	log      *slog.Logger
}

// New creates a producer. online reports current connectivity; timeout
// bounds the direct submission attempt.
func New(
	store *localstore.Store,
	client Submitter,
	online func() bool,
	operator string,
	timeout time.Duration,
	log *slog.Logger,
) *Producer {
	return &Producer{
		store:    store,
		client:   client,
		online:   online,
		operator: operator,
		timeout:  timeout,
		log:      log,
	}
}

// Checkin records an arrival for the guest at the given wall-clock time.
// Connected: attempt direct delivery; any transport fault (including a
// timeout) degrades to the offline path instead of reaching the operator.
// Disconnected: enqueue into the outbox. A storage fault is fatal to the
// capture and surfaced immediately.
func (p *Producer) Checkin(ctx context.Context, guest *model.Guest, at time.Time) error {
	if guest.CheckedIn() {
		// Client-side convenience only; the server remains the arbiter.
		return model.ErrAlreadyCheckedIn
	}

	if p.online() {
		err := p.submitDirect(ctx, guest, at)
		if err == nil {
			return nil
		}

		var transport *syncclient.TransportError
		var limited *syncclient.RateLimitedError
		if !errors.As(err, &transport) && !errors.As(err, &limited) {
			// Business-rule rejection, not a connectivity problem.
			return err
		}
		p.log.Warn("direct submission failed, falling back to outbox",
			slog.String("guest_email", guest.Email),
			slog.String("error", err.Error()),
		)
	}

	return p.capture(ctx, guest, at)
}

func (p *Producer) submitDirect(ctx context.Context, guest *model.Guest, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	event := &model.CheckinEvent{
		GuestID:     guest.ID,
		GuestEmail:  guest.Email,
		CheckedInAt: at,
		Origin:      model.OriginRemote,
		Operator:    p.operator,
	}

	resp, err := p.client.Submit(ctx, []model.CheckinPayload{event.Payload()})
	if err != nil {
		return err
	}
	if len(resp.Failed) > 0 {
		return errors.New(resp.Failed[0].Reason)
	}

	// The server has recorded the check-in; a failed cache update is not
	// a capture failure. The cache is refreshed opportunistically anyway.
	if err := p.store.MarkCachedCheckin(ctx, guest.Email, at, model.OriginRemote); err != nil {
		p.log.Warn("cache update failed after accepted submission",
			slog.String("guest_email", guest.Email),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

func (p *Producer) capture(ctx context.Context, guest *model.Guest, at time.Time) error {
	event := &model.CheckinEvent{
		GuestID:     guest.ID,
		GuestEmail:  guest.Email,
		CheckedInAt: at,
		Origin:      model.OriginLocal,
		Operator:    p.operator,
	}

	entryID, err := p.store.Enqueue(ctx, event)
	if err != nil {
		return err
	}

	p.log.Info("check-in captured offline",
		slog.String("guest_email", guest.Email),
		slog.String("entry_id", entryID),
	)

	return p.store.MarkCachedCheckin(ctx, guest.Email, at, model.OriginLocal)
}
