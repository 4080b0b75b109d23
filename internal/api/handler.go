// Package api exposes the reconciliation service over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doorlist/doorlist/internal/metrics"
	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/ratelimit"
	"github.com/doorlist/doorlist/internal/repository"
	"github.com/doorlist/doorlist/internal/resolver"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	resolver     *resolver.Service
	guests       repository.GuestRepository
	audit        repository.AuditRepository
	auth         Authorizer
	limiter      ratelimit.Limiter
	maxBatchSize int
	log          *slog.Logger
}

// New creates the router with all routes and middleware mounted.
func New(
	rs *resolver.Service,
	guests repository.GuestRepository,
	audit repository.AuditRepository,
	auth Authorizer,
	limiter ratelimit.Limiter,
	maxBatchSize int,
	log *slog.Logger,
) http.Handler {
	h := &Handler{
		resolver:     rs,
		guests:       guests,
		audit:        audit,
		auth:         auth,
		limiter:      limiter,
		maxBatchSize: maxBatchSize,
		log:          log,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.With(h.rateLimit).Post("/checkins:sync", h.syncCheckins)
		r.Get("/guests", h.listGuests)
		r.Get("/audit/conflicts", h.listConflicts)
	})

	return r
}

// authenticate delegates the capability check to the injected authorizer
// and stores the caller identity on the context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.auth.Authorize(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// rateLimit applies the per-caller request ceiling.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := h.limiter.Allow(r.Context(), Identity(r.Context()))
		if err != nil {
			h.log.Error("rate limiter unavailable", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
			return
		}
		if !res.Allowed {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// POST /checkins:sync — apply a batch of check-in events.
func (h *Handler) syncCheckins(w http.ResponseWriter, r *http.Request) {
	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Checks) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one check-in")
		return
	}
	if len(req.Checks) > h.maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size exceeds maximum")
		return
	}
	metrics.SyncBatchSize.Observe(float64(len(req.Checks)))

	actor := Identity(r.Context())
	events := make([]*model.CheckinEvent, 0, len(req.Checks))
	failures := make([]model.SyncFailure, 0)
	for i := range req.Checks {
		p := &req.Checks[i]
		ev, err := p.Event()
		if err != nil {
			failures = append(failures, model.SyncFailure{
				GuestEmail:  p.GuestEmail,
				CheckedInAt: p.CheckedInAt,
				Reason:      model.FailureReason(err),
				Retryable:   false,
			})
			continue
		}
		if ev.Operator == "" {
			ev.Operator = actor
		}
		events = append(events, ev)
	}

	result, err := h.resolver.Apply(r.Context(), actor, events)
	if err != nil {
		h.log.Error("failed to apply batch", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to apply batch")
		return
	}

	metrics.CheckinsApplied.Add(float64(result.Applied))
	metrics.CheckinsSuperseded.Add(float64(result.Superseded))
	failures = append(failures, result.Failures...)
	for _, f := range failures {
		metrics.CheckinsFailed.WithLabelValues(f.Reason).Inc()
	}

	writeJSON(w, http.StatusOK, model.SyncResponse{
		SuccessCount: result.SuccessCount(),
		Failed:       failures,
	})
}

// GET /guests — paginated guest listing for client cache refresh.
func (h *Handler) listGuests(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	guests, err := h.guests.List(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("failed to list guests", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list guests")
		return
	}
	if guests == nil {
		guests = []*model.Guest{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"guests": guests})
}

// GET /audit/conflicts — paginated conflict inspection surface.
func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	records, err := h.audit.ListConflicts(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("failed to list conflicts", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	if records == nil {
		records = []*model.AuditRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"conflicts": records})
}

// GET /healthz — liveness probe.
func (*Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 1 {
		page = v
	}

	return limit, (page - 1) * limit
}
