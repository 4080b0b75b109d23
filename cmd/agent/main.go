// Package main provides the front-desk agent: it owns the local durable
// store, exposes a localhost API for the operator UI, and syncs the
// outbox to the reconciliation server in the background.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/doorlist/doorlist/internal/config"
	"github.com/doorlist/doorlist/internal/dispatcher"
	"github.com/doorlist/doorlist/internal/localstore"
	"github.com/doorlist/doorlist/internal/logger"
	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/producer"
	"github.com/doorlist/doorlist/internal/syncclient"
)

const (
	exitCode         = 1
	signalBufferSize = 1
	refreshPageSize  = 200
	maxRefreshPages  = 50
	maxDiagnostics   = 256
)

// agent wires the producer, the dispatcher, and the operator-facing
// localhost API together.
type agent struct {
	store    *localstore.Store
	producer *producer.Producer
	dispatch *dispatcher.Dispatcher

	mu          sync.Mutex
	diagnostics []dispatcher.Diagnostic
}

type checkinRequest struct {
	GuestEmail  string     `json:"guest_email"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}

// POST /checkin — record an arrival for a guest in the local cache.
func (a *agent) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	guest, err := a.store.LookupGuestByEmail(r.Context(), req.GuestEmail)
	if err != nil {
		if errors.Is(err, model.ErrGuestNotFound) {
			http.Error(w, "guest not found in local cache", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	at := time.Now()
	if req.CheckedInAt != nil {
		at = *req.CheckedInAt
	}

	if err := a.producer.Checkin(r.Context(), guest, at); err != nil {
		switch {
		case errors.Is(err, model.ErrAlreadyCheckedIn):
			http.Error(w, "guest already checked in", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"guest_email":   guest.Email,
		"checked_in_at": at,
	})
}

// GET /outbox — pending entries awaiting delivery.
func (a *agent) handleOutbox(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListPending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*model.OutboxEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"pending": entries})
}

// GET /diagnostics — entries the server rejected permanently.
func (a *agent) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	diags := make([]dispatcher.Diagnostic, len(a.diagnostics))
	copy(diags, a.diagnostics)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rejected": diags})
}

// POST /sync — ask the dispatcher for an immediate cycle.
func (a *agent) handleSync(w http.ResponseWriter, _ *http.Request) {
	a.dispatch.Notify()
	w.WriteHeader(http.StatusAccepted)
}

// recordDiagnostic keeps the most recent rejections, dropping the oldest
// beyond the cap. Rejected entries are already audited server-side.
func (a *agent) recordDiagnostic(d dispatcher.Diagnostic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diagnostics = append(a.diagnostics, d)
	if len(a.diagnostics) > maxDiagnostics {
		a.diagnostics = a.diagnostics[len(a.diagnostics)-maxDiagnostics:]
	}
}

// watchConnectivity probes the server and pokes the dispatcher whenever
// connectivity comes back.
func watchConnectivity(ctx context.Context, client *syncclient.Client, online *atomic.Bool, d *dispatcher.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up := client.Ping(ctx)
			was := online.Swap(up)
			if up && !was {
				slog.Info("connectivity regained, triggering sync")
				d.Notify()
			}
		}
	}
}

func refreshGuests(ctx context.Context, client *syncclient.Client, store *localstore.Store) {
	for page := 1; page <= maxRefreshPages; page++ {
		guests, err := client.FetchGuests(ctx, page, refreshPageSize)
		if err != nil {
			slog.Warn("guest cache refresh failed", slog.String("error", err.Error()))
			return
		}
		if len(guests) == 0 {
			return
		}
		if err := store.CacheGuests(ctx, guests); err != nil {
			slog.Warn("guest cache write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	store, err := localstore.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open local store", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer store.Close()

	client := syncclient.New(cfg.ServerURL, cfg.AuthToken, cfg.SubmitTimeout)

	var online atomic.Bool
	prod := producer.New(store, client, online.Load, cfg.Operator, cfg.SubmitTimeout, log)

	opts := []dispatcher.Option{}
	a := &agent{store: store, producer: prod}
	opts = append(opts, dispatcher.WithDiagnostics(a.recordDiagnostic))
	if cfg.RefreshGuests {
		opts = append(opts, dispatcher.WithOnSynced(func(ctx context.Context) {
			refreshGuests(ctx, client, store)
		}))
	}
	a.dispatch = dispatcher.New(store, client, cfg.SyncInterval, log, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping agent")
		cancel()
	}()

	go a.dispatch.Run(ctx)
	go watchConnectivity(ctx, client, &online, a.dispatch, cfg.ProbeInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkin", a.handleCheckin)
	mux.HandleFunc("GET /outbox", a.handleOutbox)
	mux.HandleFunc("GET /diagnostics", a.handleDiagnostics)
	mux.HandleFunc("POST /sync", a.handleSync)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("starting front-desk agent",
		slog.String("service", "agent"),
		slog.String("listen", cfg.ListenAddr),
		slog.String("server", cfg.ServerURL),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("failed to start agent API", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
