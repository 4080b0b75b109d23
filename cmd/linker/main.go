// Package main provides the invitation linker: a Redis Streams consumer
// that links accepted arrivals to their invitation record. The linkage is
// best-effort by design; a check-in stands whether or not it succeeds.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/doorlist/doorlist/internal/config"
	"github.com/doorlist/doorlist/internal/logger"
	"github.com/doorlist/doorlist/internal/repository"
	"github.com/doorlist/doorlist/internal/stream"
)

const (
	redisBlockTimeout = 1000 // milliseconds
	errorRetryDelay   = 1 * time.Second
	signalBufferSize  = 1
	exitCode          = 1
	groupName         = "invitation-linker"
)

// Linker processes applied check-ins from the stream.
type Linker struct {
	redisClient rueidis.Client
	invites     repository.InvitationRepository
}

// NewLinker creates a linker instance.
func NewLinker(redisClient rueidis.Client, invites repository.InvitationRepository) *Linker {
	return &Linker{
		redisClient: redisClient,
		invites:     invites,
	}
}

// HandleApplied links one accepted arrival to its invitation, if any.
func (l *Linker) HandleApplied(ctx context.Context, event *stream.AppliedEvent) error {
	if err := l.invites.MarkAttended(ctx, event.GuestID, event.CheckedInAt); err != nil {
		return err
	}

	slog.Info("linked check-in to invitation",
		slog.String("guest_id", event.GuestID),
		slog.String("guest_email", event.GuestEmail),
	)

	return nil
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping linker")
		cancel()
	}()

	return ctx, cancel
}

func createConsumerGroup(ctx context.Context, redisClient rueidis.Client) {
	createGroupCmd := redisClient.B().XgroupCreate().Key(stream.Key).Group(groupName).Id("0").Mkstream().Build()
	if err := redisClient.Do(ctx, createGroupCmd).Error(); err != nil {
		slog.Info("consumer group creation result (may already exist)", slog.String("error", err.Error()))
	}
}

func runLinkerLoop(ctx context.Context, linker *Linker, consumerName string) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("linker stopped")
			return
		default:
			if err := linker.consumeMessages(ctx, consumerName); err != nil {
				slog.Error("error consuming messages", slog.String("error", err.Error()))
				time.Sleep(errorRetryDelay)
			}
		}
	}
}

func (l *Linker) readMessages(ctx context.Context, consumerName string) (map[string][]rueidis.XRangeEntry, error) {
	readCmd := l.redisClient.B().Xreadgroup().Group(groupName, consumerName).
		Count(10).
		Block(redisBlockTimeout).
		Streams().
		Key(stream.Key).
		Id(">").
		Build()

	result := l.redisClient.Do(ctx, readCmd)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil // block timeout, nothing pending
		}

		return nil, err
	}

	return result.AsXRead()
}

func (l *Linker) acknowledgeMessage(ctx context.Context, messageID string) {
	ackCmd := l.redisClient.B().Xack().Key(stream.Key).Group(groupName).Id(messageID).Build()
	if err := l.redisClient.Do(ctx, ackCmd).Error(); err != nil {
		slog.Error("failed to ACK message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Linker) consumeMessages(ctx context.Context, consumerName string) error {
	streams, err := l.readMessages(ctx, consumerName)
	if err != nil {
		return err
	}

	for _, messages := range streams {
		for _, message := range messages {
			if err := l.processMessage(ctx, message); err != nil {
				slog.Error("failed to process message",
					slog.String("message_id", message.ID),
					slog.String("error", err.Error()),
				)

				continue
			}

			l.acknowledgeMessage(ctx, message.ID)
		}
	}

	return nil
}

func (l *Linker) processMessage(ctx context.Context, message rueidis.XRangeEntry) error {
	eventType, ok := message.FieldValues["event_type"]
	if !ok {
		return errors.New("missing event_type in message")
	}

	payloadStr, ok := message.FieldValues["payload"]
	if !ok {
		return errors.New("missing payload in message")
	}

	if eventType != stream.EventTypeApplied {
		slog.Warn("unknown event type", slog.String("event_type", eventType))
		return nil
	}

	var event stream.AppliedEvent
	if err := json.Unmarshal([]byte(payloadStr), &event); err != nil {
		return fmt.Errorf("failed to parse applied payload: %w", err)
	}

	return l.HandleApplied(ctx, &event)
}

func main() {
	cfg, err := config.LoadLinker()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer pool.Close()

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	linker := NewLinker(redisClient, repository.NewPgInvitationRepository(pool))

	ctx, cancel := setupSignalHandling()
	defer cancel()

	createConsumerGroup(ctx, redisClient)

	slog.Info("starting invitation linker",
		slog.String("service", "linker"),
		slog.String("stream", stream.Key),
		slog.String("group", groupName),
		slog.String("consumer", cfg.ConsumerName),
	)

	runLinkerLoop(ctx, linker, cfg.ConsumerName)
}
