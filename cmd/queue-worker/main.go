// cmd/queue-worker/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reminder-workers/internal/common/config"
	"reminder-workers/internal/common/database"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/common/observability"
	"reminder-workers/internal/delivery"
	"reminder-workers/internal/push"
	"reminder-workers/internal/queue"
	"reminder-workers/internal/repository"
	"reminder-workers/internal/scheduler"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting queue worker...")

	obs := observability.New("queue-worker")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init RabbitMQ with retry ---
	var manager *queue.Manager
	err = retryWithBackoff(func() error {
		var err error
		manager, err = queue.NewManager(cfg.Queue, log)
		return err
	}, 10, 2*time.Second, zapLog, "RabbitMQ connection")

	if err != nil {
		zapLog.Fatal("rabbitmq failed after retries", zap.Error(err))
	}
	defer manager.Close()
	zapLog.Info("RabbitMQ connected successfully")

	// --- Wire the delivery pipeline ---
	reminders := repository.NewPostgresReminderStore(pg, log)
	subscriptions := repository.NewPostgresSubscriptionStore(pg, log)

	transport := push.NewTransport(cfg.Push, log)
	dispatcher := delivery.NewDispatcher(subscriptions, transport, cfg.Dispatch.BatchSize, log)
	matcher := delivery.NewMatcher(reminders, cfg.Scheduler.Location(), cfg.Scheduler.LookbackMinutes, log)

	consumer := queue.NewConsumer(manager, reminders, dispatcher, cfg.Queue, cfg.Scheduler.Location(), obs, log)

	enqueuer := scheduler.NewEnqueuer(matcher, manager, log)
	if err := enqueuer.Start(); err != nil {
		zapLog.Fatal("failed to start enqueuer", zap.Error(err))
	}
	defer enqueuer.Stop()

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.Server.Addr()))
		if err := http.ListenAndServe(cfg.Server.Addr(), nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Consumer loop ---
	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx)
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping consumer...")
		cancel()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			zapLog.Warn("consumer did not stop within grace period")
		}
	case err := <-done:
		if err != nil {
			zapLog.Error("consumer stopped with error", zap.Error(err))
		}
	}

	zapLog.Info("Queue worker stopped gracefully")
}
