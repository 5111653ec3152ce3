// Package app wires the pipeline together and owns the process
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"support-mail-ai-go/internal/admission"
	"support-mail-ai-go/internal/ai"
	"support-mail-ai-go/internal/commerce"
	"support-mail-ai-go/internal/config"
	"support-mail-ai-go/internal/convlock"
	"support-mail-ai-go/internal/database"
	"support-mail-ai-go/internal/handlers"
	"support-mail-ai-go/internal/imagecache"
	"support-mail-ai-go/internal/ingest"
	"support-mail-ai-go/internal/mailbox"
	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/notify"
	"support-mail-ai-go/internal/queue"
	"support-mail-ai-go/internal/scheduler"
	"support-mail-ai-go/internal/server"
	"support-mail-ai-go/internal/store"
	"support-mail-ai-go/internal/vault"
	"support-mail-ai-go/internal/worker"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Support Mail AI Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	v, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	m := metrics.NewMetrics()
	st := store.New(db)
	q := queue.New(db)
	janitor := queue.NewJanitor(db, q)
	locker := convlock.New(db)
	admit := admission.New(db, nil)
	notifier := notify.New(db)
	images := imagecache.New(0, 0)

	aiClient := ai.NewClient(cfg.AI)
	classifier := ai.NewClassifier(aiClient)
	responder := ai.NewResponder(aiClient)
	orders := commerce.NewShopifyLookup(cfg.Commerce)

	ingestWorker := ingest.NewWorker(st, q, v, mailbox.ForCredentials, images, m, ingest.Config{
		ShopConcurrency: cfg.Scheduler.ShopConcurrency,
		FetchBatchSize:  cfg.Scheduler.FetchBatchSize,
		MaxAttempts:     cfg.Scheduler.MaxAttempts,
		WallClockBudget: cfg.Scheduler.WallClockBudget,
	})

	queueWorker := worker.NewWorker(st, q, admit, locker, classifier, responder, orders, v, notifier, mailbox.ForCredentials, images, m, worker.Config{
		JobBatchSize:    cfg.Scheduler.JobBatchSize,
		WallClockBudget: cfg.Scheduler.WallClockBudget,
		InterJobDelay:   cfg.Scheduler.InterJobDelay,
	})

	sched := scheduler.NewScheduler(&cfg.Scheduler, ingestWorker, queueWorker, janitor)

	h := handlers.NewHandlers(db, q, sched, m)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
