package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/crisisflow/internal/auth"
	"github.com/mindhaven/crisisflow/internal/config"
	"github.com/mindhaven/crisisflow/internal/escalation"
	"github.com/mindhaven/crisisflow/internal/gateway"
	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/internal/orchestrator"
	"github.com/mindhaven/crisisflow/internal/outcome"
	"github.com/mindhaven/crisisflow/internal/profile"
	"github.com/mindhaven/crisisflow/internal/resources"
	"github.com/mindhaven/crisisflow/internal/scheduler"
	"github.com/mindhaven/crisisflow/internal/store"
	"github.com/mindhaven/crisisflow/pkg/clock"
	"github.com/mindhaven/crisisflow/pkg/messaging"
	"github.com/mindhaven/crisisflow/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No severity policy means no safe operation; refuse to start.
		log.Fatalf("configuration error: %v", err)
	}

	logger := logging.New(cfg.Log.Level)
	clk := clock.New()

	db, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		log.Fatalf("opening postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("postgres unreachable: %v", err)
	}

	workflows := store.NewPostgres(db)
	if err := workflows.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("preparing schema: %v", err)
	}

	catalog := resources.NewPostgresCatalog(db)
	if err := catalog.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("preparing resource catalog: %v", err)
	}
	if err := catalog.Seed(ctx, resources.DefaultCatalog()); err != nil {
		cancel()
		log.Fatalf("seeding resource catalog: %v", err)
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()
	cache := store.NewCache(rdb)

	bus, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATS.URL,
		Name:           "crisisd",
		ReconnectWait:  cfg.NATS.ReconnectWait,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("connecting to NATS: %v", err)
	}
	defer bus.Close()

	var quality *metrics.Writer
	if cfg.Influx.URL != "" {
		quality = metrics.NewWriter(metrics.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer quality.Close()
		go func() {
			for err := range quality.Errors() {
				logger.Warn("metrics write failed", "error", err)
			}
		}()
	}

	directory := profile.NewClient(cfg.Profile.BaseURL, cfg.Profile.Timeout)
	selector := resources.NewSelector(catalog)

	var escRecorder escalation.Recorder
	if quality != nil {
		escRecorder = quality
	}
	engine := escalation.NewEngine(escalation.Policy{
		StepTimeouts: cfg.Policy.StepTimeoutsByType(),
		Roster:       cfg.Policy.Roster,
	}, selector, bus, escRecorder, logger)

	followUps := outcome.NewFollowUpTimer(clk, bus, workflows, logger)
	defer followUps.Stop()

	var recorder outcome.QualityRecorder
	if quality != nil {
		recorder = quality
	}
	tracker := outcome.NewTracker(workflows, followUps, recorder, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Store:     workflows,
		Cache:     cache,
		Directory: directory,
		Picker:    selector,
		Engine:    engine,
		Tracker:   tracker,
		Notifier:  bus,
		Events:    bus,
		Clock:     clk,
		Log:       logger,
		Timing: orchestrator.Timing{
			FirstSafetyCheck:    cfg.Policy.FirstSafetyCheck,
			SafetyCheckInterval: cfg.Policy.SafetyCheckInterval,
			ProgressReviewAfter: cfg.Policy.ProgressReviewAfter,
			ReassessmentAfter:   cfg.Policy.ReassessmentAfter,
			FirstContactWindow:  cfg.Policy.FirstContactWindow,
			StabilizeWindow:     cfg.Policy.StabilizeWindow,
		},
		MailboxSize: cfg.Orchestrator.MailboxSize,
	})

	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	resumed, err := orch.Resume(resumeCtx)
	resumeCancel()
	if err != nil {
		log.Fatalf("resuming workflows: %v", err)
	}
	logger.Info("service starting", "resumed_workflows", resumed)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	sched := scheduler.New(orch, engine, nil, bus, clk, scheduler.Config{
		TickInterval:   cfg.Scheduler.TickInterval,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	}, logger)
	sched.Start(runCtx)

	feed, err := gateway.NewFeed(bus, logger)
	if err != nil {
		log.Fatalf("starting timeline feed: %v", err)
	}
	defer feed.Close()

	gw := gateway.New(gateway.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, orch, auth.NewService(cfg.Auth.JWTSecret), feed, logger)

	go func() {
		logger.Info("gateway listening", "addr", cfg.HTTP.Addr)
		if err := gw.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("snapshot flush incomplete", "error", err)
	}
	logger.Info("stopped")
}
