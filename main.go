package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"auctionwatch/config"
	"auctionwatch/hub"
	"auctionwatch/logging"
	"auctionwatch/models"
	"auctionwatch/monitor"
	"auctionwatch/notify"
	"auctionwatch/scheduler"
	"auctionwatch/server"
	"auctionwatch/source"
	"auctionwatch/storage"
)

var (
	detectNow = flag.Bool("detect", false, "Run one detection pass and exit")
	ingestNow = flag.Bool("ingest", false, "Run one source ingest and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting auctionwatch...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	// Delivery channels from config/channels/*.yaml. Without any, external
	// sends go to the log only.
	var sink notify.Sink
	targets := make(map[models.Channel]notify.WebhookTarget)
	limits := make(map[models.Channel]rate.Limit)
	bursts := make(map[models.Channel]int)
	for _, ch := range cfg.Channels {
		channel := models.Channel(ch.Kind)
		targets[channel] = notify.WebhookTarget{Endpoint: ch.Endpoint, AuthToken: ch.AuthToken}
		if ch.RatePerSec > 0 {
			limits[channel] = rate.Limit(ch.RatePerSec)
			bursts[channel] = ch.Burst
		}
	}
	if len(targets) > 0 {
		sink = notify.NewWebhookSink(targets)
		log.Printf("Loaded %d delivery channels", len(targets))
	} else {
		sink = notify.NoopSink{}
		log.Println("No delivery channels configured, using noop sink")
	}

	dispatcher := notify.NewDispatcher(pgStore, sink, notify.DispatcherOptions{
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		Backoff:    cfg.Dispatch.Backoff,
		Limits:     limits,
		Bursts:     bursts,
	})
	defer dispatcher.Stop()

	notifier := notify.NewScheduler(pgStore, dispatcher, cfg.Monitor.DetectInterval)

	broadcastHub := hub.New(cfg.Hub.HeartbeatTimeout)

	detector := monitor.NewDetector(pgStore, pgStore)
	reminders := monitor.NewReminderScanner(pgStore, cfg.Monitor.ReminderInterval)
	mon := monitor.New(detector, reminders, pgStore, notifier, broadcastHub)
	mon.SetRunRecorder(sqliteStore)

	var ingestor *source.Ingestor
	if len(cfg.Source.States) > 0 {
		hudClient := source.NewHUDClient(cfg.Source.BaseURL, cfg.Source.DelayMS)
		ingestor = source.NewIngestor(hudClient, pgStore, cfg.Source.States)
		log.Printf("Ingest configured for states: %v", cfg.Source.States)
	} else {
		log.Println("No ingest states configured")
	}

	// One-shot modes
	if *detectNow {
		log.Println("Running detection...")
		if err := mon.RunDetect(ctx); err != nil {
			log.Fatalf("Detection failed: %v", err)
		}
		log.Println("Detection complete!")
		return
	}
	if *ingestNow {
		if ingestor == nil {
			log.Fatal("No ingest states configured (set INGEST_STATES)")
		}
		log.Println("Running ingest...")
		if err := ingestor.Run(ctx); err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}
		log.Println("Ingest complete!")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go broadcastHub.Run(ctx)

	var ingestRunner scheduler.Runner
	if ingestor != nil {
		ingestRunner = ingestor
	}
	sched := scheduler.New(cfg, sqliteStore,
		scheduler.RunnerFunc(mon.RunDetect),
		scheduler.RunnerFunc(mon.RunReminders),
		scheduler.RunnerFunc(func(ctx context.Context) error {
			_, err := notifier.Sweep(ctx)
			return err
		}),
		ingestRunner,
	)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := server.New(cfg.HTTPAddr, pgStore, broadcastHub)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
