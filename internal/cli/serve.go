package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/agentdao/internal/analysis"
	"github.com/ILLUVRSE/agentdao/internal/auth"
	"github.com/ILLUVRSE/agentdao/internal/chain"
	"github.com/ILLUVRSE/agentdao/internal/config"
	"github.com/ILLUVRSE/agentdao/internal/deliberation"
	"github.com/ILLUVRSE/agentdao/internal/httpserver"
	"github.com/ILLUVRSE/agentdao/internal/ledger"
	"github.com/ILLUVRSE/agentdao/internal/lifecycle"
	"github.com/ILLUVRSE/agentdao/internal/notify"
	"github.com/ILLUVRSE/agentdao/internal/scheduler"
	"github.com/ILLUVRSE/agentdao/internal/seed"
	"github.com/ILLUVRSE/agentdao/internal/store"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the governance API",
		Run:   runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		sinks   []ledger.Sink
		archive httpserver.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		pg := ledger.NewPGArchive(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema: %v", err)
		}
		sinks = append(sinks, pg)
		archive = pg
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := ledger.NewKafkaSink(ledger.KafkaSinkConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			log.Fatalf("kafka sink init: %v", err)
		}
		sinks = append(sinks, k)
	}
	if cfg.S3Bucket != "" {
		s3, err := ledger.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("s3 archiver init: %v", err)
		}
		sinks = append(sinks, s3)
	}

	var (
		exporter   lifecycle.Exporter
		streamer   *ledger.Streamer
		streamDone chan struct{}
	)
	if !cfg.ExportEnabled() {
		log.Printf("[startup] ledger export disabled")
	}
	if len(sinks) > 0 {
		streamer = ledger.NewStreamer(ledger.NewChain(nil), sinks, ledger.StreamerConfig{
			Buffer:      cfg.StreamBuffer,
			Concurrency: cfg.StreamConcurrency,
		})
		exporter = streamer
		streamDone = make(chan struct{})
		go func() {
			defer close(streamDone)
			_ = streamer.Run(ctx)
		}()
	}

	var submitter chain.Submitter
	if cfg.ChainRPCURL != "" {
		sub, err := chain.NewHTTPSubmitter(chain.HTTPSubmitterConfig{
			URL:     cfg.ChainRPCURL,
			Timeout: 5 * time.Second,
			Retries: cfg.ChainRetries,
		})
		if err != nil {
			log.Fatalf("chain client init: %v", err)
		}
		submitter = sub
	}

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		log.Fatalf("auth init: %v", err)
	}
	if verifier.Open() {
		log.Printf("[startup] no JWT keys or debug token configured; write routes are open")
	}

	sched := scheduler.NewReal(0)
	go func() { _ = sched.Run(ctx) }()

	feed := notify.NewFeed(100, nil)
	dcfg := deliberation.DefaultConfig()
	dcfg.TimeUnit = cfg.TimeUnit
	ctrl := lifecycle.New(lifecycle.Options{
		Store:        store.NewMemoryStore(seed.Initial(cfg.SeedDemoData, time.Now().UTC())),
		Scheduler:    sched,
		Seed:         cfg.Seed,
		Deliberation: dcfg,
		Notifier:     notify.Multi{feed, notify.NewLogNotifier(nil)},
		Exporter:     exporter,
		Chain:        submitter,
	})

	server := httpserver.New(ctrl, verifier, feed, archive)
	if cfg.AgentLLMURL != "" {
		analyzer, err := analysis.NewClient(analysis.ClientConfig{
			URL:     cfg.AgentLLMURL,
			APIKey:  cfg.AgentLLMKey,
			Model:   cfg.AgentLLMModel,
			Retries: 1,
		})
		if err != nil {
			log.Fatalf("agent analysis init: %v", err)
		}
		server.WithAnalyzer(analyzer)
	}
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("agentdao listening on %s (time unit %s, sinks=%d)", cfg.Addr, cfg.TimeUnit, len(sinks))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
	ctrl.WaitChain()
	if streamDone != nil {
		<-streamDone
		if n := streamer.Dropped(); n > 0 {
			log.Printf("[shutdown] ledger export dropped %d envelopes", n)
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	cancel()
}
