package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	accounthandler "confirmit/internal/account/handler"
	accountservice "confirmit/internal/account/service"
	accountstore "confirmit/internal/account/store"
	"confirmit/internal/analyzer"
	"confirmit/internal/anchor"
	"confirmit/internal/artifact"
	"confirmit/internal/business"
	"confirmit/internal/events"
	"confirmit/internal/platform/config"
	"confirmit/internal/platform/httpserver"
	"confirmit/internal/platform/logger"
	"confirmit/internal/platform/metrics"
	platformredis "confirmit/internal/platform/redis"
	"confirmit/internal/progress"
	receipthandler "confirmit/internal/receipt/handler"
	receiptservice "confirmit/internal/receipt/service"
	receiptstore "confirmit/internal/receipt/store"
	httptransport "confirmit/internal/transport/http"
)

// busGrace is how long a finished job's progress channel lingers for slow
// subscribers.
const busGrace = 30 * time.Second

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal service packages.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	m := metrics.New()
	bus := progress.NewBus(busGrace)
	checks := map[string]httptransport.HealthCheck{}

	var (
		jobStore     receiptstore.Store = receiptstore.NewMemoryStore()
		accountStore accountstore.Store = accountstore.NewMemoryStore()
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		pgJobs := receiptstore.NewPostgres(db)
		pgAccounts := accountstore.NewPostgres(db)
		if err := pgJobs.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := pgAccounts.EnsureSchema(ctx); err != nil {
			return err
		}
		jobStore = pgJobs
		accountStore = pgAccounts
		checks["postgres"] = db.PingContext
		log.Info("using postgres stores")
	}

	if rdb, err := platformredis.New(context.Background(), cfg.Redis); err != nil {
		return err
	} else if rdb != nil {
		defer rdb.Close()
		accountStore = accountstore.NewRedis(rdb.Client)
		checks["redis"] = rdb.Health
		log.Info("using redis reputation store")
	}

	storage, err := artifact.NewFSStorage(cfg.ArtifactDir, cfg.PublicBaseURL)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		publisher = kafka
		log.Info("publishing verification events", "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	backend := analyzer.NewHTTPClient(cfg.AnalysisURL, cfg.AnalysisTimeout)
	var anchorer anchor.Anchorer
	if cfg.AnchorURL != "" {
		anchorer = anchor.NewHTTPAnchorer(cfg.AnchorURL)
	}

	receipts := receiptservice.New(jobStore, bus, storage, backend, anchorer, publisher,
		m, log, cfg.MaxConcurrentAnalyses, cfg.AnalysisTimeout)
	accounts := accountservice.New(accountStore, backend, business.NewMemoryDirectory(),
		publisher, m, log, cfg.RefreshWindow)

	artifactFiles := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(cfg.ArtifactDir)))
	router := httptransport.NewRouter(log, cfg.JWTSigningKey, checks,
		receipthandler.New(receipts, bus, log),
		accounthandler.New(accounts, log),
		httptransport.RegisterFunc(func(r chi.Router) {
			r.Method(http.MethodGet, "/artifacts/*", artifactFiles)
		}),
	)

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting confirmit", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
