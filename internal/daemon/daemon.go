package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quillworks/quill/internal/api"
	"github.com/quillworks/quill/internal/app/activity"
	"github.com/quillworks/quill/internal/app/streak"
	"github.com/quillworks/quill/internal/app/sweep"
	"github.com/quillworks/quill/internal/health"
	signalhub "github.com/quillworks/quill/internal/infra/signal"
	"github.com/quillworks/quill/internal/infra/sqlite"
)

// Daemon is the core Quill runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Log     *logrus.Logger
	DB      *sqlite.DB
	Streaks *streak.Service
	Sweeper *sweep.Job
	Hub     *signalhub.Hub
	Health  *health.Checker
	Server  *api.Server
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	db, err := sqlite.Open(quillHome(), sqlite.Defaults{
		Timezone:         cfg.Economy.Timezone,
		MinStreakMinutes: cfg.Economy.MinStreakMinutes,
		MaxFreezes:       cfg.Economy.MaxFreezes,
		FreezeCostXP:     cfg.Economy.FreezeCostXP,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	agg := activity.NewAggregator(db)
	hub := signalhub.NewHub()
	streaks := streak.NewService(db, agg, db, db, hub, cfg.Sweep.LookbackDays)
	sweeper := sweep.New(db, agg, db, cfg.Sweep.Secret, cfg.Sweep.Workers, log)

	checker := health.NewChecker(db, quillHome())

	srv := api.NewServer(db, streaks, sweeper, hub, log)
	srv.SetHealth(checker)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Streaks: streaks,
		Sweeper: sweeper,
		Hub:     hub,
		Health:  checker,
		Server:  srv,
	}, nil
}

// newLogger builds the daemon logger from config. Unknown levels fall back
// to info.
func newLogger(cfg LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			log.SetOutput(f)
		}
	}
	return log
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for the SSE celebration stream
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("Quill serving on http://%s\n", addr)
	if d.Config.Sweep.Secret == "" {
		fmt.Println("  Sweep: disabled (no secret configured)")
	}
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
