package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/coopfin/backoffice/internal/config"
	"github.com/coopfin/backoffice/internal/repository"
	"github.com/coopfin/backoffice/internal/service"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)
	zlog.Info().Msg("starting ledger maintenance scheduler")

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	loanRepo := repository.NewLoanRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	// No redis in the maintenance process; recomputes hit the database
	// directly and the API refreshes its own cache on read.
	ledgerService := service.NewLedgerService(loanRepo, paymentRepo, ledgerRepo, nil, cfg)

	// Initialize cron scheduler
	c := cron.New(cron.WithSeconds())

	setupCronJobs(c, cfg, ledgerService)

	// Start the scheduler
	c.Start()
	zlog.Info().Msg("scheduler started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("shutting down scheduler")
	c.Stop()
	zlog.Info().Msg("scheduler stopped")
}

func setupLogging(cfg *config.Config) {
	if cfg.Logging.Format != "json" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, ledgerService *service.LedgerService) {
	// Nightly full-ledger recompute across all loans. Failures on single
	// loans are reported in the summary and do not stop the pass.
	_, err := c.AddFunc(cfg.Scheduler.RecomputeSpec, func() {
		zlog.Info().Msg("running nightly ledger recompute")

		summary, err := ledgerService.RecomputeAll(context.Background())
		if err != nil {
			zlog.Error().Err(err).Msg("nightly recompute aborted")
			return
		}

		zlog.Info().
			Int("processed", summary.Processed).
			Strs("failed", summary.Failed).
			Msg("nightly recompute done")
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to schedule recompute job")
	}

	// Daily delinquency sweep over active loans.
	_, err = c.AddFunc(cfg.Scheduler.DelinquencySpec, func() {
		zlog.Info().Msg("running delinquency sweep")

		marked, err := ledgerService.MarkDelinquents(context.Background())
		if err != nil {
			zlog.Error().Err(err).Msg("delinquency sweep aborted")
			return
		}

		zlog.Info().Int("marked", marked).Msg("delinquency sweep done")
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to schedule delinquency job")
	}

	zlog.Info().Msg("cron jobs scheduled")
}
