package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/auth"
	"github.com/hamed0406/uptimesentry/internal/billing"
	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/config"
	"github.com/hamed0406/uptimesentry/internal/entitlement"
	"github.com/hamed0406/uptimesentry/internal/httpapi"
	"github.com/hamed0406/uptimesentry/internal/logging"
	"github.com/hamed0406/uptimesentry/internal/monitor"
	"github.com/hamed0406/uptimesentry/internal/notify"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo"
	"github.com/hamed0406/uptimesentry/internal/repo/postgres"
	"github.com/hamed0406/uptimesentry/internal/repo/sqlite"
	"github.com/hamed0406/uptimesentry/internal/scheduler"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_failed", zap.Error(err))
	}

	clk := clock.Real{}
	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("jwt_secret_generated", zap.String("hint", "set JWT_SECRET so sessions survive restarts"))
	}
	tokens, err := auth.NewTokens(secret, cfg.TokenTTL, clk)
	if err != nil {
		logger.Fatal("tokens_init_failed", zap.Error(err))
	}

	var prober probe.Prober = probe.NewHTTPProber(cfg.HTTPTimeout)
	if cfg.RetryAttempts > 1 {
		prober = &probe.RetryProber{Inner: prober, Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	}

	gate := entitlement.New(store)
	mon := monitor.New(store, prober, notify.NewAlerter(buildSender(cfg, logger)), clk, logger)
	sweeper := scheduler.NewSweeper(logger, gate, store, mon, clk, cfg.CheckInterval, cfg.MaxConcurrentChecks)

	api := &httpapi.Server{
		Logger:   logger,
		Store:    store,
		Gate:     gate,
		Checker:  mon,
		Sweeper:  sweeper,
		Tokens:   tokens,
		Clock:    clk,
		Diagnose: probe.DiagnoseDNS,
		Opts: httpapi.Options{
			MaxEndpoints:   cfg.MaxEndpointsPerAcct,
			TrialPeriod:    cfg.TrialPeriod,
			AllowedOrigins: cfg.AllowedOrigins,
			AdminKeys:      cfg.AdminAPIKeys,
			AuthRPM:        cfg.AuthRPM,
			AuthBurst:      cfg.AuthBurst,
			WSPushInterval: cfg.WSPushInterval,
		},
	}
	if cfg.StripeWebhookSecret != "" {
		api.Billing = billing.NewHandler(store, cfg.StripeWebhookSecret, logger)
	} else {
		logger.Warn("billing_disabled", zap.String("reason", "STRIPE_WEBHOOK_SECRET not set"))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper.Start(ctx)
	logger.Info("sweeper_started",
		zap.Duration("interval", cfg.CheckInterval),
		zap.Int("concurrency", cfg.MaxConcurrentChecks),
	)

	errc := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_listen_failed", zap.Error(err))
		}
	}

	sweeper.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := multierr.Combine(srv.Shutdown(sctx), store.Close()); err != nil {
		logger.Warn("shutdown_errors", zap.Error(err))
	}
	logger.Info("shutdown_complete")
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	if cfg.IsPostgres() {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("store_selected", zap.String("kind", "postgres"))
		return pg, nil
	}
	s, err := sqlite.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("store_selected", zap.String("kind", "sqlite"), zap.String("path", cfg.DatabaseURL))
	return s, nil
}

// buildSender returns the account email channel first, then any operator
// mirrors that are configured.
func buildSender(cfg config.Config, logger *zap.Logger) notify.Sender {
	var senders notify.Multi
	if cfg.SMTPHost != "" {
		s, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		if err != nil {
			logger.Warn("smtp_disabled", zap.Error(err))
		} else {
			senders = append(senders, s)
		}
	}
	if len(senders) == 0 {
		senders = append(senders, notify.LogSender{Log: logger})
	}
	if cfg.SlackWebhookURL != "" {
		senders = append(senders, notify.NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookURL != "" {
		d, err := notify.NewDiscord(cfg.DiscordWebhookURL)
		if err != nil {
			logger.Warn("discord_disabled", zap.Error(err))
		} else {
			senders = append(senders, d)
		}
	}
	return senders
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
