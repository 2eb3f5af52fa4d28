package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/agendasalud/authd/internal/adapter/inbound/http"
	"github.com/agendasalud/authd/internal/adapter/outbound/sqlite"
	"github.com/agendasalud/authd/internal/config"
	"github.com/agendasalud/authd/internal/domain/password"
	"github.com/agendasalud/authd/internal/domain/token"
	"github.com/agendasalud/authd/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the authd HTTP API server.

The server opens (and migrates) the SQLite database, seeds the role table,
and exposes the authentication API plus /healthz and /metrics.

Examples:
  # Start with config file settings
  authd serve

  # Start with a specific config file
  authd --config /path/to/authd.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so the CLI flag can override first
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("authd stopped")
	return nil
}

// run wires all components together and serves until the context ends.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("dev mode enabled; do not use in production")
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	if err := store.SeedRoles(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}

	auditSvc := service.NewAuditService(store, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout)),
	)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	authority, err := token.NewAuthority(token.Config{
		SigningKey: []byte(cfg.Token.SigningKey),
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		Lifetime:   config.Duration(cfg.Token.Lifetime),
	})
	if err != nil {
		return fmt.Errorf("failed to create token authority: %w", err)
	}

	hasher := password.NewHasher()

	caseInsensitive := true
	if cfg.Security.CaseInsensitiveEmails != nil {
		caseInsensitive = *cfg.Security.CaseInsensitiveEmails
	}
	authSvc := service.NewAuthService(store, store, hasher, authority, auditSvc,
		service.SecurityPolicy{
			MaxFailedAttempts:     cfg.Security.MaxFailedAttempts,
			LockoutDuration:       config.Duration(cfg.Security.LockoutDuration),
			CaseInsensitiveEmails: caseInsensitive,
		}, logger)

	passwordSvc := service.NewPasswordService(store, store, hasher,
		logResetDelivery{logger: logger}, auditSvc,
		service.ResetPolicy{
			TokenLifetime:         config.Duration(cfg.PasswordReset.TokenLifetime),
			MinPasswordLength:     cfg.PasswordReset.MinPasswordLength,
			CaseInsensitiveEmails: caseInsensitive,
		}, logger)

	externalSvc := service.NewExternalAuthService(store, store, store, authSvc, auditSvc, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg, func() float64 {
		return float64(auditSvc.DroppedRecords())
	})

	health := http.NewHealthChecker(store, auditSvc, Version)
	handler := http.NewHandler(authSvc, passwordSvc, externalSvc, health, metrics, reg, logger)

	server := &stdhttp.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// logResetDelivery logs reset grants instead of sending them. Mail
// transport is intentionally out of process; an operator or a sidecar
// tails the log in deployments without SMTP.
type logResetDelivery struct {
	logger *slog.Logger
}

func (d logResetDelivery) DeliverResetToken(ctx context.Context, email, resetToken string, expiresAt time.Time) {
	d.logger.Info("password reset issued", "email", email, "expires_at", expiresAt.UTC())
	// The token itself only reaches debug output.
	d.logger.Debug("password reset token", "email", email, "token", resetToken)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
