package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"ldapapi/internal/config"
	"ldapapi/internal/httpserver"
	"ldapapi/internal/ldap"
	"ldapapi/internal/logging"
	"ldapapi/internal/monitor"
	"ldapapi/internal/observability"
	"ldapapi/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "ldapapi", log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	ldapCfg, err := cfg.LDAPConfig()
	if err != nil {
		return err
	}
	dir := ldap.NewClient(ldapCfg, log)

	tokens, err := httpserver.NewTokens(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTCompany)
	if err != nil {
		return err
	}

	var apiOpts []httpserver.Option
	var monOpts []monitor.Option

	if cfg.DBURL != "" {
		db, err := storage.NewDB(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer db.Close()
		audits := storage.NewAuditRepo(db)
		apiOpts = append(apiOpts, httpserver.WithAuditor(audits))
		monOpts = append(monOpts, monitor.WithRecorder(audits))
		log.Info("audit log enabled")
	}

	if cfg.RedisAddr != "" {
		rdb, err := storage.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPass)
		if err != nil {
			log.Warn("redis unavailable; alert de-duplication is per instance", zap.Error(err))
		} else {
			defer func() { _ = rdb.Close() }()
			monOpts = append(monOpts, monitor.WithAlertLock(storage.NewAlertLock(rdb)))
		}
	}

	var notifier monitor.Notifier
	if cfg.AlertingEnabled() {
		notifier = monitor.NewMailNotifier(monitor.MailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			To:       cfg.AlertEmailTo,
		})
	} else {
		log.Info("alert email disabled (SMTP_HOST or ALERT_EMAIL_TO not set)")
	}

	mon := monitor.New(monitor.Config{
		URL:      cfg.LDAPURL,
		Domain:   cfg.LDAPDomain,
		Schedule: cfg.HealthCheckSchedule,
		Timeout:  monitor.DefaultProbeTimeout,
		Cooldown: cfg.AlertCooldown,
	}, notifier, log, monOpts...)

	api := httpserver.NewAPI(cfg, dir, tokens, log, apiOpts...)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           otelhttp.NewHandler(httpserver.NewRouter(api), "ldapapi"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      75 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
