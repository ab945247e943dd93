// Command server runs the ctrl+v license server: passwordless magic-code
// login, session-token entitlement checks, and Paddle webhook ingestion.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctrlv-app/license-server/internal/api"
	"github.com/ctrlv-app/license-server/internal/auth"
	"github.com/ctrlv-app/license-server/internal/billing"
	"github.com/ctrlv-app/license-server/internal/config"
	"github.com/ctrlv-app/license-server/internal/db"
	"github.com/ctrlv-app/license-server/internal/email"
	"github.com/ctrlv-app/license-server/internal/obs"
	"github.com/ctrlv-app/license-server/internal/ratelimit"
)

const cleanupInterval = time.Hour

func main() {
	obs.Init()
	log := obs.Pkg("main")

	noEmail, addr, dbPath := config.ParseFlags()
	cfg, err := config.Load(noEmail, addr, dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.PrintStartupSummary()

	database, err := db.Open(cfg.DatabasePath, cfg.DatabaseKey)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	var sender email.Service
	switch {
	case cfg.NoEmail:
		sender = email.NewMockService()
	case cfg.EmailConfigured():
		sender = email.NewResendService(cfg.ResendAPIKey, cfg.ResendFromEmail)
	default:
		sender = email.Disabled{}
	}

	authSvc := auth.NewService(database, sender, auth.Options{
		Pepper:          cfg.MagicCodePepper,
		CodeLifetime:    cfg.CodeLifetime,
		SessionLifetime: cfg.SessionLifetime,
		TrialDays:       cfg.TrialDays,
		AllowDevCode:    cfg.AllowDevCodeBody,
	})
	billingSvc := billing.NewService(database, billing.Options{
		WebhookSecret: cfg.PaddleWebhookSecret,
		Tolerance:     cfg.SignatureTolerance,
	})

	issueLimiter := ratelimit.New(cfg.CodeRequestLimit)
	defer issueLimiter.Stop()
	verifyLimiter := ratelimit.New(cfg.CodeVerifyLimit)
	defer verifyLimiter.Stop()

	authHandler := auth.NewHandler(authSvc, issueLimiter, verifyLimiter)
	billingHandler := billing.NewHandler(billingSvc)

	mux := http.NewServeMux()
	mux.HandleFunc("/request-magic-code", api.Endpoint(authHandler.RequestMagicCode))
	mux.HandleFunc("/verify-magic-code", api.Endpoint(authHandler.VerifyMagicCode))
	mux.HandleFunc("/subscription-status", api.Endpoint(authHandler.SubscriptionStatus))
	mux.HandleFunc("/paddle-webhook", api.Endpoint(billingHandler.HandleWebhook))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.SQL().PingContext(r.Context()); err != nil {
			api.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	handler := obs.RequestContextMiddleware(obs.AccessLogMiddleware("server", mux))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, authSvc)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Error("server stopped", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}

// cleanupLoop deletes expired magic codes and sessions every hour. Rows
// are already invisible to lookups once expired; this just reclaims
// space.
func cleanupLoop(ctx context.Context, svc *auth.Service) {
	log := obs.Pkg("cleanup")
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := svc.CleanupExpired(ctx)
			if err != nil {
				log.Error("cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("expired rows removed", "rows", removed)
			}
		}
	}
}
