package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"unionvote/internal/app"
	jwttoken "unionvote/internal/jwt_token"
	"unionvote/internal/platform/config"
	"unionvote/internal/platform/httpserver"
	"unionvote/internal/platform/logger"
	"unionvote/internal/platform/metrics"
	"unionvote/internal/voting/handler"
	"unionvote/internal/voting/lifecycle"
	"unionvote/pkg/platform/httputil"
	"unionvote/pkg/platform/middleware/admin"
	"unionvote/pkg/platform/middleware/auth"
	"unionvote/pkg/platform/middleware/metadata"
	"unionvote/pkg/platform/middleware/requesttime"
)

// main wires configuration, backends and services, then serves HTTP and runs
// the lifecycle sweeper until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, closer := logger.New(cfg.Logging)
	defer closer.Close()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpserver.New(cfg.Server.Addr, newRouter(a))
	sweeper := lifecycle.NewSweeper(a.Lifecycle, cfg.Voting.SweepInterval, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(ctx, srv, log, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		if err := sweeper.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func newRouter(a *app.App) http.Handler {
	cfg := a.Config
	httpMetrics := metrics.New(a.Registry)

	opts := []handler.Option{handler.WithAuditPublisher(a.AuditPublisher())}
	if a.Passkeys != nil {
		opts = append(opts, handler.WithPasskeys(a.Passkeys))
	}
	h := handler.New(a.Lifecycle, a.Ledger, a.Eligibility, a.Tabulation, a.Logger, opts...)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			a.Logger.WarnContext(ctx, "readiness check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", httpMetrics.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, a.Logger))
		h.RegisterAdmin(r)
	})

	validator := jwttoken.NewValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.RequireMember(validator, a.Logger))
		h.RegisterMember(r)
	})
	return r
}
