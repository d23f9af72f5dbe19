package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/recipesurvey/internal/api"
	"github.com/soaringjerry/recipesurvey/internal/jobs"
	"github.com/soaringjerry/recipesurvey/internal/metrics"
	"github.com/soaringjerry/recipesurvey/internal/middleware"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the survey HTTP server and background sweep",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := importLegacyIfNeeded(ctx, a, cfg.Database.LegacyDir, logger); err != nil {
		return fmt.Errorf("legacy import: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	a.sessions.SetObserver(m)

	authn := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	auth := services.NewAuthService(cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash, authn.SignToken, cfg.Auth.AdminTokenTTL)
	if !auth.Enabled() {
		logger.Warn("admin login disabled: no admin password hash configured")
	}
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, cfg.Server.TrustProxy)
	}

	rt := api.NewRouter(api.Deps{
		Sessions:       a.sessions,
		Exports:        a.exports,
		Analytics:      a.stats,
		Auth:           auth,
		Authn:          authn,
		Limiter:        limiter,
		Observer:       m,
		Gatherer:       prometheus.DefaultGatherer,
		Health:         a.store,
		Logger:         logger.With("component", "http"),
		ParticipantTTL: cfg.Auth.ParticipantTokenTTL,
		ExportCooldown: cfg.Auth.ExportCooldown,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Commit:         cfg.Server.Commit,
		BuildTime:      cfg.Server.BuildTime,
	})
	mux := http.NewServeMux()
	rt.Register(mux)
	mountFrontend(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           rt.Wrap(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Jobs.SweepInterval > 0 {
		sweep, err := jobs.NewExpirySweep(cfg.Jobs.SweepInterval, a.sessions, m, logger.With("component", "sweep"))
		if err != nil {
			return err
		}
		sweep.Start()
		g.Go(func() error {
			<-gctx.Done()
			return sweep.Shutdown()
		})
	}
	g.Go(func() error {
		logger.Info("survey server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// mountFrontend serves the participant UI: static files when a directory is
// configured, otherwise a proxy to the frontend dev server if one is set.
func mountFrontend(mux *http.ServeMux) {
	if dir := cfg.Server.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
		return
	}
	if devURL := cfg.Server.DevFrontendURL; devURL != "" {
		u, err := url.Parse(devURL)
		if err != nil {
			logger.Warn("invalid dev frontend url", "url", devURL, "err", err)
			return
		}
		rp := httputil.NewSingleHostReverseProxy(u)
		rp.ModifyResponse = func(res *http.Response) error {
			res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			return nil
		}
		mux.Handle("/", rp)
	}
}
