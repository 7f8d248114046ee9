package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-relay/internal/platform/config"
	"hls-relay/internal/platform/health"
	"hls-relay/internal/platform/logger"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/platform/ratelimit"
	"hls-relay/internal/relay"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Settings, log *slog.Logger) error {
	mode, err := relay.ParseExpiryMode(cfg.CredentialExpiry)
	if err != nil {
		return err
	}
	expiry := relay.ExpiryConfig{Mode: mode, TTL: cfg.CredentialTTL}

	hc := health.NewRegistry(2 * time.Second)

	var store relay.CredentialStore
	switch cfg.CredentialStore {
	case "redis":
		rs, err := relay.NewRedisStore(ctx, relay.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, expiry)
		if err != nil {
			return err
		}
		hc.Register("redis", rs.Ping)
		store = rs
	default:
		store = relay.NewMemoryStore(expiry)
	}
	defer store.Close()

	relayCfg := relay.RelayConfig{
		ContentHost:      cfg.ContentHost,
		Timeout:          cfg.UpstreamTimeout,
		ChunkSize:        cfg.ChunkSize,
		MaxManifestBytes: int64(cfg.MaxManifestBytes),
		AcceptLanguage:   cfg.AcceptLanguage,
		Origin:           cfg.Origin,
		RequestedWith:    cfg.RequestedWith,
	}
	rl := relay.NewRelay(relayCfg, relay.NewUpstreamClient(cfg.UpstreamHeaderTimeout))
	posts := relay.NewHTTPPostSource(cfg.APIBaseURL, relayCfg, nil, cfg.UpstreamTimeout)
	svc := relay.NewService(store, rl, posts)

	met := metrics.New()
	var opts []relay.HandlerOption
	if cfg.UpstreamUserAgent != "" {
		opts = append(opts, relay.WithUpstreamUserAgent(cfg.UpstreamUserAgent))
	}
	h := relay.NewHandler(svc, log, met, opts...)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetStoredCredentials(svc.StoredCredentials(r.Context())) }).ServeHTTP(w, r)
	})
	r.Method(http.MethodGet, "/healthz", hc)
	r.With(ratelimit.Middleware(ratelimit.Config{
		RequestLimit: cfg.PostRateLimit,
		WindowSize:   cfg.PostRateWindow,
	})).Get("/api/post/{channel_id}/{post_id}", h.GetPost)
	r.Get("/stream/p{post_id:[0-9]+}/*", h.Stream)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"content_host", cfg.ContentHost,
			"credential_store", cfg.CredentialStore,
			"credential_expiry", string(mode),
			"log_level", cfg.LogLevel,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.RunSweeper(gctx, store, cfg.SweepInterval, func(n int) {
			if n > 0 {
				log.Debug("expired credentials swept", "count", n)
				met.AddCredentialsSwept(n)
			}
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
