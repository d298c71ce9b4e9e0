package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/rssa-lab/rssa-server/internal/api"
	"github.com/rssa-lab/rssa-server/internal/config"
	"github.com/rssa-lab/rssa-server/internal/db"
	"github.com/rssa-lab/rssa-server/internal/logging"
	"github.com/rssa-lab/rssa-server/internal/middleware"
	"github.com/rssa-lab/rssa-server/internal/services"
)

func main() {
	configPath := flag.String("config", os.Getenv("RSSA_CONFIG"), "path to config file")
	migrationsDir := flag.String("migrations", "", "override directory for SQL migrations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	logger := logging.With("server")

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Msg("create data directory")
		}
	}
	sqlDB, err := sql.Open("sqlite3", cfg.Database.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer sqlDB.Close()
	if err := db.RunMigrations(sqlDB, *migrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	store, err := db.NewSQLiteStore(sqlDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("init store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret)

	strategies := map[string]services.Strategy{}
	if cfg.Recommender.ScoringURL != "" {
		for name, path := range cfg.Recommender.Strategies {
			strategies[name] = services.NewEndpointStrategy(cfg.Recommender.ScoringURL, path, cfg.Recommender.Timeout)
		}
	} else {
		logger.Warn().Msg("recommender.scoring_url not set; recommendation strategies disabled")
	}

	opts := api.Options{
		Studies:      services.NewStudyService(store),
		Steps:        services.NewStepService(store),
		Pages:        services.NewPageService(store),
		Constructs:   services.NewConstructService(store),
		Responses:    services.NewResponseService(store),
		Participants: services.NewParticipantService(store),
		Users:        services.NewUserService(store, auth.SignToken, cfg.Auth.TokenTTL),
		Recommender:  services.NewRecommenderService(store, strategies, services.NewCacheMetrics(registry)),
		Auth:         auth,

		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SubmitRateLimit: cfg.Server.SubmitRateLimit,
		Logger:          logging.With("http"),
		Registry:        registry,
	}
	handler := api.NewServer(opts).Routes(opts)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}
}
