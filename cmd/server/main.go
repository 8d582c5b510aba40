package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/smartward/backend/internal/ai"
	"github.com/smartward/backend/internal/cache"
	"github.com/smartward/backend/internal/config"
	"github.com/smartward/backend/internal/db"
	httpapi "github.com/smartward/backend/internal/http"
	"github.com/smartward/backend/internal/notify"
	"github.com/smartward/backend/internal/realtime"
	"github.com/smartward/backend/internal/service"
)

type backend interface {
	service.IssueStore
	service.StaffDirectory
	notify.Store
	Ping(ctx context.Context) error
}

// @title SmartWard Backend
// @version 1.0
// @description Hostel issue reporting with AI triage, duplicate detection and staff assignment.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "smartward-backend").Logger()

	ctx := context.Background()
	var store backend
	if cfg.DatabaseURL == "" {
		store = db.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
		store = pg
	}

	hub := realtime.NewHub(logger)
	go hub.Run()
	defer hub.Close()
	broadcasters := realtime.Fanout{hub}

	var suggestionCache ai.Cache
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; continuing without it")
		} else {
			suggestionCache = cache.NewRedisCache(rdb)
			broadcasters = append(broadcasters, realtime.NewRedisPublisher(rdb, cfg.TopicPrefix))
		}
	}
	if cfg.MQTTBrokerURL != "" {
		pub, err := realtime.ConnectMQTT(realtime.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.TopicPrefix,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn().Err(err).Str("broker", cfg.MQTTBrokerURL).Msg("mqtt unavailable; continuing without it")
		} else {
			defer pub.Close()
			broadcasters = append(broadcasters, pub)
		}
	}

	var (
		classifier ai.Classifier = ai.Disabled{}
		similarity ai.Classifier
		kb         ai.KnowledgeBase
	)
	if cfg.MLServiceURL != "" {
		c := ai.NewHTTPClassifier(cfg.MLServiceURL, cfg.ClassifyTimeout)
		classifier, similarity = c, c
	} else {
		logger.Info().Msg("ML_SERVICE_URL not set; classification uses keyword rules")
	}
	if cfg.RAGServiceURL != "" {
		kb = ai.NewHTTPKnowledgeBase(cfg.RAGServiceURL, cfg.SuggestTimeout, suggestionCache, cfg.SuggestionTTL)
	}

	orchestrator := &service.Orchestrator{
		Issues: store,
		Staff:  store,
		Classifier: &service.ClassificationAdapter{
			AI:             classifier,
			KB:             kb,
			Timeout:        cfg.ClassifyTimeout,
			SuggestTimeout: cfg.SuggestTimeout,
			Logger:         logger,
		},
		Duplicates: &service.DuplicateDetector{
			Issues:    store,
			AI:        similarity,
			Window:    cfg.DuplicateWindow,
			Threshold: cfg.DuplicateThreshold,
			Timeout:   cfg.ClassifyTimeout,
			Logger:    logger,
		},
		KB:                 kb,
		Notifier:           notify.New(store, broadcasters, logger),
		Broadcaster:        broadcasters,
		Logger:             logger,
		ConfirmThreshold:   cfg.ConfirmThreshold,
		TitleFailsafeScore: cfg.TitleFailsafeScore,
		KBAddTimeout:       cfg.KBAddTimeout,
		SideEffectTimeout:  cfg.SideEffectTimeout,
	}

	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set; authenticated routes will reject every request")
	}
	router := httpapi.Router(cfg, orchestrator, store, hub, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// SSE streams never finish on their own; closing the hub ends them.
	hub.Close()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	orchestrator.Wait()
	logger.Info().Msg("server stopped")
}
