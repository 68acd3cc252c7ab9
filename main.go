package main

import (
	"context"
	"os"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/logger"
	"chatrelay/internal/redis"
	"chatrelay/internal/service/ai"
	"chatrelay/internal/service/relay"
	"chatrelay/internal/session"
	"chatrelay/internal/storage"
	"chatrelay/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// a missing .env is fine; the environment may already carry the keys
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CHATRELAY_CONFIG"))
	if err != nil {
		logger.Setup(logger.Config{})
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Setup(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	var storeOpts []session.Option
	if cfg.Redis.Enabled {
		rdb, err := redis.Dial(context.Background(), cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("create redis client")
		}
		defer rdb.Close()
		ttl := time.Duration(cfg.Redis.TTLMinutes) * time.Minute
		storeOpts = append(storeOpts, session.WithMirror(session.NewRedisMirror(rdb, ttl)))
		log.Info().Str("addr", rdb.Addr()).Dur("ttl", ttl).Msg("session mirror enabled")
	}
	store := session.NewStore(cfg.BasicConfig.SystemPrompt, storeOpts...)

	var recorder relay.Recorder
	if cfg.Archive.Enabled {
		db, err := storage.Open(cfg.Archive.Driver, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("open archive database")
		}
		defer db.Close()
		if err := storage.Migrate(db, cfg.Archive.Driver); err != nil {
			log.Fatal().Err(err).Msg("migrate archive database")
		}
		recorder = storage.NewArchive(db)
		log.Info().Str("driver", cfg.Archive.Driver).Msg("archive enabled")
	}

	chatProvider, _ := cfg.Provider(cfg.BasicConfig.ChatProvider)
	completer, err := ai.NewChatStreamer(context.Background(), cfg.BasicConfig.ChatProvider, chatProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("init chat model")
	}
	imageProvider, ok := cfg.Provider(cfg.BasicConfig.ImageProvider)
	if !ok {
		log.Fatal().Str("provider", cfg.BasicConfig.ImageProvider).Msg("image provider not configured")
	}
	images, err := ai.NewImageGenerator(imageProvider, cfg.BasicConfig.ImageSize)
	if err != nil {
		log.Fatal().Err(err).Msg("init image client")
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer dispatcher.Stop()

	chatRelay := relay.NewChatRelay(store, completer, dispatcher, recorder, relay.ChatConfig{
		Temperature: cfg.BasicConfig.Temperature,
		Timeout:     time.Duration(cfg.BasicConfig.ChatTimeoutSeconds) * time.Second,
	})
	imageRelay := relay.NewImageRelay(store, images, dispatcher, recorder,
		time.Duration(cfg.BasicConfig.ImageTimeoutSeconds)*time.Second)

	renderer, err := api.NewRenderer()
	if err != nil {
		log.Fatal().Err(err).Msg("init renderer")
	}
	handlers := api.NewHandler(store, auth.NewService(cfg.BasicConfig.CookieSecret), chatRelay, imageRelay, renderer)

	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	log.Info().Str("addr", addr).Str("chat_provider", completer.Provider()).Msg("chatrelay listening")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
