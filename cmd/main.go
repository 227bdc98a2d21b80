package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/auth"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/cache"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/call"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/chat"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/config"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/credential"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/handler"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/hub"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/notify"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/registry"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/service"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/worker"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/database"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/pubsub"
)

const (
	terminalSweepInterval   = 10 * time.Minute
	revocationSweepInterval = time.Hour
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Init(cfg.Log)
	l := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)
	if err := database.AutoMigrate(db,
		&domain.UserModel{},
		&domain.ChatModel{},
		&domain.MessageModel{},
		&domain.CallHistoryModel{},
	); err != nil {
		l.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	userRepo := repository.NewGormUserRepository(db)
	chatRepo := repository.NewGormChatRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	callRepo := repository.NewGormCallHistoryRepository(db)

	// Redis: user cache, presence mirror and deactivation events
	var users repository.UserRepository = userRepo
	var cachedUsers *cache.CachedUserRepository
	var redisClient *redis.Client
	var mirror registry.PresenceMirror
	if cfg.Redis.Enabled {
		redisClient, err = pubsub.NewRedisClient(cfg.Redis.RedisConfig)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

		cachedUsers = cache.NewCachedUserRepository(userRepo, cache.NewRedisUserCache(redisClient, cfg.Redis.CachePrefix), cfg.Redis.CacheTTL)
		users = cachedUsers
		mirror = registry.NewRedisRegistry(redisClient, cfg.Redis.PresencePrefix, cfg.Redis.PresenceTTL, cfg.Redis.HeartbeatInterval)
	}

	// Credentials
	tokens, err := jwt.NewManager(cfg.Auth.JWT)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create token manager")
	}
	if cfg.Auth.JWT.PrivateKeyPath == "" {
		l.Warn().Msg("no jwt private key configured, using an ephemeral key")
	}
	creds := credential.NewService(tokens, userRepo)
	authenticator := auth.NewAuthenticator(creds, users, cfg.Auth.RefreshInterval, m)

	// Push
	var sender notify.Sender = notify.LogSender{}
	if cfg.Push.Enabled {
		fcm, err := notify.NewFCMSender(ctx, notify.FCMConfig{
			ProjectID:       cfg.Push.ProjectID,
			CredentialsFile: cfg.Push.CredentialsFile,
			Endpoint:        cfg.Push.Endpoint,
			Timeout:         cfg.Push.Timeout,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create fcm sender")
		}
		sender = fcm
	}
	notifier := notify.NewNotifier(sender, m)

	// Kafka
	var history call.HistorySink = call.HistorySinkFunc(callRepo.Create)
	var producer *kafka.ConfluentProducer
	var consumer *kafka.HistoryConsumer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.CallTopic, cfg.Kafka.MessageTopic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		l.Info().Str("brokers", cfg.Kafka.Brokers).Msg("connected to kafka")

		if cfg.History.Mode == config.HistoryModeKafka {
			history = producer
			consumer, err = kafka.NewHistoryConsumer(cfg.Kafka.Brokers, cfg.Kafka.CallTopic, cfg.Kafka.GroupID, callRepo)
			if err != nil {
				l.Fatal().Err(err).Msg("failed to create kafka consumer")
			}
			if err := consumer.Start(ctx); err != nil {
				l.Fatal().Err(err).Msg("failed to start kafka consumer")
			}
		}
	}

	// Engine
	tasks := worker.NewGroup(worker.DefaultTimeout)
	presenceRegistry := presence.NewRegistry()
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	callOpts := call.Options{
		RingTimeout:       cfg.Call.RingTimeout,
		TerminalRetention: cfg.Call.TerminalRetention,
		Metrics:           m,
		Tasks:             tasks,
		Ledger:            callRepo,
	}
	chatOpts := chat.Options{Metrics: m, Tasks: tasks}
	if producer != nil {
		callOpts.Events = producer
		chatOpts.Events = producer
	}
	callSvc := call.NewService(presenceRegistry, users, notifier, history, callOpts)
	relay := chat.NewRelay(presenceRegistry, wsHub, users, chatRepo, messageRepo, notifier, chatOpts)
	historySvc := service.NewHistoryService(chatRepo, messageRepo, callRepo, presenceRegistry, mirror)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		callSvc.Run(gctx, terminalSweepInterval)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(revocationSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				tokens.CleanupExpiredRevocations()
			}
		}
	})
	if cfg.Redis.Enabled {
		if err := mirror.StartHeartbeat(gctx); err != nil {
			l.Fatal().Err(err).Msg("failed to start presence heartbeat")
		}
		listener := auth.NewDeactivationListener(pubsub.NewRedisPubSub(redisClient), cfg.Redis.DeactivationChannel, presenceRegistry, wsHub, creds, cachedUsers)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// HTTP
	if l.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(l))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": presenceRegistry.Count(),
			"activeCalls": callSvc.ActiveCalls(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewWSHandler(wsHub, presenceRegistry, mirror, authenticator, callSvc, relay, m).RegisterRoutes(router)

	api := router.Group("/api/v1")
	handler.NewHandler(historySvc, middleware.NewAuthMiddleware(creds)).RegisterRoutes(api)
	iceHandler, err := handler.NewICEHandler(cfg.ICE)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid ice configuration")
	}
	iceHandler.RegisterRoutes(api)
	if cfg.Auth.DevTokens {
		l.Warn().Msg("dev token endpoint enabled")
		handler.NewDevHandler(creds).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		l.Info().Str("addr", srv.Addr).Msg("messenger service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("shutting down messenger service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("http server forced to shutdown")
		}
		callSvc.Stop()
		wsHub.Stop()
		if err := tasks.Stop(shutdownCtx); err != nil {
			l.Warn().Err(err).Msg("background tasks cancelled")
		}
		if mirror != nil {
			mirror.StopHeartbeat()
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				l.Warn().Err(err).Msg("failed to close kafka consumer")
			}
		}
		if producer != nil {
			if err := producer.Close(); err != nil {
				l.Warn().Err(err).Msg("failed to close kafka producer")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("messenger service stopped with error")
		return
	}
	l.Info().Msg("messenger service stopped")
}
