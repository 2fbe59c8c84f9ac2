package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"roomchat/internal/access"
	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/delivery"
	grpcserver "roomchat/internal/grpc"
	"roomchat/internal/handlers"
	"roomchat/internal/middleware"
	"roomchat/internal/notify"
	"roomchat/internal/observability"
	"roomchat/internal/presence"
	"roomchat/internal/rabbitmq"
	"roomchat/internal/repositories"
	"roomchat/internal/telemetry"
	"roomchat/internal/tracing"
	"roomchat/internal/ws"
)

const keepaliveInterval = 25 * time.Second

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", cfg.Service).
			Logger()
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Service, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init failed")
	}

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to db")
	}
	defer database.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("database ready")

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	checkpointRepo := repositories.NewCheckpointRepo(database)

	tails := notify.NewTailNotifier(messageRepo.Tail, cfg.NotifyRearm, logger)
	go tails.Run(ctx)
	if cfg.DBDriver == db.DriverPostgres {
		go func() {
			if err := notify.ListenPostgres(ctx, cfg.DBDSN, tails, logger); err != nil {
				logger.Error().Err(err).Msg("postgres listener stopped, falling back to polling")
			}
		}()
	}

	var presenceStore presence.Store = presence.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := presence.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, presence kept in memory")
		} else {
			defer redisStore.Close()
			presenceStore = redisStore
			logger.Info().Msg("presence backed by redis")
		}
	}
	tracker := presence.NewTracker(presenceStore, logger)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	emitter := telemetry.NewAuditEmitter(publisher, "audit.rooms", cfg.Service, cfg.Env, logger)

	svc := chat.NewService(roomRepo, messageRepo, access.NewGuard(roomRepo), tails, cfg.AppendRetries, logger)
	if err := svc.SeedGlobalRooms(ctx, cfg.GlobalRooms); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed global rooms")
	}
	engine := delivery.NewEngine(svc, messageRepo, checkpointRepo, tails, logger)

	hub := ws.NewHub(logger)
	roomHandler := handlers.NewRoomHandler(svc, tracker, emitter, logger)
	streamHandler := handlers.NewStreamHandler(engine, hub, tracker, tracker, keepaliveInterval)
	roomWS := ws.NewRoomWebSocketHandler(hub, engine, tracker, keepaliveInterval)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", middleware.AuthMiddleware(auth.NewJWTResolver(cfg.JWTSecret)))
	authed.POST("/rooms", roomHandler.CreateRoom)
	authed.GET("/rooms", roomHandler.ListRooms)
	authed.POST("/rooms/enter", roomHandler.EnterRoom)
	authed.POST("/rooms/presence", roomHandler.Beacon)
	authed.GET("/channel", roomHandler.History)
	authed.POST("/msg", roomHandler.PostMessage)
	authed.GET("/events", streamHandler.Events)
	authed.GET("/online", streamHandler.Online)
	authed.GET("/ws/rooms/:room_id", roomWS.Handle)
	handlers.RegisterDebugRoutes(authed, emitter, hub, cfg.DebugRoutes)

	healthServer := grpcserver.NewHealthServer(cfg.Service, database, logger)
	go healthServer.Watch(ctx, 10*time.Second)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("grpc listen failed")
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	// Streams are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting room chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	healthServer.Stop()
	stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
