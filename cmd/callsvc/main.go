package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/internal/core/services"
	httphandlers "heartline/internal/handlers/http"
	backupinfra "heartline/internal/infrastructure/backup"
	"heartline/internal/infrastructure/distributed"
	"heartline/internal/infrastructure/middleware"
	"heartline/internal/infrastructure/monitoring"
	"heartline/internal/infrastructure/notify"
	"heartline/internal/infrastructure/push"
	"heartline/internal/infrastructure/reliability"
	repositories "heartline/internal/infrastructure/repositories"
	"heartline/internal/infrastructure/signal"
	webrtcinfra "heartline/internal/infrastructure/webrtc"
	"heartline/pkg/backup"
	"heartline/pkg/circuitbreaker"
	"heartline/pkg/config"
	"heartline/pkg/logger"
	"heartline/pkg/retry"
	"heartline/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "1.0.0"

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/heartline/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	// Terminal calls and history lists are cached in front of the store.
	cachedRepo := repositories.NewCachedCallRepository(
		repoFactory.CreateCallRepository(),
		10*time.Minute,
		2*time.Second,
	)
	defer cachedRepo.Stop()
	var callRepo ports.CallRepository = cachedRepo

	instanceID := uuid.NewString()

	// Auth
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	// WebRTC configuration (including STUN/TURN from config)
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	engineConfig := webrtcinfra.EngineConfig{
		ICEServers:      iceServers,
		QualityInterval: cfg.Call.QualityInterval,
	}
	engineConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	engineFactory := webrtcinfra.NewEngineFactory(engineConfig, webrtcinfra.NewSampleDevice(), log)

	// Monitoring. With Redis available, call transitions also fan out to
	// other instances through the event bus.
	prometheusCollector := monitoring.NewPrometheusCollector()
	callMetrics := services.CombineMetrics(prometheusCollector)
	var eventBus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		eventBus = distributed.NewEventBus(client, instanceID, log)
		defer eventBus.Close()
		callMetrics = services.CombineMetrics(prometheusCollector, eventBus)
	}

	// Signaling hub. The call service and the hub reference each
	// other, so the hub is created first and bound below.
	wsServer := signal.NewWebSocketServer(authService, log)
	wsServer.SetPingInterval(cfg.Signal.PingInterval)
	wsServer.SetPongTimeout(cfg.Signal.PongTimeout)

	var presence *distributed.SharedPresenceRegistry
	if client := repoFactory.RedisClient(); client != nil {
		presence = distributed.NewSharedPresenceRegistry(client, instanceID, log)
		wsServer.SetPresenceRegistry(presence)
	}

	// Notifications
	var pushSender *push.FCMProvider
	if cfg.Push.Enabled {
		var tokens push.TokenStore
		if client := repoFactory.RedisClient(); client != nil {
			tokens = push.NewRedisTokenStore(client)
		} else {
			tokens = push.NewMemoryTokenStore()
		}
		pushSender, err = push.NewFCMProvider(&push.FCMConfig{
			CredentialsPath: cfg.Push.CredentialsPath,
			ProjectID:       cfg.Push.ProjectID,
		}, tokens, log)
		if err != nil {
			log.Warnw("push disabled, FCM initialization failed", "error", err)
		}
	}

	alertSink := notify.NewHubAlertSink(wsServer, callRepo, log)
	// Ring the receiver's client: the bundled sound asset first, a
	// synthesized tone when the asset cannot start.
	ringtones := services.RingtoneFactory(func(call *domain.Call) ports.Ringtone {
		return notify.NewChainRingtone(
			notify.NewClientRingtone(wsServer, call.ReceiverID, "incoming"),
			notify.NewOscillatorRingtone(wsServer, call.ReceiverID, 440),
		)
	})
	var notifier *services.NotificationService
	if pushSender != nil {
		reliablePush := reliability.NewPushSenderWrapper(pushSender, retry.DefaultConfig(), log)
		notifier = services.NewNotificationService(alertSink, ringtones, reliablePush, log)
	} else {
		notifier = services.NewNotificationService(alertSink, ringtones, nil, log)
	}

	// Outbound signaling goes through retry and circuit breaking so a
	// single flaky client cannot stall the controller.
	signalSender := reliability.NewSignalSenderWrapper(
		wsServer,
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	// Call controller
	callService := services.NewCallService(
		services.CallServiceConfig{
			RingTimeout:    cfg.Call.RingTimeout,
			ReconnectGrace: cfg.Call.ReconnectGrace,
		},
		callRepo,
		engineFactory,
		notifier,
		signalSender,
		callMetrics,
		log,
	)
	wsServer.SetCallService(callService)

	// Consume peer-instance events so a hangup handled elsewhere also
	// releases the engine held here.
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	if eventBus != nil {
		eventHandler := distributed.NewCallEventHandler(callService, log)
		go func() {
			if err := eventBus.Subscribe(busCtx, eventHandler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	// Archive finished calls to durable storage
	var archiveScheduler *backupinfra.Scheduler
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Dir)
		if err != nil {
			log.Fatalw("failed to create archive storage", "error", err)
		}
		archiveScheduler = backupinfra.NewScheduler(
			backup.NewArchiveService(storage, version),
			callRepo,
			backupinfra.Config{
				Interval:      cfg.Backup.Interval,
				RetentionDays: cfg.Backup.RetentionDays,
			},
			log,
		)
		go archiveScheduler.Start(context.Background())
	}

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(callRepo, 30*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}

	// HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService)
	callHandler := httphandlers.NewCallHandler(callService, callRepo)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Auth routes (public)
	authHandler.SetupRoutes(router)

	// Call routes behind authentication
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	{
		api.POST("/calls", callHandler.StartCall)
		api.GET("/calls/:id", callHandler.GetCall)
		api.POST("/calls/:id/answer", callHandler.AnswerCall)
		api.POST("/calls/:id/reject", callHandler.RejectCall)
		api.POST("/calls/:id/end", callHandler.EndCall)
		api.GET("/calls/:id/elapsed", callHandler.GetElapsed)
		api.GET("/users/:id/calls", callHandler.ListUserCalls)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if !healthChecker.IsReady(ctx) {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// REST server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Signaling server on its own listener
	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalMux.HandleFunc("/health", wsServer.HealthCheck)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting Heartline API server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting Heartline signaling server on %s", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Heartline...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if archiveScheduler != nil {
		archiveScheduler.Stop()
	}
	if presence != nil {
		if err := presence.CleanupInstanceUsers(shutdownCtx, instanceID); err != nil {
			log.Warnw("Error cleaning up presence", "error", err)
		}
	}

	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during signaling server shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Heartline stopped")
}
