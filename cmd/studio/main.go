package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stagecast/internal/core/domain"
	"stagecast/internal/core/ports"
	"stagecast/internal/core/services"
	httphandlers "stagecast/internal/handlers/http"
	"stagecast/internal/infrastructure/compositor"
	"stagecast/internal/infrastructure/distributed"
	"stagecast/internal/infrastructure/media"
	"stagecast/internal/infrastructure/middleware"
	"stagecast/internal/infrastructure/monitoring"
	"stagecast/internal/infrastructure/repositories/memory"
	signalserver "stagecast/internal/infrastructure/signal"
	"stagecast/internal/infrastructure/streaming"
	studiowebrtc "stagecast/internal/infrastructure/webrtc"
	"stagecast/pkg/config"
	"stagecast/pkg/logger"
	"stagecast/pkg/retry"
	"stagecast/pkg/tracing"
	"stagecast/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/stagecast/config.yaml",
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
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "stagecast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	collector := monitoring.NewPrometheusCollector()

	// Signaling hub. Registry and orchestrator are attached after they exist.
	sigServer := signalserver.NewServer(signalserver.ServerConfig{
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		ChatRate:     cfg.Chat.MessagesPerSecond,
		ChatBurst:    cfg.Chat.Burst,
	}, collector, log)

	// Cross-instance fan-out over redis when enabled
	var sink ports.EventSink = sigServer
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		bus := distributed.NewEventBus(redisClient, utils.GenerateID("instance"), log)
		sink = distributed.NewFanOutSink(sigServer, bus, log)

		go func() {
			if err := bus.Subscribe(context.Background(), func(event *domain.StudioEvent) {
				sigServer.Broadcast(event)
			}); err != nil && err != context.Canceled {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	// Session core
	participantRepo := memory.NewMemoryParticipantRepository()
	registry := services.NewRegistryService(participantRepo, sink, services.RegistryConfig{
		MaxParticipants: cfg.Studio.MaxParticipants,
		MaxOnStage:      cfg.Studio.MaxOnStage,
	}, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	acquisition := media.NewAcquisition(log)

	comp := compositor.New(compositor.Config{
		FrameRate:  cfg.Compositor.FrameRate,
		Width:      cfg.Compositor.Width,
		Height:     cfg.Compositor.Height,
		MasterGain: cfg.Compositor.MasterGain,
	}, registry, acquisition, collector, log)

	if cfg.Compositor.VerticalCrop.Enabled {
		cropper := compositor.NewVerticalCropper(
			cfg.Compositor.VerticalCrop.SmoothingFactor,
			compositor.CenterTarget{},
			log,
		)
		frames, _ := comp.Output().SubscribeVideo(2)
		go cropper.Run(context.Background(), frames)
	}

	// Participant media ingest
	var pcICEServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		pcICEServers = append(pcICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(pcICEServers) == 0 {
		pcICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	ingest := studiowebrtc.NewIngestService(studiowebrtc.Config{ICEServers: pcICEServers}, registry, acquisition, func() studiowebrtc.TrackDecoder {
		return studiowebrtc.NewLinearPCMDecoder(48000, 2)
	}, log)

	// Destination streaming
	var iceServers []string
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, s.URLs...)
	}
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}

	negotiators := map[domain.Platform]ports.Negotiator{
		domain.PlatformWebRTC: streaming.NewWHIPNegotiator(iceServers, log),
		domain.PlatformRelay:  streaming.NewRelayNegotiator(cfg.Streaming.RelayControlURL, log),
	}
	manager := streaming.NewManager(comp.Output(), negotiators, streaming.SessionConfig{
		Backoff: retry.Config{
			Enabled:      true,
			MaxAttempts:  cfg.Streaming.MaxAttempts,
			InitialDelay: cfg.Streaming.InitialDelay,
			MaxDelay:     cfg.Streaming.MaxDelay,
			Multiplier:   cfg.Streaming.Multiplier,
			Jitter:       cfg.Streaming.Jitter,
		},
		HealthInterval:     cfg.Streaming.HealthInterval,
		DegradedLossRatio:  cfg.Streaming.DegradedLossRatio,
		MinBitrateKbps:     cfg.Streaming.MinBitrateKbps,
		NegotiationTimeout: cfg.Streaming.NegotiationTimeout,
		FrameDuration:      time.Second / time.Duration(cfg.Compositor.FrameRate),
	}, collector, log)

	broadcastID := domain.BroadcastID(utils.GenerateBroadcastID())
	orchestrator := services.NewOrchestrator(broadcastID, registry, comp, manager, log)

	sigServer.Attach(registry, orchestrator, comp, comp)

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRegistryCheck(registry, 2*time.Second)
	if redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 2*time.Second)
	}

	// HTTP control surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	httphandlers.NewParticipantHandler(registry, authService).SetupRoutes(router)
	httphandlers.NewBroadcastHandler(orchestrator, authService).SetupRoutes(router)
	httphandlers.NewMediaHandler(ingest, authService).SetupRoutes(router)

	router.GET("/ws", gin.WrapF(sigServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Signaling connections are long-lived; only the header read is bounded.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Stagecast studio server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Stagecast studio server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if orchestrator.IsLive() {
		if err := orchestrator.Stop(shutdownCtx); err != nil {
			log.Errorw("Error stopping broadcast", "error", err)
		}
	}
	ingest.CloseAll()
	acquisition.ReleaseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	log.Info("Stagecast studio server stopped")
}
