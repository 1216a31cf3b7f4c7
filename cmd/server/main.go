// Package main runs the live-session HTTP API, the realtime websocket/SFU and
// the in-process recording worker, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-live/backend/config"
	"github.com/aura-live/backend/internal/attendance"
	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/engagement"
	"github.com/aura-live/backend/internal/live"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/recorder"
	"github.com/aura-live/backend/internal/recordings"
	"github.com/aura-live/backend/internal/sessions"
	"github.com/aura-live/backend/internal/worker"
	"github.com/aura-live/backend/pkg/database"
	"github.com/aura-live/backend/pkg/queue"
	"github.com/aura-live/backend/pkg/redis"
	"github.com/aura-live/backend/pkg/response"
	"github.com/aura-live/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
			Endpoint:             cfg.AWS.S3Endpoint,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	roomTokens := auth.NewRoomTokenIssuer(cfg.Live.RoomTokenSecret, cfg.Live.RoomTokenTTL)
	sessionRepo := sessions.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Realtime: websocket hub fanned out over Redis, SFU for media.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	sfu := realtime.NewSFU(logger, cfg.WebRTC.ICEUrls)
	sfu.OnTrack(hub.AnnounceTrack)

	attendanceRepo := attendance.NewRepository(pool)
	tracker := attendance.NewTracker(attendanceRepo, logger)
	hub.SetPresenceHandler(tracker.OnPresence)

	// Recording: SFU tap into ffmpeg, finalized through the upload queue.
	recorderSvc := recorder.NewService(sfu, jobQueue, cfg.Recording.OutputDir, logger)
	recorderSvc.SetFFmpegPath(cfg.Recording.FFmpegPath)
	recorderSvc.SetMaxDuration(cfg.Recording.MaxDurationSec)
	var resolver recordings.Resolver
	if s3Client != nil {
		resolver = s3Client
	}
	recordingCtrl := recordings.NewController(sessionRepo, recorderSvc, resolver, logger)
	recordingHandler := recordings.NewHandler(recordingCtrl)
	recordingWebhook := recordings.NewWebhookHandler(sessionRepo, jobQueue, cfg.Recording.WebhookSecret, logger)

	liveSvc := live.NewService(sessionRepo, roomTokens, hub, cfg.Live.PublicWSURL, logger)
	liveHandler := live.NewHandler(liveSvc)

	engagementSvc := engagement.NewService(engagement.NewRepository(pool), sessionRepo, hub, logger)
	engagementHandler := engagement.NewHandler(engagementSvc)
	attendanceHandler := attendance.NewHandler(attendanceRepo, sessionRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := database.Ping(ctx, pool, 2*time.Second); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(ctx, 2*time.Second); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", middleware.RequireRole(middleware.AccountRoleProvider, middleware.AccountRoleAdmin), liveHandler.Create)
		api.GET("/sessions/:id", liveHandler.Get)
		api.POST("/sessions/:id/room", liveHandler.ProvisionRoom)
		api.POST("/sessions/:id/join", liveHandler.Join)
		api.POST("/sessions/:id/end", liveHandler.End)
		api.GET("/sessions/:id/attendees", attendanceHandler.GetAttendees)

		// Recordings
		api.POST("/sessions/:id/recording/start", recordingHandler.Start)
		api.POST("/sessions/:id/recording/stop", recordingHandler.Stop)
		api.GET("/sessions/:id/recording/download", recordingHandler.Download)

		// Engagement
		api.POST("/sessions/:id/comments", engagementHandler.PostComment)
		api.GET("/sessions/:id/comments", engagementHandler.ListComments)
		api.POST("/sessions/:id/likes", engagementHandler.ToggleLike)
		api.POST("/sessions/:id/bookmarks", engagementHandler.ToggleBookmark)
	}

	// Webhooks (no JWT; signature checked in handler when configured)
	router.POST("/webhooks/recording-ready", recordingWebhook.RecordingReady)

	// WebSocket (room token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, sfu, roomTokens, sessionRepo, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (recording upload to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		processor := worker.NewRecordingProcessor(sessionRepo, s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("recording worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	recordingCtrl.StopAll(shutdownCtx, recorderSvc.ActiveSessions())
	if err := recorderSvc.Wait(shutdownCtx); err != nil {
		logger.Warn("recorder shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
