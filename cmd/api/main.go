package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"schoolgate/internal/attendance"
	"schoolgate/internal/auth"
	"schoolgate/internal/config"
	"schoolgate/internal/dashboard"
	"schoolgate/internal/httpmiddleware"
	"schoolgate/internal/jobs"
	"schoolgate/internal/logging"
	"schoolgate/internal/realtime"
	"schoolgate/internal/stats"
	"schoolgate/internal/store"
	"schoolgate/internal/tenant"
	"schoolgate/internal/webhook"
)

// eventRetention bounds the raw event log before the weekly trim.
const eventRetention = 30 * 24 * time.Hour

func main() {
	cfg := config.Load()

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "schoolgate-api")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus realtime.Bus
	if cfg.BusBackend == "memory" {
		bus = realtime.NewLocalBus()
		logger.Info("bus: in-memory fan-out")
	} else {
		bus = realtime.NewRedisBus(ctx, redisClient.Client, logger)
		logger.Info("bus: redis fan-out", zap.String("addr", cfg.RedisAddr))
	}

	tenants := tenant.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	engine := stats.NewEngine(stats.NewPostgresPort(db.Client, tenants))

	scheduler := realtime.NewScheduler(bus, engine, tenants, logger, cfg.SnapshotDebounce, cfg.SnapshotInterval)
	go scheduler.Run(ctx)

	svc := webhook.NewService(attRepo, tenants, bus, scheduler, logger, cfg.MinScanInterval, cfg.DeviceAutoRegister)

	jobs.NewRunner(attRepo, tenants, scheduler, logger, eventRetention).Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	webhook.NewHandler(tenants, svc, logger, cfg.WebhookEnforce, cfg.WebhookSecretHeader, cfg.UploadsDir).Register(r)

	tracker := realtime.NewConnTracker()
	realtime.NewStreamHandler(bus, engine, tracker, logger, cfg.JWTSigningKey, cfg.JWTIssuer).Register(r)

	authGroup := r.Group("", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	dashboard.NewHandler(engine, attRepo, tenants, logger).Register(authGroup)

	if !cfg.IsProd() {
		r.POST("/v1/auth/token", devTokenHandler(cfg))
	}

	// No WriteTimeout: SSE connections stay open for hours.
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// devTokenHandler mints short-lived tokens for stream testing. Real token
// issuance belongs to the identity service; this route never ships enabled
// in production.
func devTokenHandler(cfg config.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Subject    string   `json:"subject" binding:"required"`
			Role       string   `json:"role" binding:"required"`
			SchoolID   string   `json:"schoolId"`
			ClassIDs   []string `json:"classIds"`
			TTLMinutes int      `json:"ttlMinutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ttl := time.Duration(req.TTLMinutes) * time.Minute
		if ttl <= 0 {
			ttl = time.Hour
		}
		token, exp, err := auth.Issue(req.Subject, req.Role, req.SchoolID, req.ClassIDs, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp.Unix()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
