package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/apierror"
	"github.com/obakengshepherd/risksentinel/internal/auth"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/queue"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/scoring"
	"github.com/obakengshepherd/risksentinel/internal/services"
)

// apiVersion is reported on GET /api/v1/health, pinned to the original_source's
// health.py APP_VERSION constant.
const apiVersion = "1.0.0"

func main() {
	startTime := time.Now().UTC()

	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("starting RiskSentinel API server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	bus, err := queue.NewEventBus(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()

	cache, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer cache.Close()

	userRepo := repositories.NewUserRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	riskScoreRepo := repositories.NewRiskScoreRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	ruleRepo := repositories.NewFraudRuleRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	velocity := scoring.NewVelocityCalculator(txRepo, cfg.Velocity)
	anomaly := scoring.NewAnomalyCalculator(txRepo, cfg.Anomaly)
	ml := scoring.NewMLAdapter(cfg.ML)
	orchestrator := scoring.NewOrchestrator(ruleRepo, riskScoreRepo, alertRepo, auditRepo, velocity, anomaly, ml, cfg.Risk)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, auditRepo, db, jwtManager)
	transactionService := services.NewTransactionService(db, txRepo, alertRepo, auditRepo, orchestrator, bus)
	alertService := services.NewAlertService(db, alertRepo, auditRepo)
	ruleService := services.NewRuleService(db, ruleRepo, auditRepo)
	dashboardService := services.NewDashboardService(txRepo, riskScoreRepo, alertRepo, cache)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	if cfg.RateLimit.Enabled {
		router.Use(rateLimitMiddleware(NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)))
	}

	setupRoutes(router, cfg, jwtManager, authService, transactionService, alertService, ruleService, dashboardService, db, bus, startTime)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	cfg *configs.Config,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	transactionService *services.TransactionService,
	alertService *services.AlertService,
	ruleService *services.RuleService,
	dashboardService *services.DashboardService,
	db *repositories.Database,
	bus *queue.EventBus,
	startTime time.Time,
) {
	v1 := router.Group("/api/v1")

	v1.GET("/health", healthHandler(db, bus, startTime))

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(jwtManager), refreshTokenHandler(authService))
	}

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(auth.AuthMiddleware(jwtManager))
	}

	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", createTransactionHandler(transactionService))
		txRoutes.GET("", listTransactionsHandler(transactionService))
		txRoutes.GET("/:id", getTransactionHandler(transactionService))
	}

	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("", listAlertsHandler(alertService))
		alertRoutes.PATCH("/:id", updateAlertHandler(alertService))
	}

	ruleRoutes := protected.Group("/rules")
	ruleRoutes.Use(auth.RoleMiddleware(models.RoleAdmin, models.RoleAnalyst))
	{
		ruleRoutes.POST("", createRuleHandler(ruleService))
		ruleRoutes.GET("", listRulesHandler(ruleService))
		ruleRoutes.GET("/:id", getRuleHandler(ruleService))
		ruleRoutes.PUT("/:id", updateRuleHandler(ruleService))
		ruleRoutes.PATCH("/:id", updateRuleHandler(ruleService))
		ruleRoutes.DELETE("/:id", deleteRuleHandler(ruleService))
	}

	dashboardRoutes := protected.Group("/dashboard")
	{
		dashboardRoutes.GET("/summary", dashboardSummaryHandler(dashboardService))
		dashboardRoutes.GET("/risk-trend", riskTrendHandler(dashboardService))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IPRateLimiter keeps one token-bucket limiter per client IP, built on
// golang.org/x/time/rate.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewIPRateLimiter creates a new per-IP rate limiter.
func NewIPRateLimiter(requestsPerSecond float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *IPRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func rateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			requestID := c.GetString("request_id")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.Body{
				Error: apierror.BodyDetail{Code: "rate_limit", Message: "rate limit exceeded", RequestID: requestID},
			})
			return
		}
		c.Next()
	}
}

// Handlers

// healthHandler answers GET /api/v1/health (§6): DB ping + bus liveness + uptime.
// The DB is load-bearing — every write in this service needs it — so a DB
// failure reports unhealthy and 503. The bus is best-effort fan-out (§4.6);
// losing it degrades the response to "degraded" but still 200, matching
// the original_source's health.py semantics.
func healthHandler(db *repositories.Database, bus *queue.EventBus, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		dbStatus := "healthy"
		overall := "healthy"
		if err := db.HealthCheck(ctx); err != nil {
			log.Error().Err(err).Msg("health: database ping failed")
			dbStatus = "unhealthy"
			overall = "unhealthy"
		}

		busStatus := "healthy"
		if bus == nil {
			busStatus = "not_configured"
			if overall == "healthy" {
				overall = "degraded"
			}
		} else if err := bus.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health: event bus ping failed")
			busStatus = "unhealthy"
			if overall == "healthy" {
				overall = "degraded"
			}
		}

		statusCode := http.StatusOK
		if overall == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":         overall,
			"db":             dbStatus,
			"bus":            busStatus,
			"uptime_seconds": time.Since(startTime).Seconds(),
			"version":        apiVersion,
		})
	}
}

func respondError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")
	status, body := apierror.ToBody(err, requestID)
	c.JSON(status, body)
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			if err == services.ErrWeakPassword {
				respondError(c, apierror.Wrap(apierror.KindValidation, err.Error(), err))
				return
			}
			respondError(c, apierror.Wrap(apierror.KindDatabase, "failed to register", err))
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			if err == services.ErrInvalidCredentials {
				respondError(c, apierror.Wrap(apierror.KindAuthentication, err.Error(), err))
				return
			}
			respondError(c, apierror.Wrap(apierror.KindDatabase, "failed to login", err))
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(auth.AuthorizationHeader)
		token := header
		if len(header) > len(auth.BearerPrefix) {
			token = header[len(auth.BearerPrefix):]
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindAuthentication, "invalid or expired token", err))
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func createTransactionHandler(svc *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.TransactionCreate
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		resp, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func listTransactionsHandler(svc *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntQuery(c, "page", 1)
		pageSize := getIntQuery(c, "page_size", 25)
		statusFilter := c.Query("status_filter")
		senderID := c.Query("sender_id")

		transactions, pagination, err := svc.List(c.Request.Context(), page, pageSize, statusFilter, senderID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.PaginatedResponse{Data: transactions, Pagination: pagination})
	}
}

func getTransactionHandler(svc *services.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid transaction id", err))
			return
		}

		bundle, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, bundle)
	}
}

func listAlertsHandler(svc *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntQuery(c, "page", 1)
		pageSize := getIntQuery(c, "page_size", 25)
		severity := c.Query("severity")
		statusFilter := c.Query("status_filter")

		alerts, pagination, err := svc.List(c.Request.Context(), page, pageSize, severity, statusFilter)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.PaginatedResponse{Data: alerts, Pagination: pagination})
	}
}

func updateAlertHandler(svc *services.AlertService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid alert id", err))
			return
		}

		var req services.AlertUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		alert, err := svc.Update(c.Request.Context(), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func createRuleHandler(svc *services.RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RuleCreate
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		rule, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, rule)
	}
}

func listRulesHandler(svc *services.RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntQuery(c, "page", 1)
		pageSize := getIntQuery(c, "page_size", 25)
		includeInactive := c.Query("include_inactive") == "true"

		rules, pagination, err := svc.List(c.Request.Context(), page, pageSize, includeInactive)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, models.PaginatedResponse{Data: rules, Pagination: pagination})
	}
}

func getRuleHandler(svc *services.RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid rule id", err))
			return
		}

		rule, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, rule)
	}
}

func updateRuleHandler(svc *services.RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid rule id", err))
			return
		}

		var req services.RuleUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid request body", err))
			return
		}

		rule, err := svc.Update(c.Request.Context(), id, &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, rule)
	}
}

func deleteRuleHandler(svc *services.RuleService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, apierror.Wrap(apierror.KindValidation, "invalid rule id", err))
			return
		}

		if err := svc.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func dashboardSummaryHandler(svc *services.DashboardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := svc.Summary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func riskTrendHandler(svc *services.DashboardService) gin.HandlerFunc {
	return func(c *gin.Context) {
		points, err := svc.RiskTrend(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"points": points})
	}
}

func getIntQuery(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
