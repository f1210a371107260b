package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"posengine/backend/internal/logger"
	"posengine/backend/internal/service"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigin        string
	PINAttemptsPerMinute int
	Metrics              http.Handler
	Logger               *logger.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	metrics       http.Handler
	log           *logger.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.PINAttemptsPerMinute < 1 {
		opts.PINAttemptsPerMinute = 8
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		pinLimiter:    newAttemptLimiter(opts.PINAttemptsPerMinute, time.Minute),
		metrics:       opts.Metrics,
		log:           opts.Logger.With("http"),
	}
}

func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog(), securityHeaders(), a.corsMiddleware(), limitBody())

	r.GET("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics))
	}

	v1 := r.Group("/api/v1")
	sales := v1.Group("/sales")
	sales.POST("/quote", a.requireAuth(roleCashier, roleAdmin), a.handleQuote)
	sales.POST("", a.requireAuth(roleCashier, roleAdmin), a.handleCheckout)
	sales.GET("", a.requireAuth(roleAdmin), a.handleListSales)
	sales.GET("/:id", a.requireAuth(roleCashier, roleAdmin), a.handleGetSale)
	sales.GET("/:id/receipt", a.requireAuth(roleCashier, roleAdmin), a.handleReceipt)
	sales.GET("/:id/refunds", a.requireAuth(roleAdmin), a.handleListRefunds)
	sales.POST("/:id/refunds", a.requireAuth(roleAdmin), a.handleRefund)
	sales.POST("/:id/void", a.requireAuth(roleAdmin), a.handleVoid)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", errors.New("route not found"))
	})
	return r
}

const (
	roleCashier = "cashier"
	roleAdmin   = "admin"
)

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(c, http.StatusForbidden, "forbidden", errors.New("forbidden role"))
			return
		}

		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		startedAt := time.Now()
		c.Next()

		event := a.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = a.log.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(startedAt)).
			Msg("request")
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func (a *API) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID", "Origin"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if a.allowedOrigin == "" || a.allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{a.allowedOrigin}
	}
	return cors.New(cfg)
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && c.Request.Method == http.MethodPost {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}
