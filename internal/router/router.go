package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	authHandler "github.com/waterops/licensing-api/internal/handler/auth"
	healthHandler "github.com/waterops/licensing-api/internal/handler/health"
	noticeHandler "github.com/waterops/licensing-api/internal/handler/notice"
	"github.com/waterops/licensing-api/internal/middleware"
)

type RouterConfig struct {
	RateLimit  rate.Limit
	RateBurst  int
	CORSConfig middleware.CORSConfig
}

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	noticeH *noticeHandler.Handler
	authH   *authHandler.Handler
	healthH *healthHandler.Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	noticeH *noticeHandler.Handler,
	authH *authHandler.Handler,
	healthH *healthHandler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.ErrorHandler())
	engine.Use(middleware.Validation(middleware.DefaultValidationConfig()))
	engine.Use(middleware.CORS(config.CORSConfig))

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(limiter.RateLimit())

	r := &Router{
		engine:  engine,
		auth:    auth,
		noticeH: noticeH,
		authH:   authH,
		healthH: healthH,
	}
	r.registerRoutes()
	return r
}

func (r *Router) registerRoutes() {
	r.engine.GET("/health/live", r.healthH.Live)
	r.engine.GET("/health/ready", r.healthH.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/api/v1")

	v1.POST("/auth/login", r.authH.Login)

	// Provider webhooks are authenticated by the provider's bearer token
	// configuration, not user JWTs.
	v1.POST("/notify/callback/returned-letter", r.noticeH.ReturnedLetter)

	protected := v1.Group("")
	protected.Use(r.auth.Authenticate())
	{
		protected.GET("/notices", r.noticeH.ListNotices)
		protected.GET("/notices/:id", r.noticeH.GetNotice)
		protected.GET("/notices/:id/notifications", r.noticeH.ListNotifications)
		protected.POST("/notices/:id/send", r.noticeH.SendNotice)
		protected.POST("/jobs/notify-status", r.noticeH.TriggerStatusPoll)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
