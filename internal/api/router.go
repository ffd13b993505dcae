package api

import (
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/tweet-queue/config"
	_ "github.com/d60-Lab/tweet-queue/docs"
	"github.com/d60-Lab/tweet-queue/internal/api/handler"
	"github.com/d60-Lab/tweet-queue/internal/api/middleware"
)

// SetupRouter 注册路由；/api/v1 在配置了 jwt.secret 时需要鉴权
func SetupRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	if sentry.CurrentHub().Client() != nil {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(middleware.RequestID(), middleware.AccessLog())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if cfg.JWT.Secret != "" {
		v1.Use(middleware.JWTAuth(cfg.JWT.Secret))
	}
	queue := v1.Group("/queue")
	{
		queue.POST("/process", middleware.RateLimit(cfg.RateLimit.ProcessRPS, cfg.RateLimit.ProcessBurst), h.Process)
		queue.GET("/stats", h.Stats)
		queue.POST("/:id/requeue", h.Requeue)
		queue.POST("/expire-claims", h.ExpireClaims)
	}
	return r
}
