package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(handler *handler.Handler, l logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(ginZapLogger(l))
	r.Use(telemetry.GinMiddleware())

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/charts", handler.Charts)
	r.GET("/layers", handler.Layers)

	r.GET("/cache/status", handler.CacheStatus)
	r.POST("/cache/clear", handler.ClearCache)

	r.GET("/tile/:layer/:z/:x/:y", handler.Tile)
	r.GET("/tiles/:z/:x/:y", handler.LegacyTile)
	r.GET("/tiles/:z/:x/:y/:layer", handler.LegacyLayerTile)

	// static routes above take precedence over chart ids
	r.GET("/:chart/:z/:x/:y", handler.ChartTile)

	return r
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", l)
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), l))

		start := time.Now()

		c.Next()

		latency := time.Since(start)

		log := l.Info
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			log = l.Debug
		}
		log("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
			"source", c.Writer.Header().Get("X-Tile-Source"),
		)
	}
}
