package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/trigg3rX/bls-aggregator/internal/aggregator/metrics"
	"github.com/trigg3rX/bls-aggregator/pkg/logging"
)

func LoggerMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", logger)
		c.Next()
	}
}

// MetricsMiddleware records per-route request counters
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.TrackHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()))
	}
}

// CORSHandler wraps the router with the shared CORS policy
func CORSHandler(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(handler)
}
