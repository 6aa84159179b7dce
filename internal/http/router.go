package http

import (
	_ "embed"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"go.ngs.io/areamap-api/internal/metrics"
	"go.ngs.io/areamap-api/internal/usecase"
)

//go:embed static/index.html
var viewerHTML []byte

// SetupRouter creates and configures the Gin router.
// An empty allowedOrigins allows every origin.
func SetupRouter(sceneUC *usecase.SceneUseCase, allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.ExposeHeaders = []string{RequestIDHeader}

	router.Use(cors.New(corsConfig))
	router.Use(RequestID())

	// Create handler.
	handler := NewHandler(sceneUC)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/scene", handler.GetScene)
	v1.GET("/boundary", handler.GetBoundary)
	v1.GET("/pois", handler.GetPOIs)
	v1.GET("/markers", handler.GetMarkers)
	v1.GET("/layers", handler.GetLayers)

	// Health check and metrics.
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Map viewer.
	router.GET("/", handler.Viewer)

	return router
}
