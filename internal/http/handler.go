package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/areamap-api/internal/adapter/fetchcache"
	"go.ngs.io/areamap-api/internal/usecase"
)

// Viewport size used when the client does not send one.
const (
	defaultWidth  = 1024
	defaultHeight = 768
)

// Handler handles HTTP requests for map scenes and their layers.
type Handler struct {
	sceneUC *usecase.SceneUseCase
}

// NewHandler creates a new HTTP handler.
func NewHandler(sceneUC *usecase.SceneUseCase) *Handler {
	return &Handler{
		sceneUC: sceneUC,
	}
}

// GetScene handles GET /v1/scene.
func (h *Handler) GetScene(c *gin.Context) {
	width, err := intQuery(c, "width", defaultWidth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	height, err := intQuery(c, "height", defaultHeight)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := usecase.SceneRequest{
		AreaName: c.DefaultQuery("area", h.sceneUC.Layers().Area),
		Width:    width,
		Height:   height,
	}

	scene, err := h.sceneUC.Build(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, scene)
}

// GetBoundary handles GET /v1/boundary.
func (h *Handler) GetBoundary(c *gin.Context) {
	fc, err := h.sceneUC.Boundary(c.Request.Context(), h.featureRequest(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, fc)
}

// GetPOIs handles GET /v1/pois.
func (h *Handler) GetPOIs(c *gin.Context) {
	fc, err := h.sceneUC.POIs(c.Request.Context(), h.featureRequest(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, fc)
}

// GetMarkers handles GET /v1/markers.
func (h *Handler) GetMarkers(c *gin.Context) {
	markers, err := h.sceneUC.Markers(c.Request.Context(), h.featureRequest(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"markers": markers,
		"count":   len(markers),
	})
}

// GetLayers handles GET /v1/layers.
func (h *Handler) GetLayers(c *gin.Context) {
	c.JSON(http.StatusOK, h.sceneUC.Layers())
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Viewer serves the embedded map page.
func (h *Handler) Viewer(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", viewerHTML)
}

func (h *Handler) featureRequest(c *gin.Context) usecase.FeatureRequest {
	return usecase.FeatureRequest{
		AreaName: c.DefaultQuery("area", h.sceneUC.Layers().Area),
		Layer:    c.Query("layer"),
		Amenity:  c.Query("amenity"),
		Cuisine:  c.Query("cuisine"),
		Icon:     c.Query("icon"),
	}
}

// statusFor maps use case errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, fetchcache.ErrPending):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
