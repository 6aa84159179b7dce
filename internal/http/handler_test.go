package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/areamap-api/internal/adapter/fetchcache"
	"go.ngs.io/areamap-api/internal/adapter/overpass"
	"go.ngs.io/areamap-api/internal/config"
	"go.ngs.io/areamap-api/internal/domain"
	"go.ngs.io/areamap-api/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubFetcher struct {
	boundaryErr error
	poisErr     error
}

func (s *stubFetcher) Get(_ context.Context, url string) (fetchcache.Result, error) {
	q, _ := overpass.QueryFromURL(url)
	fc := geojson.NewFeatureCollection()
	if strings.Contains(q, "relation[") {
		if s.boundaryErr != nil {
			return fetchcache.Result{}, s.boundaryErr
		}
		fc.Append(geojson.NewFeature(orb.Polygon{{
			{139.77, 35.66}, {139.79, 35.66}, {139.79, 35.68}, {139.77, 35.68}, {139.77, 35.66},
		}}))
	} else {
		if s.poisErr != nil {
			return fetchcache.Result{}, s.poisErr
		}
		f := geojson.NewFeature(orb.Point{139.772, 35.671})
		f.Properties["name"] = "Menya"
		fc.Append(f)
	}
	return fetchcache.Result{Collection: fc, FetchedAt: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func newTestRouter(f usecase.FeatureFetcher, origins ...string) *gin.Engine {
	uc := usecase.NewSceneUseCase(f, usecase.SceneOptions{
		Scene: config.DefaultSceneConfig(),
		Wait:  time.Second,
	})
	return SetupRouter(uc, origins)
}

func get(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestID_Echo(t *testing.T) {
	r := newTestRouter(&stubFetcher{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestGetScene(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/v1/scene?area=Chuo&width=1024&height=768")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var scene domain.Scene
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scene))

	assert.Equal(t, domain.DefaultStyleURL, scene.StyleURL)
	assert.Equal(t, 10.0, scene.InitialView.Zoom)
	require.Len(t, scene.Layers, 1)
	assert.Equal(t, "area-boundary", scene.Layers[0].ID)
	require.Len(t, scene.Markers, 1)
	require.Len(t, scene.Markers[0].Markers, 1)
	assert.Equal(t, "Menya", scene.Markers[0].Markers[0].Label)
	require.NotNil(t, scene.Camera)
	assert.Equal(t, [2][2]float64{{139.77, 35.66}, {139.79, 35.68}}, scene.Camera.Bounds)
	assert.Equal(t, domain.UniformPadding(40), scene.Camera.Padding)
	assert.Equal(t, int64(1000), scene.Camera.DurationMs)
}

func TestGetScene_DefaultArea(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/v1/scene")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetScene_FailedLayersStillOK(t *testing.T) {
	f := &stubFetcher{
		boundaryErr: fmt.Errorf("%w: HTTP 500", overpass.ErrFetchFailed),
		poisErr:     fmt.Errorf("%w: HTTP 500", overpass.ErrFetchFailed),
	}
	w := get(t, newTestRouter(f), "/v1/scene?area=Chuo")
	require.Equal(t, http.StatusOK, w.Code)

	var scene domain.Scene
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scene))
	assert.Empty(t, scene.Layers)
	assert.Empty(t, scene.Markers)
	assert.Nil(t, scene.Camera)
}

func TestGetScene_BadRequest(t *testing.T) {
	r := newTestRouter(&stubFetcher{})

	tests := []struct {
		target string
		want   string
	}{
		{"/v1/scene?width=abc", "invalid width"},
		{"/v1/scene?height=0", "height must be between 1 and 8192"},
		{"/v1/scene?width=99999", "width must be between 1 and 8192"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := get(t, r, tt.target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestGetBoundary(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/v1/boundary?area=Chuo")
	require.Equal(t, http.StatusOK, w.Code)

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
}

func TestGetBoundary_FetchFailure(t *testing.T) {
	f := &stubFetcher{boundaryErr: fmt.Errorf("%w: HTTP 500", overpass.ErrFetchFailed)}
	w := get(t, newTestRouter(f), "/v1/boundary?area=Chuo")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP 500")
}

func TestGetPOIs_Pending(t *testing.T) {
	f := &stubFetcher{poisErr: fmt.Errorf("%w: %w", fetchcache.ErrPending, context.DeadlineExceeded)}
	w := get(t, newTestRouter(f), "/v1/pois?area=Chuo")

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestGetMarkers(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/v1/markers?area=Chuo&amenity=restaurant&cuisine=ramen&icon=R")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Markers []domain.Marker `json:"markers"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "R", body.Markers[0].Icon)
	assert.InDelta(t, 139.772, body.Markers[0].Lon, 1e-9)
}

func TestGetMarkers_ByLayer(t *testing.T) {
	r := newTestRouter(&stubFetcher{})

	w := get(t, r, "/v1/markers?area=Chuo&layer=ramen")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Markers []domain.Marker `json:"markers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Markers, 1)
	assert.Equal(t, "🍜", body.Markers[0].Icon)

	w = get(t, r, "/v1/pois?area=Chuo&layer=missing")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `unknown layer`)
}

func TestGetLayers(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/v1/layers")
	require.Equal(t, http.StatusOK, w.Code)

	var sc config.SceneConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sc))
	assert.Equal(t, config.DefaultSceneConfig(), sc)
}

func TestViewer(t *testing.T) {
	w := get(t, newTestRouter(&stubFetcher{}), "/")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/v1/scene")
	// Marker labels show on hover as well as in the popup.
	assert.Contains(t, w.Body.String(), "el.title = m.label")
}

func TestMetrics(t *testing.T) {
	r := newTestRouter(&stubFetcher{})
	get(t, r, "/v1/scene?area=Chuo")

	w := get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "areamap_scene_duration_ms")
}

func TestCORS(t *testing.T) {
	r := newTestRouter(&stubFetcher{}, "https://allowed.example")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://allowed.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
