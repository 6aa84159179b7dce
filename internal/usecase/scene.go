package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/areamap-api/internal/adapter/fetchcache"
	"go.ngs.io/areamap-api/internal/adapter/overpass"
	"go.ngs.io/areamap-api/internal/config"
	"go.ngs.io/areamap-api/internal/domain"
	"go.ngs.io/areamap-api/internal/metrics"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultSceneWait bounds how long Build waits for layers before rendering.
const DefaultSceneWait = 30 * time.Second

// MaxViewportSize is the largest accepted viewport edge in pixels.
const MaxViewportSize = 8192

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("query"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// FeatureFetcher returns the collection for an Overpass request URL.
type FeatureFetcher interface {
	Get(ctx context.Context, url string) (fetchcache.Result, error)
}

// SceneRequest asks for the render tree of an area at a viewport size.
type SceneRequest struct {
	AreaName string `query:"area" validate:"required"`
	Width    int    `query:"width" validate:"min=1,max=8192"`
	Height   int    `query:"height" validate:"min=1,max=8192"`
}

// Validate checks if the request is valid.
func (r SceneRequest) Validate() error {
	return validateStruct(r)
}

// FeatureRequest asks for the raw features of an area. Layer selects a
// configured POI layer by id; Amenity and Cuisine select features directly.
type FeatureRequest struct {
	AreaName string `query:"area" validate:"required"`
	Layer    string `query:"layer"`
	Amenity  string `query:"amenity"`
	Cuisine  string `query:"cuisine"`
	Icon     string `query:"icon"`
}

// Validate checks if the request is valid.
func (r FeatureRequest) Validate() error {
	return validateStruct(r)
}

// SceneOptions configures a SceneUseCase.
type SceneOptions struct {
	// RequestURL turns query text into a fetchable URL, usually the Overpass
	// client's URL method. Nil targets the default endpoint.
	RequestURL func(query string) string
	Query      overpass.QueryOptions
	Scene      config.SceneConfig
	StyleURL   string
	Wait       time.Duration
	Logger     logr.Logger
}

// SceneUseCase orchestrates the boundary and POI fetches of a map scene.
type SceneUseCase struct {
	fetcher  FeatureFetcher
	url      func(query string) string
	query    overpass.QueryOptions
	scene    config.SceneConfig
	styleURL string
	wait     time.Duration
	log      logr.Logger
}

// NewSceneUseCase creates a new scene use case.
func NewSceneUseCase(fetcher FeatureFetcher, opts SceneOptions) *SceneUseCase {
	uc := &SceneUseCase{
		fetcher:  fetcher,
		url:      opts.RequestURL,
		query:    opts.Query,
		scene:    opts.Scene,
		styleURL: opts.StyleURL,
		wait:     opts.Wait,
		log:      opts.Logger,
	}
	if uc.url == nil {
		uc.url = func(query string) string {
			return overpass.RequestURL(overpass.DefaultEndpoint, query)
		}
	}
	if uc.wait <= 0 {
		uc.wait = DefaultSceneWait
	}
	if uc.log.GetSink() == nil {
		uc.log = logr.Discard()
	}
	if uc.styleURL == "" {
		uc.styleURL = domain.DefaultStyleURL
	}
	return uc
}

// Build fetches the boundary and every POI layer concurrently and renders
// whatever has resolved when they finish or the scene wait elapses. A failed
// layer is left out of the scene; only an invalid request returns an error.
func (uc *SceneUseCase) Build(ctx context.Context, req SceneRequest) (domain.Scene, error) {
	if err := req.Validate(); err != nil {
		return domain.Scene{}, err
	}

	t0 := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, uc.wait)
	defer cancel()

	area := overpass.AreaQuery{AreaName: req.AreaName}
	in := domain.SceneInput{
		StyleURL: uc.styleURL,
		Viewport: domain.DefaultViewport(req.Width, req.Height),
		POIs:     make([]domain.POIData, len(uc.scene.POILayers)),
	}
	if uc.scene.FitPadding != nil {
		p := domain.UniformPadding(*uc.scene.FitPadding)
		in.FitPadding = &p
	}

	// Each goroutine writes only its own field; no layer waits on another.
	var g errgroup.Group
	g.Go(func() error {
		in.Boundary = uc.loadBoundary(waitCtx, area)
		return nil
	})
	for i, layer := range uc.scene.POILayers {
		g.Go(func() error {
			in.POIs[i] = uc.loadPOIs(waitCtx, area, layer)
			return nil
		})
	}
	_ = g.Wait()

	scene := domain.BuildScene(in)
	metrics.SceneDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	uc.log.V(1).Info("scene_built", "area", req.AreaName, "camera", scene.Camera != nil, "duration_ms", time.Since(t0).Milliseconds())

	return scene, nil
}

// Boundary returns the area boundary as GeoJSON.
func (uc *SceneUseCase) Boundary(ctx context.Context, req FeatureRequest) (*geojson.FeatureCollection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return uc.get(ctx, uc.boundaryURL(overpass.AreaQuery{AreaName: req.AreaName}))
}

// POIs returns the points of interest matching the request filter. Without a
// layer, amenity or cuisine it falls back to the first configured POI layer.
func (uc *SceneUseCase) POIs(ctx context.Context, req FeatureRequest) (*geojson.FeatureCollection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	filter, _, err := uc.filterFor(req)
	if err != nil {
		return nil, err
	}
	return uc.get(ctx, uc.poiURL(overpass.AreaQuery{AreaName: req.AreaName}, filter))
}

// Markers returns one marker per point feature matching the request filter.
func (uc *SceneUseCase) Markers(ctx context.Context, req FeatureRequest) ([]domain.Marker, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	filter, icon, err := uc.filterFor(req)
	if err != nil {
		return nil, err
	}
	fc, err := uc.get(ctx, uc.poiURL(overpass.AreaQuery{AreaName: req.AreaName}, filter))
	if err != nil {
		return nil, err
	}
	return domain.Markers(fc, icon), nil
}

// Layers returns the configured scene.
func (uc *SceneUseCase) Layers() config.SceneConfig {
	return uc.scene
}

func (uc *SceneUseCase) loadBoundary(ctx context.Context, area overpass.AreaQuery) domain.BoundaryData {
	b := domain.BoundaryData{
		LayerID:     uc.scene.Boundary.ID,
		FillColor:   uc.scene.Boundary.FillColor,
		FillOpacity: uc.scene.Boundary.FillOpacity,
	}

	res, err := uc.fetcher.Get(ctx, uc.boundaryURL(area))
	if err != nil {
		b.Status, b.Err = uc.failure(err, "boundary", b.LayerID)
		return b
	}

	b.Collection = res.Collection
	b.Revision = res.FetchedAt.UTC().Format(time.RFC3339Nano)
	b.Status = domain.StatusReady
	metrics.LayerStatusTotal.WithLabelValues("boundary", string(b.Status)).Inc()
	return b
}

func (uc *SceneUseCase) loadPOIs(ctx context.Context, area overpass.AreaQuery, layer config.POILayer) domain.POIData {
	p := domain.POIData{LayerID: layer.ID, Icon: layer.Icon}

	res, err := uc.fetcher.Get(ctx, uc.poiURL(area, layer.Filter()))
	if err != nil {
		p.Status, p.Err = uc.failure(err, "poi", layer.ID)
		return p
	}

	p.Collection = res.Collection
	p.Status = domain.StatusReady
	metrics.LayerStatusTotal.WithLabelValues("poi", string(p.Status)).Inc()
	return p
}

// failure maps a fetch error to the layer status shown in the scene.
func (uc *SceneUseCase) failure(err error, kind, id string) (domain.LayerStatus, string) {
	if errors.Is(err, fetchcache.ErrPending) {
		uc.log.V(1).Info("layer_pending", "kind", kind, "layer", id)
		metrics.LayerStatusTotal.WithLabelValues(kind, string(domain.StatusLoading)).Inc()
		return domain.StatusLoading, ""
	}
	uc.log.Error(err, "layer_failed", "kind", kind, "layer", id)
	metrics.LayerStatusTotal.WithLabelValues(kind, string(domain.StatusError)).Inc()
	return domain.StatusError, err.Error()
}

func (uc *SceneUseCase) get(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.wait)
	defer cancel()

	res, err := uc.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return res.Collection, nil
}

// filterFor resolves the request to an Overpass filter and marker icon. A
// named layer takes precedence over amenity and cuisine; the request icon
// overrides the layer's.
func (uc *SceneUseCase) filterFor(req FeatureRequest) (overpass.POIFilter, string, error) {
	if req.Layer != "" {
		l, ok := uc.scene.Layer(req.Layer)
		if !ok {
			return overpass.POIFilter{}, "", fmt.Errorf("%w: unknown layer %q", ErrInvalidRequest, req.Layer)
		}
		return l.Filter(), firstNonEmpty(req.Icon, l.Icon), nil
	}

	filter := overpass.POIFilter{Amenity: req.Amenity, Cuisine: req.Cuisine}
	icon := req.Icon
	if filter.Amenity == "" && filter.Cuisine == "" && len(uc.scene.POILayers) > 0 {
		l := uc.scene.POILayers[0]
		filter = l.Filter()
		icon = firstNonEmpty(icon, l.Icon)
	}
	return filter, icon, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (uc *SceneUseCase) boundaryURL(area overpass.AreaQuery) string {
	return uc.url(overpass.BoundaryQuery(uc.query, area))
}

func (uc *SceneUseCase) poiURL(area overpass.AreaQuery, filter overpass.POIFilter) string {
	return uc.url(overpass.POIQuery(uc.query, area, filter))
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s parameter is required", fe.Field()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be between 1 and %d", fe.Field(), MaxViewportSize))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}
