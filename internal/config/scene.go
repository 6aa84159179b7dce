package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"go.ngs.io/areamap-api/internal/adapter/overpass"
	"go.ngs.io/areamap-api/internal/domain"
)

// Defaults for the scene shown when no scene file is configured.
const (
	DefaultArea       = "Chuo"
	DefaultPOILayerID = "ramen"
	DefaultPOIIcon    = "🍜"
	DefaultCuisine    = "ramen"
)

// SceneConfig describes the area shown on the map and its layers. Numeric
// settings are pointers so that an explicit 0 is kept; only omitted keys take
// the defaults.
type SceneConfig struct {
	Area       string        `yaml:"area" json:"area" validate:"required"`
	Boundary   BoundaryLayer `yaml:"boundary" json:"boundary"`
	POILayers  []POILayer    `yaml:"pois" json:"pois" validate:"unique=ID,dive"`
	FitPadding *float64      `yaml:"fit_padding" json:"fit_padding" validate:"gte=0"`
}

// BoundaryLayer styles the area polygon.
type BoundaryLayer struct {
	ID          string   `yaml:"id" json:"id" validate:"required"`
	FillColor   string   `yaml:"fill_color" json:"fill_color" validate:"required,hexcolor"`
	FillOpacity *float64 `yaml:"fill_opacity" json:"fill_opacity" validate:"gte=0,lte=1"`
}

// POILayer selects points of interest and the icon drawn for them.
type POILayer struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Icon    string `yaml:"icon" json:"icon" validate:"required"`
	Amenity string `yaml:"amenity" json:"amenity" validate:"required"`
	Cuisine string `yaml:"cuisine" json:"cuisine"`
}

// Filter returns the Overpass filter for the layer.
func (l POILayer) Filter() overpass.POIFilter {
	return overpass.POIFilter{Amenity: l.Amenity, Cuisine: l.Cuisine}
}

// DefaultSceneConfig returns the Chuo ramen map.
func DefaultSceneConfig() SceneConfig {
	sc := SceneConfig{}
	sc.applyDefaults()
	sc.POILayers = []POILayer{{
		ID:      DefaultPOILayerID,
		Icon:    DefaultPOIIcon,
		Amenity: overpass.DefaultAmenity,
		Cuisine: DefaultCuisine,
	}}
	return sc
}

// LoadSceneConfig reads a YAML scene file. An empty path returns the default
// scene.
func LoadSceneConfig(path string) (SceneConfig, error) {
	if path == "" {
		return DefaultSceneConfig(), nil
	}

	//nolint:gosec // G304: path comes from configuration.
	b, err := os.ReadFile(path)
	if err != nil {
		return SceneConfig{}, fmt.Errorf("failed to read scene config %s: %w", path, err)
	}
	return ParseSceneConfig(b)
}

// ParseSceneConfig decodes and validates YAML scene settings. Unknown keys are
// rejected; omitted styling falls back to the defaults.
func ParseSceneConfig(b []byte) (SceneConfig, error) {
	var sc SceneConfig
	if err := yaml.UnmarshalWithOptions(b, &sc, yaml.Strict()); err != nil {
		return SceneConfig{}, fmt.Errorf("failed to parse scene config: %w", err)
	}
	sc.applyDefaults()

	if err := validator.New().Struct(sc); err != nil {
		return SceneConfig{}, fmt.Errorf("invalid scene config: %w", err)
	}
	return sc, nil
}

func (sc *SceneConfig) applyDefaults() {
	if sc.Area == "" {
		sc.Area = DefaultArea
	}
	if sc.Boundary.ID == "" {
		sc.Boundary.ID = domain.DefaultBoundaryLayerID
	}
	if sc.Boundary.FillColor == "" {
		sc.Boundary.FillColor = domain.DefaultFillColor
	}
	if sc.Boundary.FillOpacity == nil {
		sc.Boundary.FillOpacity = floatPtr(domain.DefaultFillOpacity)
	}
	if sc.FitPadding == nil {
		sc.FitPadding = floatPtr(domain.DefaultFitPadding)
	}
	for i := range sc.POILayers {
		if sc.POILayers[i].Amenity == "" {
			sc.POILayers[i].Amenity = overpass.DefaultAmenity
		}
	}
}

// Layer returns the POI layer with the given id.
func (sc SceneConfig) Layer(id string) (POILayer, bool) {
	for _, l := range sc.POILayers {
		if l.ID == id {
			return l, true
		}
	}
	return POILayer{}, false
}

func floatPtr(v float64) *float64 { return &v }
