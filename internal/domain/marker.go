// Package domain holds the map render model: markers, bounding boxes, the camera
// surface and the scene (render tree) built from fetched feature collections.
package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FallbackLabel is shown for point features without a name property.
const FallbackLabel = "no name"

// Marker is a single icon pinned to a point feature.
type Marker struct {
	ID    string  `json:"id"`
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	Label string  `json:"label"` // Tooltip text, not rendered as visible text.
	Icon  string  `json:"icon"`
}

// Markers derives one marker per two-coordinate point feature, in feature order.
// Features with any other geometry are skipped.
func Markers(fc *geojson.FeatureCollection, icon string) []Marker {
	if fc == nil {
		return []Marker{}
	}

	markers := make([]Marker, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		markers = append(markers, Marker{
			ID:    featureID(f, i),
			Lon:   p.Lon(),
			Lat:   p.Lat(),
			Label: featureLabel(f),
			Icon:  icon,
		})
	}

	return markers
}

func featureLabel(f *geojson.Feature) string {
	if name, ok := f.Properties["name"].(string); ok && name != "" {
		return name
	}
	return FallbackLabel
}

func featureID(f *geojson.Feature, index int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("feature/%d", index)
}
