package domain

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

const (
	// DefaultFitDuration is the camera animation length for a bounds fit.
	DefaultFitDuration = time.Second

	// DefaultFitPadding is the padding in pixels kept on every side of a fit.
	DefaultFitPadding = 40.0

	tileSize            = 512.0
	mercatorEarthRadius = 6378137.0
	minZoom             = 0.0
	maxZoom             = 22.0
)

// Padding is the screen space in pixels kept free around fitted bounds.
type Padding struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// UniformPadding returns the same padding on all four sides.
func UniformPadding(px float64) Padding {
	return Padding{Top: px, Right: px, Bottom: px, Left: px}
}

// FitOptions controls a bounds fit.
type FitOptions struct {
	Padding  Padding
	Duration time.Duration
}

// Camera is a handle to the map viewport that can animate to enclose bounds.
type Camera interface {
	FitBounds(bound orb.Bound, opts FitOptions)
}

// BBox returns the smallest lon/lat box enclosing every feature geometry.
// The second result is false when the collection holds no coordinates.
func BBox(fc *geojson.FeatureCollection) (orb.Bound, bool) {
	var bound orb.Bound
	found := false

	if fc == nil {
		return bound, false
	}

	for _, f := range fc.Features {
		if f == nil || isEmpty(f.Geometry) {
			continue
		}
		b := f.Geometry.Bound()
		if !found {
			bound = b
			found = true
			continue
		}
		bound = bound.Union(b)
	}

	return bound, found
}

// FitBounds animates cam to enclose the collection. It is a no-op when cam is nil
// or the collection is empty, and reports whether a fit was issued.
// Geometries crossing the antimeridian are not special-cased.
func FitBounds(cam Camera, fc *geojson.FeatureCollection, padding *Padding) bool {
	if cam == nil {
		return false
	}

	bound, ok := BBox(fc)
	if !ok {
		return false
	}

	opts := FitOptions{Duration: DefaultFitDuration}
	if padding != nil {
		opts.Padding = *padding
	}
	cam.FitBounds(bound, opts)

	return true
}

// Viewport is the camera state of a map surface.
type Viewport struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Zoom   float64 `json:"zoom"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// DefaultViewport is the initial view before any fit happens.
func DefaultViewport(width, height int) Viewport {
	return Viewport{Lon: 0, Lat: 0, Zoom: 10, Width: width, Height: height}
}

// CameraCommand is the animated fit handed to the map renderer.
type CameraCommand struct {
	Bounds     [2][2]float64 `json:"bounds"` // [[minLon, minLat], [maxLon, maxLat]].
	Padding    Padding       `json:"padding"`
	DurationMs int64         `json:"duration_ms"`
	Center     [2]float64    `json:"center"` // Resulting [lon, lat].
	Zoom       float64       `json:"zoom"`
	Revision   string        `json:"revision,omitempty"`
}

// Surface owns a viewport and records the camera commands applied to it.
// A nil *Surface ignores fits.
type Surface struct {
	view     Viewport
	command  *CameraCommand
	revision string
}

// NewSurface creates a surface with the given initial viewport.
func NewSurface(view Viewport) *Surface {
	return &Surface{view: view}
}

// Viewport returns the current camera state.
func (s *Surface) Viewport() Viewport {
	return s.view
}

// Command returns the last camera command, or nil if none was issued.
func (s *Surface) Command() *CameraCommand {
	if s == nil {
		return nil
	}
	return s.command
}

// FitBounds moves the viewport so that bound fills the padded screen area.
func (s *Surface) FitBounds(bound orb.Bound, opts FitOptions) {
	if s == nil {
		return
	}

	center, zoom := fitCamera(bound, opts.Padding, s.view.Width, s.view.Height)
	s.view.Lon = center.Lon()
	s.view.Lat = center.Lat()
	s.view.Zoom = zoom
	s.command = &CameraCommand{
		Bounds: [2][2]float64{
			{bound.Min.Lon(), bound.Min.Lat()},
			{bound.Max.Lon(), bound.Max.Lat()},
		},
		Padding:    opts.Padding,
		DurationMs: opts.Duration.Milliseconds(),
		Center:     [2]float64{center.Lon(), center.Lat()},
		Zoom:       zoom,
		Revision:   s.revision,
	}
}

// FitOnce fits the collection only when revision differs from the last fitted
// one, so re-rendering the same data never re-animates the camera.
func (s *Surface) FitOnce(revision string, fc *geojson.FeatureCollection, padding *Padding) bool {
	if s == nil || revision == s.revision {
		return false
	}

	prev := s.revision
	s.revision = revision
	if !FitBounds(s, fc, padding) {
		s.revision = prev
		return false
	}

	return true
}

// fitCamera computes the Web Mercator center and zoom that enclose bound within
// the padded viewport, mirroring the renderer's own fit.
func fitCamera(bound orb.Bound, padding Padding, width, height int) (orb.Point, float64) {
	lo := project.WGS84.ToMercator(bound.Min)
	hi := project.WGS84.ToMercator(bound.Max)

	availW := math.Max(float64(width)-padding.Left-padding.Right, 1)
	availH := math.Max(float64(height)-padding.Top-padding.Bottom, 1)

	worldM := 2 * math.Pi * mercatorEarthRadius
	dx := hi[0] - lo[0]
	dy := hi[1] - lo[1]

	zoom := maxZoom
	if dx > 0 {
		zoom = math.Min(zoom, math.Log2(availW*worldM/(tileSize*dx)))
	}
	if dy > 0 {
		zoom = math.Min(zoom, math.Log2(availH*worldM/(tileSize*dy)))
	}
	zoom = math.Max(minZoom, math.Min(maxZoom, zoom))

	// Asymmetric padding shifts the screen center away from the box center.
	metersPerPx := worldM / (tileSize * math.Pow(2, zoom))
	cx := (lo[0]+hi[0])/2 + (padding.Right-padding.Left)/2*metersPerPx
	cy := (lo[1]+hi[1])/2 + (padding.Top-padding.Bottom)/2*metersPerPx

	return project.Mercator.ToWGS84(orb.Point{cx, cy}), zoom
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		for _, p := range g {
			if !isEmpty(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range g {
			if !isEmpty(c) {
				return false
			}
		}
		return true
	}
	return false
}
