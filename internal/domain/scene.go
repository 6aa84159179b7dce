package domain

import "github.com/paulmach/orb/geojson"

// Default render constants.
const (
	DefaultStyleURL        = "https://tile.openstreetmap.jp/styles/osm-bright-ja/style.json"
	DefaultBoundaryLayerID = "area-boundary"
	DefaultFillColor       = "#0000ff"
	DefaultFillOpacity     = 0.2
)

// LayerStatus describes the data state of a layer.
type LayerStatus string

const (
	StatusReady   LayerStatus = "ready"
	StatusLoading LayerStatus = "loading"
	StatusError   LayerStatus = "error"
)

// BoundaryData is the fetched state of the area boundary layer.
type BoundaryData struct {
	LayerID     string
	FillColor   string
	FillOpacity *float64                   // Nil means DefaultFillOpacity.
	Collection  *geojson.FeatureCollection // Nil until the fetch resolves.
	Revision    string                     // Changes whenever the fetch re-resolves.
	Status      LayerStatus
	Err         string
}

// POIData is the fetched state of one point-of-interest layer.
type POIData struct {
	LayerID    string
	Icon       string
	Collection *geojson.FeatureCollection
	Status     LayerStatus
	Err        string
}

// SceneInput is everything the render tree depends on.
type SceneInput struct {
	StyleURL   string
	Viewport   Viewport
	Boundary   BoundaryData
	POIs       []POIData
	FitPadding *Padding // Nil means DefaultFitPadding on every side.
}

// Source is a GeoJSON data source registered with the renderer.
type Source struct {
	ID   string                     `json:"id"`
	Type string                     `json:"type"`
	Data *geojson.FeatureCollection `json:"data"`
}

// Layer is a styled draw call over a source.
type Layer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint"`
}

// MarkerLayer groups the markers of one point-of-interest layer.
type MarkerLayer struct {
	ID      string   `json:"id"`
	Markers []Marker `json:"markers"`
}

// LayerState reports a layer's status in the scene.
type LayerState struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"`
	Status   LayerStatus `json:"status"`
	Features int         `json:"features"`
	Error    string      `json:"error,omitempty"`
}

// Scene is the render tree handed to the map renderer.
type Scene struct {
	StyleURL    string         `json:"style_url"`
	InitialView Viewport       `json:"initial_view"`
	View        Viewport       `json:"view"`
	Sources     []Source       `json:"sources"`
	Layers      []Layer        `json:"layers"`
	Markers     []MarkerLayer  `json:"markers"`
	Camera      *CameraCommand `json:"camera,omitempty"`
	LayerStates []LayerState   `json:"layer_states"`
}

// BuildScene turns the fetched data and viewport into draw calls. Layers whose
// data has not resolved are left out. A camera fit is issued once for the
// boundary revision when the boundary is present.
func BuildScene(in SceneInput) Scene {
	style := in.StyleURL
	if style == "" {
		style = DefaultStyleURL
	}

	scene := Scene{
		StyleURL:    style,
		InitialView: in.Viewport,
		Sources:     []Source{},
		Layers:      []Layer{},
		Markers:     []MarkerLayer{},
		LayerStates: make([]LayerState, 0, len(in.POIs)+1),
	}

	for _, p := range in.POIs {
		state := LayerState{ID: p.LayerID, Kind: "poi", Status: p.Status, Error: p.Err}
		if p.Collection != nil {
			markers := Markers(p.Collection, p.Icon)
			scene.Markers = append(scene.Markers, MarkerLayer{ID: p.LayerID, Markers: markers})
			state.Status = StatusReady
			state.Features = len(markers)
		}
		scene.LayerStates = append(scene.LayerStates, state)
	}

	surface := NewSurface(in.Viewport)
	b := in.Boundary
	state := LayerState{ID: boundaryLayerID(b), Kind: "boundary", Status: b.Status, Error: b.Err}
	if b.Collection != nil {
		id := boundaryLayerID(b)
		scene.Sources = append(scene.Sources, Source{ID: id, Type: "geojson", Data: b.Collection})
		scene.Layers = append(scene.Layers, Layer{
			ID:     id,
			Type:   "fill",
			Source: id,
			Paint: map[string]any{
				"fill-color":   fillColor(b),
				"fill-opacity": fillOpacity(b),
			},
		})
		state.Status = StatusReady
		state.Features = len(b.Collection.Features)

		revision := b.Revision
		if revision == "" {
			revision = id
		}
		padding := in.FitPadding
		if padding == nil {
			p := UniformPadding(DefaultFitPadding)
			padding = &p
		}
		surface.FitOnce(revision, b.Collection, padding)
	}
	scene.LayerStates = append(scene.LayerStates, state)

	scene.View = surface.Viewport()
	scene.Camera = surface.Command()

	return scene
}

func boundaryLayerID(b BoundaryData) string {
	if b.LayerID == "" {
		return DefaultBoundaryLayerID
	}
	return b.LayerID
}

func fillColor(b BoundaryData) string {
	if b.FillColor == "" {
		return DefaultFillColor
	}
	return b.FillColor
}

func fillOpacity(b BoundaryData) float64 {
	if b.FillOpacity == nil {
		return DefaultFillOpacity
	}
	return *b.FillOpacity
}
