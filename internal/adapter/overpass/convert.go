package overpass

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmgeojson"
)

// response is the Overpass JSON output format.
type response struct {
	Elements []element `json:"elements"`
	Remark   string    `json:"remark,omitempty"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Nodes    []int64           `json:"nodes"`
	Geometry []*latLon         `json:"geometry"` // Present with "out geom"; entries may be null.
	Members  []member          `json:"members"`
}

type member struct {
	Type     string    `json:"type"`
	Ref      int64     `json:"ref"`
	Role     string    `json:"role"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Geometry []*latLon `json:"geometry"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Convert turns an Overpass JSON response into a GeoJSON feature collection.
// Element tags are flattened into the feature properties. An empty response
// yields an empty collection.
func Convert(raw []byte) (*geojson.FeatureCollection, error) {
	o, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	fc, err := osmgeojson.Convert(o,
		osmgeojson.NoMeta(true),
		osmgeojson.NoRelationMembership(true),
	)
	if err != nil {
		return nil, fmt.Errorf("convert to geojson: %w", err)
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	for _, f := range fc.Features {
		flattenTags(f)
	}

	return fc, nil
}

// Decode reads an Overpass JSON response into the OSM data model. Geometry
// inlined by "out geom" is kept on the way nodes, and relation way members that
// are not returned as separate elements are materialised as untagged ways so
// that rings can be assembled.
func Decode(raw []byte) (*osm.OSM, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	d := newDecoder()
	for _, e := range resp.Elements {
		switch e.Type {
		case "node":
			d.addNode(&osm.Node{
				ID:      osm.NodeID(e.ID),
				Lat:     e.Lat,
				Lon:     e.Lon,
				Tags:    toTags(e.Tags),
				Visible: true,
			})
		case "way":
			d.addWay(&osm.Way{
				ID:      osm.WayID(e.ID),
				Nodes:   d.wayNodes(e.Nodes, e.Geometry),
				Tags:    toTags(e.Tags),
				Visible: true,
			})
		case "relation":
			d.o.Relations = append(d.o.Relations, &osm.Relation{
				ID:      osm.RelationID(e.ID),
				Members: d.members(e.Members),
				Tags:    toTags(e.Tags),
				Visible: true,
			})
		}
	}

	for _, r := range d.o.Relations {
		for _, m := range r.Members {
			if m.Type != osm.TypeWay || len(m.Nodes) == 0 || d.ways[osm.WayID(m.Ref)] {
				continue
			}
			d.addWay(&osm.Way{ID: osm.WayID(m.Ref), Nodes: m.Nodes, Visible: true})
		}
	}

	return d.o, nil
}

type decoder struct {
	o     *osm.OSM
	nodes map[osm.NodeID]bool
	ways  map[osm.WayID]bool

	// Member geometry carries no node ids; identical coordinates share one
	// synthetic negative id so rings still join.
	synthetic map[[2]float64]osm.NodeID
	nextID    osm.NodeID
}

func newDecoder() *decoder {
	return &decoder{
		o:         &osm.OSM{},
		nodes:     make(map[osm.NodeID]bool),
		ways:      make(map[osm.WayID]bool),
		synthetic: make(map[[2]float64]osm.NodeID),
		nextID:    -1,
	}
}

func (d *decoder) addNode(n *osm.Node) {
	if d.nodes[n.ID] {
		return
	}
	d.nodes[n.ID] = true
	d.o.Nodes = append(d.o.Nodes, n)
}

func (d *decoder) addWay(w *osm.Way) {
	d.ways[w.ID] = true
	d.o.Ways = append(d.o.Ways, w)
}

// wayNodes pairs node ids with inline geometry. Located way nodes are also
// registered as plain nodes for converters that resolve coordinates by id.
func (d *decoder) wayNodes(ids []int64, geometry []*latLon) osm.WayNodes {
	n := len(ids)
	if len(geometry) > n {
		n = len(geometry)
	}

	wns := make(osm.WayNodes, 0, n)
	for i := 0; i < n; i++ {
		var wn osm.WayNode
		located := i < len(geometry) && geometry[i] != nil
		if located {
			wn.Lat = geometry[i].Lat
			wn.Lon = geometry[i].Lon
		}
		switch {
		case i < len(ids):
			wn.ID = osm.NodeID(ids[i])
		case located:
			wn.ID = d.syntheticID(wn.Lon, wn.Lat)
		}
		if !located {
			// Node without geometry; leave it to be resolved from the node list.
			wns = append(wns, wn)
			continue
		}
		d.addNode(&osm.Node{ID: wn.ID, Lat: wn.Lat, Lon: wn.Lon, Visible: true})
		wns = append(wns, wn)
	}

	return wns
}

func (d *decoder) members(ms []member) osm.Members {
	out := make(osm.Members, 0, len(ms))
	for _, m := range ms {
		om := osm.Member{
			Type: osm.Type(m.Type),
			Ref:  m.Ref,
			Role: m.Role,
			Lat:  m.Lat,
			Lon:  m.Lon,
		}
		if len(m.Geometry) > 0 {
			om.Nodes = d.wayNodes(nil, m.Geometry)
		}
		out = append(out, om)
	}
	return out
}

func (d *decoder) syntheticID(lon, lat float64) osm.NodeID {
	key := [2]float64{lon, lat}
	if id, ok := d.synthetic[key]; ok {
		return id
	}
	id := d.nextID
	d.nextID--
	d.synthetic[key] = id
	return id
}

func toTags(m map[string]string) osm.Tags {
	if len(m) == 0 {
		return nil
	}
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

// flattenTags copies the nested "tags" property to the top level without
// overwriting the converter's own keys such as "id" and "type".
func flattenTags(f *geojson.Feature) {
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}

	var tags map[string]string
	switch t := f.Properties["tags"].(type) {
	case map[string]string:
		tags = t
	case osm.Tags:
		tags = t.Map()
	case map[string]any:
		tags = make(map[string]string, len(t))
		for k, v := range t {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
	default:
		return
	}

	for k, v := range tags {
		if _, exists := f.Properties[k]; !exists {
			f.Properties[k] = v
		}
	}
}
