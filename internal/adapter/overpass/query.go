// Package overpass builds Overpass QL queries, fetches them and converts the
// responses into GeoJSON feature collections.
package overpass

import (
	"fmt"
	"net/url"
	"strings"
)

// Defaults taken from the public Overpass deployment the map was built against.
const (
	DefaultEndpoint = "https://z.overpass-api.de/api/interpreter"
	DefaultRegion   = "Tokyo"
	DefaultTimeout  = 30000
	DefaultAmenity  = "restaurant"
)

// QueryOptions holds the settings shared by every query.
type QueryOptions struct {
	Region  string // English name of the enclosing area, e.g. "Tokyo".
	Timeout int    // Server-side [timeout:N] setting.
}

// DefaultQueryOptions returns the options used when nothing is configured.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Region: DefaultRegion, Timeout: DefaultTimeout}
}

// AreaQuery names the administrative area to look up. The name is interpolated
// as-is, so a name containing a double quote breaks the query.
type AreaQuery struct {
	AreaName string
}

// POIFilter selects points of interest inside the area.
type POIFilter struct {
	Amenity string
	Cuisine string // Optional; empty drops the cuisine clause.
}

// BoundaryQuery returns the query for the area's boundary relation.
func BoundaryQuery(opts QueryOptions, q AreaQuery) string {
	opts = withDefaults(opts)
	return fmt.Sprintf(`
    [out:json][timeout:%d];
    area["name:en"="%s"]->.outer;
    (
      relation["name:en"="%s"](area.outer);
    );
    out geom;
    `, opts.Timeout, opts.Region, q.AreaName)
}

// POIQuery returns the query for points of interest inside the area.
func POIQuery(opts QueryOptions, q AreaQuery, f POIFilter) string {
	opts = withDefaults(opts)
	amenity := f.Amenity
	if amenity == "" {
		amenity = DefaultAmenity
	}

	var filter strings.Builder
	fmt.Fprintf(&filter, `["amenity"="%s"]`, amenity)
	if f.Cuisine != "" {
		fmt.Fprintf(&filter, `["cuisine"="%s"]`, f.Cuisine)
	}

	return fmt.Sprintf(`
    [out:json][timeout:%d];
    area["name:en"="%s"]->.outer;
    area["name:en"="%s"]->.inner;
    (
      nwr%s(area.inner)(area.outer);
    );
    out geom;
    `, opts.Timeout, opts.Region, q.AreaName, filter.String())
}

// RequestURL puts the URL-encoded query into the endpoint's data parameter.
func RequestURL(endpoint, query string) string {
	return endpoint + "?" + url.Values{"data": {query}}.Encode()
}

// QueryFromURL extracts the query text from a request URL built by RequestURL.
func QueryFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	return u.Query().Get("data"), nil
}

func withDefaults(opts QueryOptions) QueryOptions {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts
}
