// Package spatial reads vector payloads into orb geometries and prepares them
// for insertion into PostGIS.
package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeometryColumn is the name of the geometry column in every loaded table.
const GeometryColumn = "geom"

// ColumnType is the SQL type chosen for an attribute column.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnBigInt  ColumnType = "bigint"
	ColumnNumeric ColumnType = "numeric"
	ColumnDouble  ColumnType = "double precision"
	ColumnBool    ColumnType = "boolean"
	ColumnDate    ColumnType = "date"
)

// Column describes one attribute column.
type Column struct {
	Name       string     // lowercase, unique within the set
	SourceName string     // as declared in the source file
	Type       ColumnType
}

// Feature is one geometry plus its attribute values in column order.
// A nil Geometry is stored as SQL NULL.
type Feature struct {
	Geometry orb.Geometry
	Values   []any
}

// FeatureSet is a fully read vector payload.
type FeatureSet struct {
	Columns  []Column
	Features []Feature

	// SRID is the EPSG code from the source reference system, 0 when unknown.
	SRID int
}

// NormalizeGeometry wraps a single Polygon into a one-element MultiPolygon so
// polygonal layers have a uniform geometry type. Other geometries pass through.
func NormalizeGeometry(g orb.Geometry) orb.Geometry {
	if p, ok := g.(orb.Polygon); ok {
		return orb.MultiPolygon{p}
	}
	return g
}

// Normalize applies NormalizeGeometry to every feature in place.
func (fs *FeatureSet) Normalize() {
	for i := range fs.Features {
		if fs.Features[i].Geometry != nil {
			fs.Features[i].Geometry = NormalizeGeometry(fs.Features[i].Geometry)
		}
	}
}

// GeometryTypes returns the distinct geometry type names in the set.
func (fs *FeatureSet) GeometryTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fs.Features {
		if f.Geometry == nil {
			continue
		}
		name := f.Geometry.GeoJSONType()
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// EncodeWKB encodes g as little-endian WKB. A nil geometry encodes as nil.
func EncodeWKB(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	b, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode %s as wkb: %w", g.GeoJSONType(), err)
	}
	return b, nil
}

// assemblePolygons groups shapefile rings into polygons. Clockwise rings start
// a new polygon; counter-clockwise rings are holes of the preceding one.
func assemblePolygons(rings []orb.Ring) orb.Geometry {
	var polys orb.MultiPolygon
	for _, ring := range rings {
		if len(ring) == 0 {
			continue
		}
		ring = closeRing(ring)
		if ring.Orientation() == orb.CCW && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, orb.Polygon{ring})
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	default:
		return polys
	}
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}
