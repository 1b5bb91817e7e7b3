package spatial

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// ShapefileReader reads ESRI shapefiles from the local filesystem.
type ShapefileReader struct{}

// ReadVector implements the loader's vector reader contract.
func (ShapefileReader) ReadVector(ctx context.Context, path string) (*FeatureSet, error) {
	return ReadShapefile(ctx, path)
}

// ReadShapefile reads every feature of the shapefile at path together with its
// attributes and the EPSG code of its .prj sidecar. Column names are
// lowercased and deduplicated. Text attributes are decoded to UTF-8 using the
// .cpg sidecar when present. The context is checked between features.
func ReadShapefile(ctx context.Context, path string) (*FeatureSet, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	fs := &FeatureSet{Columns: columnsFor(fields)}

	srid, err := DiscoverSRID(path)
	if err != nil && !errors.Is(err, ErrNoProjection) {
		return nil, err
	}
	fs.SRID = srid
	dec := decoderFor(path)

	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, shape := r.Shape()

		geom, err := toOrb(shape)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", n, err)
		}

		values := make([]any, len(fields))
		for i, f := range fields {
			v, err := convertValue(f, r.ReadAttribute(n, i), dec)
			if err != nil {
				return nil, fmt.Errorf("feature %d field %s: %w", n, f.String(), err)
			}
			values[i] = v
		}
		fs.Features = append(fs.Features, Feature{Geometry: geom, Values: values})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}

	return fs, nil
}

// columnsFor maps dBase fields to lowercase, unique SQL columns.
func columnsFor(fields []shp.Field) []Column {
	used := map[string]int{GeometryColumn: 1}
	cols := make([]Column, len(fields))
	for i, f := range fields {
		src := strings.TrimSpace(f.String())
		name := strings.ToLower(src)
		if name == "" {
			name = "field_" + strconv.Itoa(i+1)
		}
		if _, dup := used[name]; dup {
			base := name
			for n := used[base] + 1; ; n++ {
				name = base + "_" + strconv.Itoa(n)
				if _, taken := used[name]; !taken {
					used[base] = n
					break
				}
			}
		}
		used[name] = 1
		cols[i] = Column{Name: name, SourceName: src, Type: columnType(f)}
	}
	return cols
}

func columnType(f shp.Field) ColumnType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision > 0 {
			return ColumnDouble
		}
		if f.Size > 18 {
			return ColumnNumeric
		}
		return ColumnBigInt
	case 'F', 'O':
		return ColumnDouble
	case 'L':
		return ColumnBool
	case 'D':
		return ColumnDate
	default:
		return ColumnText
	}
}

// convertValue parses a raw dBase value. Blank values become nil.
func convertValue(f shp.Field, raw string, dec attributeDecoder) (any, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "\x00")
	if raw == "" {
		return nil, nil
	}

	switch columnType(f) {
	case ColumnBigInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Some writers emit "12.0" in integer fields.
			fl, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil {
				return nil, fmt.Errorf("invalid number %q", raw)
			}
			return int64(fl), nil
		}
		return i, nil
	case ColumnNumeric:
		return raw, nil
	case ColumnDouble:
		fl, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return fl, nil
	case ColumnBool:
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true, nil
		case "F", "N":
			return false, nil
		}
		return nil, nil
	case ColumnDate:
		d, err := time.Parse("20060102", raw)
		if err != nil {
			return nil, nil
		}
		return d, nil
	default:
		s, err := dec.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode text %q: %w", raw, err)
		}
		return s, nil
	}
}

// toOrb converts a go-shp shape to an orb geometry. Null shapes return nil.
func toOrb(s shp.Shape) (orb.Geometry, error) {
	switch g := s.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{g.X, g.Y}, nil
	case *shp.PointZ:
		return orb.Point{g.X, g.Y}, nil
	case *shp.PointM:
		return orb.Point{g.X, g.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(g.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(g.Points), nil
	case *shp.MultiPointM:
		return multiPoint(g.Points), nil
	case *shp.PolyLine:
		return lines(g.Parts, g.Points), nil
	case *shp.PolyLineZ:
		return lines(g.Parts, g.Points), nil
	case *shp.PolyLineM:
		return lines(g.Parts, g.Points), nil
	case *shp.Polygon:
		return assemblePolygons(rings(g.Parts, g.Points)), nil
	case *shp.PolygonZ:
		return assemblePolygons(rings(g.Parts, g.Points)), nil
	case *shp.PolygonM:
		return assemblePolygons(rings(g.Parts, g.Points)), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPoint(pts []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// splitParts slices points into the parts described by the start offsets.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

func lines(parts []int32, points []shp.Point) orb.Geometry {
	segs := splitParts(parts, points)
	if len(segs) == 1 {
		return orb.LineString(segs[0])
	}
	mls := make(orb.MultiLineString, len(segs))
	for i, s := range segs {
		mls[i] = orb.LineString(s)
	}
	return mls
}

func rings(parts []int32, points []shp.Point) []orb.Ring {
	segs := splitParts(parts, points)
	out := make([]orb.Ring, len(segs))
	for i, s := range segs {
		out[i] = orb.Ring(s)
	}
	return out
}
