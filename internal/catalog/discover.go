package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
)

// ErrNoSource means a catalog path holds no supported payload.
var ErrNoSource = errors.New("no shapefile or GeoTIFF found")

// Discovery is the payload found for a catalog path.
type Discovery struct {
	Path      string
	Format    dataset.SourceFormat
	CartoType dataset.CartoType
}

// Discover classifies path. A directory is scanned without recursion and a
// shapefile is preferred over a GeoTIFF when both are present.
func Discover(path string) (Discovery, error) {
	if strings.TrimSpace(path) == "" {
		return Discovery{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Discovery{}, err
	}
	if !info.IsDir() {
		if d, ok := classify(path); ok {
			return d, nil
		}
		return Discovery{}, fmt.Errorf("%s: %w", path, ErrNoSource)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Discovery{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var raster *Discovery
	for _, name := range names {
		d, ok := classify(filepath.Join(path, name))
		if !ok {
			continue
		}
		if d.CartoType == dataset.CartoVector {
			return d, nil
		}
		if raster == nil {
			raster = &d
		}
	}
	if raster != nil {
		return *raster, nil
	}
	return Discovery{}, fmt.Errorf("%s: %w", path, ErrNoSource)
}

func classify(path string) (Discovery, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return Discovery{Path: path, Format: dataset.FormatShapefile, CartoType: dataset.CartoVector}, true
	case ".tif", ".tiff":
		return Discovery{Path: path, Format: dataset.FormatGeoTIFF, CartoType: dataset.CartoRaster}, true
	}
	return Discovery{}, false
}
