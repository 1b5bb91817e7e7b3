package spatial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoProjection is returned when a shapefile has no .prj sidecar.
var ErrNoProjection = errors.New("no projection file")

var (
	authorityRe = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	crsNameRe   = regexp.MustCompile(`^\s*(PROJCS|GEOGCS)\s*\[\s*"([^"]+)"`)
	utmZoneRe   = regexp.MustCompile(`^(ETRS_1989|ETRS89|WGS_1984|WGS_84|ED_1950|ED50)_UTM_ZONE_(\d{1,2})([NS]?)$`)
)

// wellKnownCRS maps ESRI-style CRS names, which carry no AUTHORITY clause,
// to EPSG codes.
var wellKnownCRS = map[string]int{
	"GCS_WGS_1984":                          4326,
	"WGS_84":                                4326,
	"WGS 84":                                4326,
	"GCS_ETRS_1989":                         4258,
	"ETRS89":                                4258,
	"GCS_EUROPEAN_1950":                     4230,
	"WGS_1984_WEB_MERCATOR_AUXILIARY_SPHERE": 3857,
	"WGS_1984_WEB_MERCATOR":                 3857,
	"WGS 84 / PSEUDO-MERCATOR":              3857,
	"ETRS_1989_LAEA":                        3035,
	"ETRS89 / LAEA EUROPE":                  3035,
	"REGCAN95":                              4081,
	"GCS_REGCAN95":                          4081,
}

// DiscoverSRID reads the .prj next to a shapefile and returns its EPSG code.
// It returns 0 and ErrNoProjection when the sidecar is missing, and 0 with a
// nil error when the projection is present but not recognized.
func DiscoverSRID(shpPath string) (int, error) {
	prj, err := findSidecar(shpPath, ".prj")
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", prj, err)
	}
	return ParseWKTSRID(string(data)), nil
}

// ParseWKTSRID extracts an EPSG code from a WKT1 CRS definition. The
// outermost AUTHORITY clause is the last one in the text; definitions without
// one are matched by name.
func ParseWKTSRID(wkt string) int {
	if m := authorityRe.FindAllStringSubmatch(wkt, -1); len(m) > 0 {
		if code, err := strconv.Atoi(m[len(m)-1][1]); err == nil {
			return code
		}
	}

	m := crsNameRe.FindStringSubmatch(wkt)
	if m == nil {
		return 0
	}
	name := strings.ToUpper(strings.TrimSpace(m[2]))
	if code, ok := wellKnownCRS[name]; ok {
		return code
	}
	return utmCode(name)
}

// ParseSRID extracts the digits of an SRID given as "EPSG:25830", "25830" or
// similar. It returns 0 when s carries no digits.
func ParseSRID(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	code, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return code
}

func utmCode(name string) int {
	name = strings.ReplaceAll(name, " / ", "_")
	name = strings.ReplaceAll(name, " ", "_")
	m := utmZoneRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	zone, _ := strconv.Atoi(m[2])
	if zone < 1 || zone > 60 {
		return 0
	}
	south := m[3] == "S"

	switch m[1] {
	case "ETRS_1989", "ETRS89":
		if zone >= 28 && zone <= 38 && !south {
			return 25800 + zone
		}
	case "WGS_1984", "WGS_84":
		if south {
			return 32700 + zone
		}
		return 32600 + zone
	case "ED_1950", "ED50":
		if zone >= 28 && zone <= 38 && !south {
			return 23000 + zone
		}
	}
	return 0
}

// findSidecar locates base+ext next to path, accepting any extension case.
func findSidecar(path, ext string) (string, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return "", ErrNoProjection
	}
	want := strings.ToLower(filepath.Base(base) + ext)
	for _, e := range entries {
		if strings.ToLower(e.Name()) == want {
			return filepath.Join(filepath.Dir(path), e.Name()), nil
		}
	}
	return "", ErrNoProjection
}
