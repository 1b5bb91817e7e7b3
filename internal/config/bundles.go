package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/geopostgis/internal/catalog"
	"github.com/JonMunkholm/geopostgis/internal/objectstore"
)

// ErrNoBundles aborts a run whose configuration defines nothing to process.
var ErrNoBundles = errors.New("no active bundle with a database server is configured")

// Catalog source kinds.
const (
	SourceCSV    = "csv"
	SourceXLSX   = "xlsx"
	SourceTable  = "table"
	SourceObject = "object"
)

// BundleFile is the parsed bundle configuration.
type BundleFile struct {
	ObjectStore objectstore.Config `yaml:"object_store"`
	Bundles     []Bundle           `yaml:"bundles"`
}

// Bundle groups a catalog with the servers its datasets are loaded into.
type Bundle struct {
	Name      string         `yaml:"name"`
	Database  DatabaseServer `yaml:"database"`
	GeoServer MapServer      `yaml:"geoserver"`
	Catalog   CatalogSource  `yaml:"catalog"`
	Options   BundleOptions  `yaml:"options"`
}

// DatabaseServer holds the connection parameters of a spatial database.
type DatabaseServer struct {
	Type     string `yaml:"type"` // postgis
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// Schema receives the dataset tables (default: public).
	Schema string `yaml:"schema"`
}

// MapServer holds the connection parameters of the map server.
type MapServer struct {
	Type      string `yaml:"type"` // geoserver
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Workspace string `yaml:"workspace"`

	// Datastore is the PostGIS store layers are published from (default: bundle name).
	Datastore string `yaml:"datastore"`

	// DeclaredSRID is the SRID layers are declared in (default: 3857).
	DeclaredSRID int `yaml:"declared_srid"`
}

// CatalogSource says where the catalog rows come from.
type CatalogSource struct {
	Source    string `yaml:"source"` // csv, xlsx, table or object
	Path      string `yaml:"path"`
	Sheet     string `yaml:"sheet"`
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`

	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`

	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`

	// Publisher is a LIKE pattern matched against the publisher column.
	Publisher string `yaml:"publisher"`

	Fields catalog.FieldMapping `yaml:"fields"`
}

// BundleOptions selects the stages a bundle runs. Unset options default to true.
type BundleOptions struct {
	LoadToDB          *bool `yaml:"load_to_db"`
	LoadToMap         *bool `yaml:"load_to_map"`
	RasterDirectToMap *bool `yaml:"raster_direct_to_map"`
	Parallel          *bool `yaml:"parallel"`
	Active            *bool `yaml:"active"`
}

// IsLoadToDB reports whether the database phase runs.
func (b Bundle) IsLoadToDB() bool { return orTrue(b.Options.LoadToDB) }

// IsLoadToMap reports whether the publish phase runs.
func (b Bundle) IsLoadToMap() bool { return orTrue(b.Options.LoadToMap) }

// IsRasterDirectToMap reports whether raster datasets skip the database.
func (b Bundle) IsRasterDirectToMap() bool { return orTrue(b.Options.RasterDirectToMap) }

// IsParallel reports whether phases run on the worker pool.
func (b Bundle) IsParallel() bool { return orTrue(b.Options.Parallel) }

// IsActive reports whether the bundle is processed.
func (b Bundle) IsActive() bool { return orTrue(b.Options.Active) }

func orTrue(v *bool) bool {
	return v == nil || *v
}

// HasDatabase reports whether a database server is configured.
func (b Bundle) HasDatabase() bool {
	return b.Database.Host != "" && b.Database.DBName != ""
}

// DatastoreName returns the map server store name for the bundle.
func (b Bundle) DatastoreName() string {
	if b.GeoServer.Datastore != "" {
		return b.GeoServer.Datastore
	}
	return b.Name
}

// Comma returns the catalog delimiter rune, or 0 for the default.
func (c CatalogSource) Comma() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	if r == utf8.RuneError {
		return 0
	}
	return r
}

// DSN returns the pgx connection string for the server.
func (d DatabaseServer) DSN(connectTimeoutSeconds int) string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if connectTimeoutSeconds > 0 {
		q.Set("connect_timeout", strconv.Itoa(connectTimeoutSeconds))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(port),
		Path:     "/" + d.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// EffectivePort returns the port, defaulting to 5432.
func (d DatabaseServer) EffectivePort() int {
	if d.Port == 0 {
		return 5432
	}
	return d.Port
}

// SchemaOrPublic returns the dataset schema, defaulting to public.
func (d DatabaseServer) SchemaOrPublic() string {
	if d.Schema == "" {
		return "public"
	}
	return d.Schema
}

// envRef matches ${VAR} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the variable's value. Bare $VAR is left
// alone so passwords may contain dollar signs.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// LoadBundles reads and validates a bundle file.
func LoadBundles(path string) (*BundleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle file: %w", err)
	}
	return ParseBundles(data)
}

// ParseBundles parses and validates bundle file content.
func ParseBundles(data []byte) (*BundleFile, error) {
	var f BundleFile
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse bundle file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every bundle and returns all problems at once.
func (f *BundleFile) Validate() error {
	var errs []string
	seen := make(map[string]bool)

	for i, b := range f.Bundles {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Sprintf("bundle %s: name is required", name))
		} else if seen[name] {
			errs = append(errs, fmt.Sprintf("bundle %s: duplicate name", name))
		}
		seen[name] = true

		if !b.IsActive() || !b.HasDatabase() {
			continue
		}
		if b.Database.Username == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: database.username is required", name))
		}
		if b.Database.Port < 0 || b.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("bundle %s: database.port (%d) must be 1-65535", name, b.Database.Port))
		}
		if b.IsLoadToMap() && b.GeoServer.URL == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: geoserver.url is required when load_to_map is enabled", name))
		}
		if b.IsLoadToMap() && b.GeoServer.Workspace == "" && b.Catalog.Fields.Workspace == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: geoserver.workspace is required", name))
		}
		if b.GeoServer.DeclaredSRID < 0 {
			errs = append(errs, fmt.Sprintf("bundle %s: geoserver.declared_srid must be positive", name))
		}
		if utf8.RuneCountInString(b.Catalog.Delimiter) > 1 {
			errs = append(errs, fmt.Sprintf("bundle %s: catalog.delimiter must be one character", name))
		}
		errs = append(errs, f.validateSource(name, b.Catalog)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("bundle validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (f *BundleFile) validateSource(name string, c CatalogSource) []string {
	var errs []string
	switch c.Source {
	case SourceCSV, SourceXLSX, "":
		if c.Path == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: catalog.path is required", name))
		}
	case SourceTable:
		if c.Table == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: catalog.table is required", name))
		}
	case SourceObject:
		if c.Bucket == "" || c.Key == "" {
			errs = append(errs, fmt.Sprintf("bundle %s: catalog.bucket and catalog.key are required", name))
		}
		if !f.ObjectStore.Enabled() {
			errs = append(errs, fmt.Sprintf("bundle %s: object_store.endpoint is required for an object catalog", name))
		}
	default:
		errs = append(errs, fmt.Sprintf("bundle %s: catalog.source %q must be one of: csv, xlsx, table, object", name, c.Source))
	}
	return errs
}

// Select returns the active bundles with a database server, in file order.
// A non-empty name selects that bundle only. ErrNoBundles is returned when
// nothing is left to run.
func (f *BundleFile) Select(name string) ([]Bundle, error) {
	var out []Bundle
	for _, b := range f.Bundles {
		if name != "" && b.Name != name {
			continue
		}
		if !b.IsActive() || !b.HasDatabase() {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		if name != "" {
			return nil, fmt.Errorf("bundle %q: %w", name, ErrNoBundles)
		}
		return nil, ErrNoBundles
	}
	return out, nil
}

// SourceKind returns the catalog source, inferring it from the path
// extension when unset.
func (c CatalogSource) SourceKind() string {
	if c.Source != "" {
		return c.Source
	}
	lower := strings.ToLower(c.Path)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm") {
		return SourceXLSX
	}
	return SourceCSV
}
