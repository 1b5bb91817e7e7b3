// Package catalog turns the rows of a dataset catalog into dataset records.
//
// Rows come from a Source (a CSV or XLSX file, a PostGIS table or an object
// in a bucket). The Builder validates each row, discovers its payload on disk
// and assigns the initial status the ingestion stages start from.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

// Row is one catalog entry keyed by column name.
type Row map[string]string

// Get returns the trimmed value of column, or "" when column is unmapped or absent.
func (r Row) Get(column string) string {
	if column == "" {
		return ""
	}
	return strings.TrimSpace(r[column])
}

// FieldMapping names the catalog column holding each record attribute.
// An empty name means the catalog has no such column.
type FieldMapping struct {
	Identifier  string `yaml:"identifier"`
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Path        string `yaml:"path"`
	SRID        string `yaml:"srid"`
	CartoType   string `yaml:"carto_type"`
	Style       string `yaml:"style"`
	Description string `yaml:"description"`
	MetadataURL string `yaml:"metadata_url"`
	Creator     string `yaml:"creator"`
	Workspace   string `yaml:"workspace"`
	Publisher   string `yaml:"publisher"`
	Status      string `yaml:"status"`
}

// DefaultFieldMapping returns the column names used when a bundle does not
// override them.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Identifier:  "identifier",
		Name:        "name",
		Title:       "title",
		Path:        "path",
		SRID:        "srid",
		CartoType:   "carto_type",
		Style:       "sld",
		Description: "description",
		MetadataURL: "metadata_url",
		Creator:     "creator",
		Workspace:   "ogc_workspace",
		Publisher:   "publisher",
		Status:      "status",
	}
}

// Merge returns m with every empty field taken from def.
func (m FieldMapping) Merge(def FieldMapping) FieldMapping {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return FieldMapping{
		Identifier:  pick(m.Identifier, def.Identifier),
		Name:        pick(m.Name, def.Name),
		Title:       pick(m.Title, def.Title),
		Path:        pick(m.Path, def.Path),
		SRID:        pick(m.SRID, def.SRID),
		CartoType:   pick(m.CartoType, def.CartoType),
		Style:       pick(m.Style, def.Style),
		Description: pick(m.Description, def.Description),
		MetadataURL: pick(m.MetadataURL, def.MetadataURL),
		Creator:     pick(m.Creator, def.Creator),
		Workspace:   pick(m.Workspace, def.Workspace),
		Publisher:   pick(m.Publisher, def.Publisher),
		Status:      pick(m.Status, def.Status),
	}
}

// Options configures a Builder.
type Options struct {
	Bundle string
	Fields FieldMapping

	// Schema is the database schema tables are written to. Defaults to public.
	Schema string

	// Workspace overrides the catalog's workspace column when set.
	Workspace string

	// DeclaredSRID is the SRID layers are published in.
	DeclaredSRID int

	// RasterDirectToMap starts raster records at geo_to_load.
	RasterDirectToMap bool

	// PublisherFilter keeps only rows whose publisher column matches this
	// LIKE pattern.
	PublisherFilter string
}

// resumable are statuses a catalog row may carry over from an earlier run.
var resumable = map[dataset.Status]bool{
	dataset.StatusDBUploaded:   true,
	dataset.StatusMapPublished: true,
	dataset.StatusError:        true,
	dataset.StatusGeoToLoad:    true,
	dataset.StatusUnknown:      true,
}

// Builder creates dataset records from catalog rows.
type Builder struct {
	opts     Options
	discover func(path string) (Discovery, error)
}

// NewBuilder returns a Builder. Unset field names use DefaultFieldMapping.
func NewBuilder(opts Options) *Builder {
	opts.Fields = opts.Fields.Merge(DefaultFieldMapping())
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	return &Builder{opts: opts, discover: Discover}
}

// Build returns one record per row that passes the publisher filter, in row
// order. Rows that cannot be processed become review or ignore records; Build
// fails only when ctx is cancelled.
func (b *Builder) Build(ctx context.Context, rows []Row) ([]*dataset.Record, error) {
	var match func(string) bool
	if b.opts.PublisherFilter != "" {
		m, err := Like(b.opts.PublisherFilter)
		if err != nil {
			return nil, fmt.Errorf("publisher filter: %w", err)
		}
		match = m
	}

	logger := logging.WithFields(ctx, "bundle", b.opts.Bundle)
	seen := make(map[string]int)
	records := make([]*dataset.Record, 0, len(rows))

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if match != nil && !match(row.Get(b.opts.Fields.Publisher)) {
			continue
		}
		records = append(records, b.build(logger, i+1, row, seen))
	}

	logger.Info("catalog built", "rows", len(rows), "datasets", len(records))
	return records, nil
}

func (b *Builder) build(logger *slog.Logger, line int, row Row, seen map[string]int) *dataset.Record {
	f := b.opts.Fields
	id := row.Get(f.Identifier)
	name := row.Get(f.Name)

	if id == "" {
		logger.Error("dataset has no identifier, it will not be loaded", "row", line, "name", name, "field", f.Identifier)
		r := dataset.New("", dataset.StatusReview,
			fmt.Sprintf("row %d: missing or wrong identifier [%s]", line, f.Identifier))
		r.Name = name
		r.Bundle = b.opts.Bundle
		return r
	}
	if first, dup := seen[id]; dup {
		logger.Error("duplicate identifier, it will not be loaded", "row", line, "identifier", id, "first_row", first)
		r := dataset.New(id, dataset.StatusReview,
			fmt.Sprintf("row %d: identifier already used by row %d", line, first))
		r.Name = name
		r.Bundle = b.opts.Bundle
		return r
	}
	seen[id] = line
	logger = logger.With("dataset", id)

	var native int
	if raw := row.Get(f.SRID); raw != "" {
		if native = spatial.ParseSRID(raw); native <= 0 {
			logger.Warn("srid not understood, it will be read from the source", "srid", raw)
		}
	}

	d, discoverErr := b.discover(row.Get(f.Path))
	initial, note := dataset.StatusDBToLoad, "catalog entry created"
	if discoverErr != nil {
		logger.Error("dataset has no readable source, it will not be loaded", "path", row.Get(f.Path), "error", discoverErr)
		initial, note = dataset.StatusIgnore, "no source file found: "+discoverErr.Error()
	} else {
		if raw := row.Get(f.CartoType); raw != "" {
			if ct, ok := dataset.ParseCartoType(raw); ok {
				d.CartoType = ct
			} else {
				logger.Warn("carto type not understood, using the discovered one", "carto_type", raw)
			}
		}
		if d.CartoType == dataset.CartoRaster {
			if b.opts.RasterDirectToMap {
				initial, note = dataset.StatusGeoToLoad, "catalog entry created, raster goes straight to the map server"
			} else {
				logger.Warn("raster kept at db_to_load, raster database load not supported", "path", d.Path)
				note = "catalog entry created, raster database load not supported"
			}
		}
		if raw := row.Get(f.Status); raw != "" {
			if st := dataset.ParseStatus(raw); resumable[st] {
				initial, note = st, fmt.Sprintf("catalog entry created, resuming from status %q", raw)
			}
		}
	}

	r := dataset.New(id, initial, note)
	r.Name = name
	r.Bundle = b.opts.Bundle
	r.DBSchema = b.opts.Schema
	r.DBTable = dataset.TableName(id)
	r.MapLayer = dataset.LayerName(r.DBTable)
	r.DeclaredSRID = b.opts.DeclaredSRID
	r.SetNativeSRID(native)
	if discoverErr == nil {
		r.SourcePath = d.Path
		r.SourceFormat = d.Format
		r.CartoType = d.CartoType
	}

	r.Title = b.optional(logger, row, f.Title, "title")
	r.Description = b.optional(logger, row, f.Description, "description")
	r.MetadataURL = b.optional(logger, row, f.MetadataURL, "metadata_url")
	r.Creator = b.optional(logger, row, f.Creator, "creator")
	r.Publisher = b.optional(logger, row, f.Publisher, "publisher")

	r.MapWorkspace = b.opts.Workspace
	if r.MapWorkspace == "" {
		r.MapWorkspace = dataset.Normalize(b.optional(logger, row, f.Workspace, "workspace"))
	}

	if style := b.optional(logger, row, f.Style, "style"); style != "" {
		if strings.EqualFold(filepath.Ext(style), ".sld") {
			r.StylePath = style
		} else {
			logger.Warn("style is not an SLD file, ignored", "style", style)
		}
	}
	return r
}

func (b *Builder) optional(logger *slog.Logger, row Row, column, attr string) string {
	v := row.Get(column)
	if v == "" {
		logger.Debug("dataset has no "+attr, "field", column)
	}
	return v
}
