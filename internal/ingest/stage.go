// Package ingest drives dataset records through the database load and map
// publication stages.
//
// The Loader and Publisher never return failures to their caller: every
// outcome is written into the record as a status transition and a history
// note, and summarized in a StageResult the Orchestrator uses for logging
// and progress. The Orchestrator runs all loads to completion before any
// publication, each phase on a bounded worker pool.
package ingest

import (
	"context"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/geoserver"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

// Phase names a batch phase.
type Phase string

const (
	PhaseLoad    Phase = "load"
	PhasePublish Phase = "publish"
)

// VectorReader reads a vector payload from disk.
type VectorReader interface {
	ReadVector(ctx context.Context, path string) (*spatial.FeatureSet, error)
}

// Database is the spatial database surface used by both stages.
type Database interface {
	WriteTable(ctx context.Context, schema, table string, fs *spatial.FeatureSet) error
	UpdateSRID(ctx context.Context, schema, table, column string, srid int) error
	FindSRID(ctx context.Context, schema, table, column string) (int, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	CreateSpatialIndex(ctx context.Context, schema, table, column string) error
}

// MapServer is the map server surface used by the Publisher.
type MapServer interface {
	WorkspaceExists(ctx context.Context, workspace string) (bool, error)
	CreateWorkspace(ctx context.Context, workspace string) error
	DatastoreExists(ctx context.Context, workspace, store string) (bool, error)
	CreatePostGISDatastore(ctx context.Context, workspace, store string, p geoserver.DatastoreParams) error
	LayerExists(ctx context.Context, workspace, layer string) (bool, error)
	PublishFeatureType(ctx context.Context, r geoserver.FeatureTypeRequest) error
	PublishCoverage(ctx context.Context, r geoserver.CoverageRequest) error
	UploadStyle(ctx context.Context, workspace, name string, sld []byte) error
	SetDefaultStyle(ctx context.Context, workspace, layer, style string) error
}

// StageFunc processes one record in place.
type StageFunc func(ctx context.Context, r *dataset.Record) StageResult

// StageResult summarizes what a stage did to a record.
type StageResult struct {
	Phase   Phase
	From    dataset.Status
	To      dataset.Status
	Skipped bool  // record was not eligible or nothing changed
	Err     error // failure that moved the record to error
	Warning error // best-effort step that failed without changing status
}

// Failed reports whether the stage moved the record to error.
func (r StageResult) Failed() bool {
	return r.Err != nil
}

// EligibleForLoad reports whether the Loader should process r.
func EligibleForLoad(r *dataset.Record) bool {
	return r.Status == dataset.StatusDBToLoad && r.SourceFormat == dataset.FormatShapefile
}

// EligibleForPublish reports whether the Publisher should process r.
// Vector records still at db_to_load are eligible pending a table existence
// check.
func EligibleForPublish(r *dataset.Record) bool {
	switch r.Status {
	case dataset.StatusDBUploaded, dataset.StatusGeoToLoad:
		return true
	case dataset.StatusDBToLoad:
		return r.CartoType == dataset.CartoVector
	}
	return false
}

// SupportedDatabase reports whether the stages can work with a database
// server of this type. An empty type means PostGIS.
func SupportedDatabase(dbType string) bool {
	switch dbType {
	case "", "postgis", "postgres", "postgresql":
		return true
	}
	return false
}

func isSupportedMapServer(msType string) bool {
	return msType == "" || msType == "geoserver"
}
