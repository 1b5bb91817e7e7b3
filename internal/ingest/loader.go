package ingest

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

// DefaultTargetSRID is the SRID tables are reconciled to when neither the
// record nor the configuration declares one (Web Mercator).
const DefaultTargetSRID = 3857

// LoaderConfig configures the database stage.
type LoaderConfig struct {
	// DBType is the bundle's database type; only PostGIS is loadable.
	DBType string

	// TargetSRID is used for records without a declared SRID.
	TargetSRID int

	// SkipIndex disables the GiST index and CLUSTER step.
	SkipIndex bool
}

// Loader writes vector datasets into the spatial database.
type Loader struct {
	reader VectorReader
	db     Database
	cfg    LoaderConfig
}

// NewLoader returns a Loader.
func NewLoader(reader VectorReader, db Database, cfg LoaderConfig) *Loader {
	if cfg.TargetSRID <= 0 {
		cfg.TargetSRID = DefaultTargetSRID
	}
	return &Loader{reader: reader, db: db, cfg: cfg}
}

// Load runs write, SRID reconciliation and indexing for one record.
//
// A write failure moves the record to error. An SRID reconciliation failure
// also moves it to error, since the table no longer matches the SRID the
// map server will be told about. An indexing failure is only noted.
func (l *Loader) Load(ctx context.Context, r *dataset.Record) StageResult {
	res := StageResult{Phase: PhaseLoad, From: r.Status}
	if !EligibleForLoad(r) {
		res.Skipped = true
		res.To = r.Status
		return res
	}

	ctx = logging.WithDataset(ctx, r.Identifier)
	logger := logging.WithFields(ctx, "stage", PhaseLoad, "table", r.QualifiedTable())

	if !SupportedDatabase(l.cfg.DBType) {
		err := &StageError{
			Kind:   KindConfiguration,
			Step:   "write",
			Target: r.QualifiedTable(),
			Err:    fmt.Errorf("unsupported database type %q", l.cfg.DBType),
		}
		return l.fail(ctx, r, res, "database stage skipped", err)
	}

	// Step 1: write
	fs, err := l.reader.ReadVector(ctx, r.SourcePath)
	if err != nil {
		err = &StageError{Kind: KindIO, Step: "read", Target: r.SourcePath, Err: err}
		return l.fail(ctx, r, res, "failed reading/writing source file", err)
	}
	fs.Normalize()

	native := fs.SRID
	if native <= 0 && r.NativeSRID != nil {
		// No usable .prj; trust the SRID declared in the catalog.
		native = *r.NativeSRID
		fs.SRID = native
	}

	if err := l.db.WriteTable(ctx, r.DBSchema, r.DBTable, fs); err != nil {
		err = &StageError{Kind: KindDatabase, Step: "write", Target: r.QualifiedTable(), Err: err}
		return l.fail(ctx, r, res, "failed reading/writing source file", err)
	}
	r.SetNativeSRID(native)
	if err := r.Transition(dataset.StatusDBUploaded,
		fmt.Sprintf("table %s written: %d features, native srid %d", r.QualifiedTable(), len(fs.Features), native)); err != nil {
		res.Err = err
		res.To = r.Status
		return res
	}
	logger.Info("table written", "features", len(fs.Features), "native_srid", native)

	// Step 2: SRID reconciliation
	target := r.DeclaredSRID
	if target <= 0 {
		target = l.cfg.TargetSRID
	}
	if native != target {
		if err := l.db.UpdateSRID(ctx, r.DBSchema, r.DBTable, spatial.GeometryColumn, target); err != nil {
			err = &StageError{Kind: KindDatabase, Step: "srid", Target: r.QualifiedTable(), Err: err}
			return l.fail(ctx, r, res, fmt.Sprintf("failed updating srid %d -> %d", native, target), err)
		}
		r.SetNativeSRID(target)
		r.Note(fmt.Sprintf("srid updated %d -> %d", native, target))
		logger.Debug("srid updated", "from", native, "to", target)
	}

	// Step 3: indexing, best effort
	if !l.cfg.SkipIndex {
		if err := l.db.CreateSpatialIndex(ctx, r.DBSchema, r.DBTable, spatial.GeometryColumn); err != nil {
			err = &StageError{Kind: KindDatabase, Step: "index", Target: r.QualifiedTable(), Err: err}
			res.Warning = err
			r.Note(FormatDiagnostic("spatial index not created", err))
			logger.Warn("spatial index failed", "error", err)
		} else {
			r.Note("spatial index created and table clustered")
		}
	}

	res.To = r.Status
	return res
}

func (l *Loader) fail(ctx context.Context, r *dataset.Record, res StageResult, summary string, err error) StageResult {
	r.Fail(FormatDiagnostic(summary, err))
	logging.FromContext(ctx).Error(summary,
		"stage", PhaseLoad,
		"table", r.QualifiedTable(),
		"error", err,
		"code", MapError(err).Code,
	)
	res.Err = err
	res.To = r.Status
	return res
}
