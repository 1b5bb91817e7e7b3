package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/geoserver"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

// PublisherConfig configures the map publication stage.
type PublisherConfig struct {
	// MapServerType is the bundle's map server type; only GeoServer is supported.
	MapServerType string

	// DBType is the bundle's database type; layers can only be backed by PostGIS.
	DBType string

	// Workspace is used for records without their own workspace.
	Workspace string

	// Datastore is the name of the PostGIS store layers are published from.
	Datastore string

	// DatastoreParams are the connection settings for a newly created store.
	DatastoreParams geoserver.DatastoreParams

	// DeclaredSRID is used for records without a declared SRID.
	DeclaredSRID int

	// ReadFile loads SLD files. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Publisher publishes loaded datasets as map server layers.
//
// Workspace and datastore reconciliation happens once per key for the
// lifetime of a Publisher; create one Publisher per run.
type Publisher struct {
	ms  MapServer
	db  Database
	cfg PublisherConfig

	group   singleflight.Group
	mu      sync.Mutex
	ensured map[string]error
}

// NewPublisher returns a Publisher.
func NewPublisher(ms MapServer, db Database, cfg PublisherConfig) *Publisher {
	if cfg.DeclaredSRID <= 0 {
		cfg.DeclaredSRID = DefaultTargetSRID
	}
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}
	return &Publisher{ms: ms, db: db, cfg: cfg, ensured: make(map[string]error)}
}

// Publish creates the record's layer if it does not exist yet.
func (p *Publisher) Publish(ctx context.Context, r *dataset.Record) StageResult {
	res := StageResult{Phase: PhasePublish, From: r.Status}
	if !EligibleForPublish(r) {
		res.Skipped = true
		res.To = r.Status
		return res
	}

	ctx = logging.WithDataset(ctx, r.Identifier)

	if !isSupportedMapServer(p.cfg.MapServerType) {
		err := &StageError{
			Kind: KindConfiguration,
			Step: "layer",
			Err:  fmt.Errorf("map server type %q: %w", p.cfg.MapServerType, ErrUnsupported),
		}
		return p.fail(ctx, r, res, "map publication skipped", err)
	}

	ws := r.MapWorkspace
	if ws == "" {
		ws = p.cfg.Workspace
		r.MapWorkspace = ws
	}
	if ws == "" {
		err := &StageError{Kind: KindConfiguration, Step: "workspace", Err: errors.New("no workspace configured")}
		return p.fail(ctx, r, res, "map publication skipped", err)
	}
	if r.MapLayer == "" {
		r.MapLayer = dataset.LayerName(r.DBTable)
	}

	if err := p.ensureWorkspace(ctx, ws); err != nil {
		return p.fail(ctx, r, res, "failed creating workspace "+ws, err)
	}

	if r.CartoType == dataset.CartoRaster {
		return p.publishRaster(ctx, r, res, ws)
	}
	return p.publishVector(ctx, r, res, ws)
}

func (p *Publisher) publishVector(ctx context.Context, r *dataset.Record, res StageResult, ws string) StageResult {
	target := ws + ":" + r.MapLayer

	if !SupportedDatabase(p.cfg.DBType) {
		err := &StageError{
			Kind:   KindConfiguration,
			Step:   "layer",
			Target: target,
			Err:    fmt.Errorf("create feature type of db_type %q: %w", p.cfg.DBType, ErrUnsupported),
		}
		return p.fail(ctx, r, res, "failed publishing layer", err)
	}

	if r.Status == dataset.StatusDBToLoad {
		exists, err := p.db.TableExists(ctx, r.DBSchema, r.DBTable)
		if err != nil {
			err = &StageError{Kind: KindDatabase, Step: "table check", Target: r.QualifiedTable(), Err: err}
			return p.fail(ctx, r, res, "failed checking table", err)
		}
		if !exists {
			r.Note(fmt.Sprintf("table %s not found, waiting for database load", r.QualifiedTable()))
			res.Skipped = true
			res.To = r.Status
			return res
		}
		if err := r.Transition(dataset.StatusDBUploaded, fmt.Sprintf("table %s found in database", r.QualifiedTable())); err != nil {
			res.Err = err
			res.To = r.Status
			return res
		}
	}

	if err := p.ensureDatastore(ctx, ws); err != nil {
		return p.fail(ctx, r, res, "failed creating datastore "+p.cfg.Datastore, err)
	}

	if r.NativeSRID == nil {
		srid, err := p.db.FindSRID(ctx, r.DBSchema, r.DBTable, spatial.GeometryColumn)
		if err != nil {
			err = &StageError{Kind: KindDatabase, Step: "find srid", Target: r.QualifiedTable(), Err: err}
			return p.fail(ctx, r, res, "failed reading table srid", err)
		}
		r.SetNativeSRID(srid)
		r.Note(fmt.Sprintf("native srid %d read from database", srid))
	}

	if done, res := p.skipExistingLayer(ctx, r, res, ws); done {
		return res
	}

	err := p.ms.PublishFeatureType(ctx, geoserver.FeatureTypeRequest{
		Workspace:    ws,
		Store:        p.cfg.Datastore,
		Name:         r.MapLayer,
		NativeName:   r.DBTable,
		Title:        titleOf(r),
		Abstract:     r.Description,
		SRID:         r.NativeSRIDOr(0),
		DeclaredSRID: p.declaredSRID(r),
	})
	if err != nil {
		err = &StageError{Kind: KindPublish, Step: "layer", Target: target, Err: err}
		return p.fail(ctx, r, res, "failed publishing layer", err)
	}
	return p.published(ctx, r, res, ws)
}

func (p *Publisher) publishRaster(ctx context.Context, r *dataset.Record, res StageResult, ws string) StageResult {
	if r.SourceFormat != dataset.FormatGeoTIFF {
		err := &StageError{
			Kind:   KindConfiguration,
			Step:   "coverage",
			Target: ws + ":" + r.MapLayer,
			Err:    fmt.Errorf("create coverage of format %q: %w", r.SourceFormat, ErrUnsupported),
		}
		return p.fail(ctx, r, res, "failed publishing coverage", err)
	}

	if done, res := p.skipExistingLayer(ctx, r, res, ws); done {
		return res
	}

	err := p.ms.PublishCoverage(ctx, geoserver.CoverageRequest{
		Workspace:    ws,
		Store:        r.MapLayer,
		Name:         r.MapLayer,
		Title:        titleOf(r),
		Abstract:     r.Description,
		FilePath:     r.SourcePath,
		SRID:         r.NativeSRIDOr(0),
		DeclaredSRID: p.declaredSRID(r),
	})
	if err != nil {
		err = &StageError{Kind: KindPublish, Step: "coverage", Target: ws + ":" + r.MapLayer, Err: err}
		return p.fail(ctx, r, res, "failed publishing coverage", err)
	}
	return p.published(ctx, r, res, ws)
}

// skipExistingLayer marks the record published when its layer is already
// served. done is true when the caller must stop.
func (p *Publisher) skipExistingLayer(ctx context.Context, r *dataset.Record, res StageResult, ws string) (bool, StageResult) {
	exists, err := p.ms.LayerExists(ctx, ws, r.MapLayer)
	if err != nil {
		err = &StageError{Kind: KindPublish, Step: "layer check", Target: ws + ":" + r.MapLayer, Err: err}
		return true, p.fail(ctx, r, res, "failed checking layer", err)
	}
	if !exists {
		return false, res
	}
	if err := r.Transition(dataset.StatusMapPublished, fmt.Sprintf("layer %s:%s already exists", ws, r.MapLayer)); err != nil {
		res.Err = err
	}
	res.To = r.Status
	return true, res
}

func (p *Publisher) published(ctx context.Context, r *dataset.Record, res StageResult, ws string) StageResult {
	if err := r.Transition(dataset.StatusMapPublished, fmt.Sprintf("layer %s:%s published", ws, r.MapLayer)); err != nil {
		res.Err = err
		res.To = r.Status
		return res
	}
	logging.WithFields(ctx, "stage", PhasePublish, "layer", ws+":"+r.MapLayer).Info("layer published")

	if r.StylePath != "" {
		if err := p.applyStyle(ctx, r, ws); err != nil {
			res.Warning = err
			r.Note(FormatDiagnostic("style not applied", err))
			logging.FromContext(ctx).Warn("style not applied", "style", r.StylePath, "error", err)
		} else {
			r.Note("style " + filepath.Base(r.StylePath) + " applied")
		}
	}

	res.To = r.Status
	return res
}

func (p *Publisher) applyStyle(ctx context.Context, r *dataset.Record, ws string) error {
	sld, err := p.cfg.ReadFile(r.StylePath)
	if err != nil {
		return &StageError{Kind: KindIO, Step: "style", Target: r.StylePath, Err: err}
	}
	name := r.MapLayer
	if err := p.ms.UploadStyle(ctx, ws, name, sld); err != nil {
		return &StageError{Kind: KindPublish, Step: "style", Target: ws + ":" + name, Err: err}
	}
	if err := p.ms.SetDefaultStyle(ctx, ws, r.MapLayer, name); err != nil {
		return &StageError{Kind: KindPublish, Step: "style", Target: ws + ":" + r.MapLayer, Err: err}
	}
	return nil
}

// ensureWorkspace creates the workspace unless it exists. The outcome,
// success or failure, is reused by every later record in the run.
func (p *Publisher) ensureWorkspace(ctx context.Context, ws string) error {
	return p.ensureOnce(ctx, "workspace:"+ws, func(ctx context.Context) error {
		exists, err := p.ms.WorkspaceExists(ctx, ws)
		if err != nil {
			return &StageError{Kind: KindPublish, Step: "workspace", Target: ws, Err: err}
		}
		if exists {
			return nil
		}
		if err := p.ms.CreateWorkspace(ctx, ws); err != nil {
			return &StageError{Kind: KindPublish, Step: "workspace", Target: ws, Err: err}
		}
		logging.FromContext(ctx).Info("workspace created", "workspace", ws)
		return nil
	})
}

// ensureDatastore creates the PostGIS datastore in ws unless it exists.
func (p *Publisher) ensureDatastore(ctx context.Context, ws string) error {
	store := p.cfg.Datastore
	return p.ensureOnce(ctx, "datastore:"+ws+"/"+store, func(ctx context.Context) error {
		exists, err := p.ms.DatastoreExists(ctx, ws, store)
		if err != nil {
			return &StageError{Kind: KindPublish, Step: "datastore", Target: ws + ":" + store, Err: err}
		}
		if exists {
			return nil
		}
		if err := p.ms.CreatePostGISDatastore(ctx, ws, store, p.cfg.DatastoreParams); err != nil {
			return &StageError{Kind: KindPublish, Step: "datastore", Target: ws + ":" + store, Err: err}
		}
		logging.FromContext(ctx).Info("datastore created", "workspace", ws, "datastore", store)
		return nil
	})
}

func (p *Publisher) ensureOnce(ctx context.Context, key string, fn func(context.Context) error) error {
	p.mu.Lock()
	if err, ok := p.ensured[key]; ok {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	_, err, _ := p.group.Do(key, func() (any, error) {
		err := fn(ctx)
		// Results of cancelled callers are not memoized.
		if ctx.Err() == nil {
			p.mu.Lock()
			p.ensured[key] = err
			p.mu.Unlock()
		}
		return nil, err
	})
	return err
}

func (p *Publisher) declaredSRID(r *dataset.Record) int {
	if r.DeclaredSRID > 0 {
		return r.DeclaredSRID
	}
	return p.cfg.DeclaredSRID
}

func (p *Publisher) fail(ctx context.Context, r *dataset.Record, res StageResult, summary string, err error) StageResult {
	r.Fail(FormatDiagnostic(summary, err))
	logging.FromContext(ctx).Error(summary,
		"stage", PhasePublish,
		"layer", r.MapWorkspace+":"+r.MapLayer,
		"error", err,
		"code", MapError(err).Code,
	)
	res.Err = err
	res.To = r.Status
	return res
}

func titleOf(r *dataset.Record) string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.Identifier
}
