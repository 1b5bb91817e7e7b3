package ingest

import (
	"context"
	"sync"

	"github.com/paulmach/orb"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/geoserver"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
)

type fakeReader struct {
	fs  *spatial.FeatureSet
	err error
}

func (f *fakeReader) ReadVector(ctx context.Context, path string) (*spatial.FeatureSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.fs != nil {
		return f.fs, nil
	}
	return &spatial.FeatureSet{
		Columns:  []spatial.Column{{Name: "name", SourceName: "NAME", Type: spatial.ColumnText}},
		Features: []spatial.Feature{{Geometry: orb.Point{1, 2}, Values: []any{"a"}}},
		SRID:     25830,
	}, nil
}

type fakeDB struct {
	mu sync.Mutex

	writeErr  error
	sridErr   error
	indexErr  error
	existsErr error
	findErr   error

	tables   map[string]bool
	srids    map[string]int
	writes   []string
	updates  []int
	indexed  []string
	findSRID int
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string]bool), srids: make(map[string]int)}
}

func (f *fakeDB) WriteTable(ctx context.Context, schema, table string, fs *spatial.FeatureSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, schema+"."+table)
	f.tables[schema+"."+table] = true
	f.srids[schema+"."+table] = fs.SRID
	return nil
}

func (f *fakeDB) UpdateSRID(ctx context.Context, schema, table, column string, srid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sridErr != nil {
		return f.sridErr
	}
	f.updates = append(f.updates, srid)
	f.srids[schema+"."+table] = srid
	return nil
}

func (f *fakeDB) FindSRID(ctx context.Context, schema, table, column string) (int, error) {
	if f.findErr != nil {
		return 0, f.findErr
	}
	return f.findSRID, nil
}

func (f *fakeDB) TableExists(ctx context.Context, schema, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.tables[schema+"."+table], nil
}

func (f *fakeDB) CreateSpatialIndex(ctx context.Context, schema, table, column string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, schema+"."+table)
	return nil
}

type fakeMapServer struct {
	mu sync.Mutex

	workspaces map[string]bool
	stores     map[string]bool
	layers     map[string]bool

	workspaceChecks int
	workspaceErr    error
	featureErr      error
	styleErr        error

	featureTypes []geoserver.FeatureTypeRequest
	coverages    []geoserver.CoverageRequest
	styles       []string
}

func newFakeMapServer() *fakeMapServer {
	return &fakeMapServer{
		workspaces: make(map[string]bool),
		stores:     make(map[string]bool),
		layers:     make(map[string]bool),
	}
}

func (f *fakeMapServer) WorkspaceExists(ctx context.Context, ws string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaceChecks++
	if f.workspaceErr != nil {
		return false, f.workspaceErr
	}
	return f.workspaces[ws], nil
}

func (f *fakeMapServer) CreateWorkspace(ctx context.Context, ws string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[ws] = true
	return nil
}

func (f *fakeMapServer) DatastoreExists(ctx context.Context, ws, store string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[ws+"/"+store], nil
}

func (f *fakeMapServer) CreatePostGISDatastore(ctx context.Context, ws, store string, p geoserver.DatastoreParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[ws+"/"+store] = true
	return nil
}

func (f *fakeMapServer) LayerExists(ctx context.Context, ws, layer string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layers[ws+":"+layer], nil
}

func (f *fakeMapServer) PublishFeatureType(ctx context.Context, r geoserver.FeatureTypeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.featureErr != nil {
		return f.featureErr
	}
	f.featureTypes = append(f.featureTypes, r)
	f.layers[r.Workspace+":"+r.Name] = true
	return nil
}

func (f *fakeMapServer) PublishCoverage(ctx context.Context, r geoserver.CoverageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverages = append(f.coverages, r)
	f.layers[r.Workspace+":"+r.Name] = true
	return nil
}

func (f *fakeMapServer) UploadStyle(ctx context.Context, ws, name string, sld []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.styleErr != nil {
		return f.styleErr
	}
	f.styles = append(f.styles, ws+":"+name)
	return nil
}

func (f *fakeMapServer) SetDefaultStyle(ctx context.Context, ws, layer, style string) error {
	return nil
}

func vectorRecord(id string) *dataset.Record {
	r := dataset.New(id, dataset.StatusDBToLoad, "catalog entry created")
	r.Name = id
	r.SourcePath = "/data/" + id + "/layer.shp"
	r.SourceFormat = dataset.FormatShapefile
	r.CartoType = dataset.CartoVector
	r.DBSchema = "public"
	r.DBTable = dataset.TableName(id)
	r.DeclaredSRID = 25830
	return r
}
