package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/geoserver"
	"github.com/JonMunkholm/geopostgis/internal/ingest"
)

// fakeMapServer accepts everything and records published coverages.
type fakeMapServer struct {
	mu        sync.Mutex
	coverages []string
}

func (f *fakeMapServer) WorkspaceExists(ctx context.Context, ws string) (bool, error) {
	return true, nil
}

func (f *fakeMapServer) CreateWorkspace(ctx context.Context, ws string) error { return nil }

func (f *fakeMapServer) DatastoreExists(ctx context.Context, ws, store string) (bool, error) {
	return true, nil
}

func (f *fakeMapServer) CreatePostGISDatastore(ctx context.Context, ws, store string, p geoserver.DatastoreParams) error {
	return nil
}

func (f *fakeMapServer) LayerExists(ctx context.Context, ws, layer string) (bool, error) {
	return false, nil
}

func (f *fakeMapServer) PublishFeatureType(ctx context.Context, r geoserver.FeatureTypeRequest) error {
	return nil
}

func (f *fakeMapServer) PublishCoverage(ctx context.Context, r geoserver.CoverageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverages = append(f.coverages, r.Workspace+":"+r.Name)
	return nil
}

func (f *fakeMapServer) UploadStyle(ctx context.Context, ws, name string, sld []byte) error {
	return nil
}

func (f *fakeMapServer) SetDefaultStyle(ctx context.Context, ws, layer, style string) error {
	return nil
}

func mkdirWith(t *testing.T, dir string, names ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestBundleRun_UnsupportedDatabaseType(t *testing.T) {
	dir := t.TempDir()
	rios := mkdirWith(t, filepath.Join(dir, "rios"), "rios.shp", "rios.shx", "rios.dbf")
	mdt := mkdirWith(t, filepath.Join(dir, "mdt"), "mdt.tif")

	csvPath := filepath.Join(dir, "catalog.csv")
	csv := "identifier;path\nES-RIOS;" + rios + "\nES-MDT;" + mdt + "\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	reportDir := filepath.Join(dir, "reports")
	ms := &fakeMapServer{}
	tracker := ingest.NewTracker()
	br := bundleRun{
		app: &app{cfg: &config.Config{Run: config.RunConfig{ReportDir: reportDir}}},
		bundle: config.Bundle{
			Name:      "norte",
			Database:  config.DatabaseServer{Type: "sql-server", Host: "db.invalid", DBName: "gis"},
			GeoServer: config.MapServer{Workspace: "norte"},
			Catalog:   config.CatalogSource{Path: csvPath, Delimiter: ";"},
			Options:   config.BundleOptions{RasterDirectToMap: boolPtr(true)},
		},
		tracker:   tracker,
		limiter:   ingest.NewWorkerLimiter(2),
		stage:     stageAll,
		mapServer: ms,
	}

	if err := br.execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	runs := tracker.Runs()
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	rep, ok := tracker.Report(runs[0].RunID)
	if !ok {
		t.Fatal("no report for the run")
	}
	byID := make(map[string]dataset.Record)
	for _, r := range rep.Records {
		byID[r.Identifier] = r
	}

	vector := byID["ES-RIOS"]
	if vector.Status != dataset.StatusError {
		t.Errorf("vector status = %s, want error", vector.Status)
	}
	if !strings.Contains(vector.LastNote(), "[CFG001]") {
		t.Errorf("vector note = %q, want CFG001", vector.LastNote())
	}

	raster := byID["ES-MDT"]
	if raster.Status != dataset.StatusMapPublished {
		t.Errorf("raster status = %s, want map_published (%s)", raster.Status, raster.LastNote())
	}
	if len(ms.coverages) != 1 || ms.coverages[0] != "norte:es_mdt" {
		t.Errorf("coverages = %v", ms.coverages)
	}

	files, err := filepath.Glob(filepath.Join(reportDir, "*.csv"))
	if err != nil || len(files) != 1 {
		t.Fatalf("report files = %v, %v", files, err)
	}
}
