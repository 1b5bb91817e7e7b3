package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopostgis/internal/catalog"
	"github.com/JonMunkholm/geopostgis/internal/config"
	"github.com/JonMunkholm/geopostgis/internal/ingest"
	"github.com/JonMunkholm/geopostgis/internal/logging"
	"github.com/JonMunkholm/geopostgis/internal/objectstore"
	"github.com/JonMunkholm/geopostgis/internal/postgis"
	"github.com/JonMunkholm/geopostgis/internal/spatial"
	"github.com/JonMunkholm/geopostgis/internal/web"
)

// ErrBundlesFailed is returned when at least one bundle could not be run.
var ErrBundlesFailed = errors.New("one or more bundles failed")

type runFlags struct {
	stage      string
	workers    int
	sequential bool
	reportDir  string
	serve      string
}

func newRunCommand(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load and publish the datasets of every active bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(f.stage)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				a.cfg.Run.Workers = f.workers
			}
			if f.reportDir != "" {
				a.cfg.Run.ReportDir = f.reportDir
			}
			if f.serve != "" {
				a.cfg.Server.Addr = f.serve
			}
			return a.run(cmd.Context(), stage, f.sequential)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.stage, "stage", string(stageAll), "phases to run: all, db or map")
	flags.IntVar(&f.workers, "workers", 0, "parallel workers (default: $GEOPOSTGIS_WORKERS or CPU count minus one)")
	flags.BoolVar(&f.sequential, "sequential", false, "process datasets one at a time in catalog order")
	flags.StringVar(&f.reportDir, "report-dir", "", "directory for run reports (default: $GEOPOSTGIS_REPORT_DIR)")
	flags.StringVar(&f.serve, "serve", "", "serve run status on this address while running (default: $STATUS_ADDR)")
	return cmd
}

// run processes the selected bundles one after the other.
func (a *app) run(ctx context.Context, stage stageSelection, sequential bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bf, bundles, err := a.loadBundles()
	if err != nil {
		return err
	}

	var objects *objectstore.Client
	if bf.ObjectStore.Enabled() {
		if objects, err = objectstore.New(bf.ObjectStore); err != nil {
			return err
		}
	}

	tracker := ingest.NewTracker()
	limiter := ingest.NewWorkerLimiter(a.cfg.Run.Workers)

	if a.cfg.Server.Addr != "" {
		srv := web.NewServer(tracker, limiter, a.cfg.Server)
		go func() {
			if err := srv.Start(a.cfg.Server.Addr); err != nil {
				logging.FromContext(ctx).Error("status server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout+time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.FromContext(ctx).Warn("status server shutdown", "error", err)
			}
		}()
	}

	var failed int
	for _, b := range bundles {
		if ctx.Err() != nil {
			logging.FromContext(ctx).Warn("interrupted, remaining bundles skipped", "bundle", b.Name)
			break
		}
		br := bundleRun{
			app:     a,
			bundle:  b,
			objects: objects,
			report:  bf.ObjectStore.ReportBucket != "",
			tracker: tracker,
			limiter: limiter,
			stage:   stage,
			seq:     sequential,
		}
		if err := br.execute(ctx); err != nil {
			failed++
			logging.FromContext(ctx).Error("bundle failed", "bundle", b.Name, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrBundlesFailed, failed, len(bundles))
	}
	return ctx.Err()
}

// bundleRun is one bundle's pass through the pipeline.
type bundleRun struct {
	app     *app
	bundle  config.Bundle
	objects *objectstore.Client
	report  bool
	tracker *ingest.Tracker
	limiter *ingest.WorkerLimiter
	stage   stageSelection
	seq     bool

	// mapServer replaces the bundle's GeoServer client when set.
	mapServer ingest.MapServer
}

// bundleDB is what a bundle's stages and table catalogs need from its
// database server.
type bundleDB interface {
	ingest.Database
	catalog.CatalogReader
}

func (br bundleRun) execute(ctx context.Context) error {
	cfg := br.app.cfg
	b := br.bundle
	logger := logging.WithFields(ctx, "bundle", b.Name)

	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	// Without a usable database the bundle still runs: the loader fails
	// each dataset with a configuration error and rasters can be published.
	var db bundleDB
	if ingest.SupportedDatabase(b.Database.Type) {
		pool, err := openPool(ctx, b, cfg.Database, br.limiter.Workers())
		if err != nil {
			return err
		}
		defer pool.Close()
		db = postgis.NewStore(pool, cfg.Database.BatchSize)
	} else {
		logger.Error("database type not supported, datasets needing the database will fail", "type", b.Database.Type)
	}

	var objects catalog.ObjectGetter
	if br.objects != nil {
		objects = br.objects
	}
	src, err := catalogSource(b, db, objects)
	if err != nil {
		return err
	}
	rows, err := src.Rows(ctx)
	if err != nil {
		return fmt.Errorf("bundle %s: read catalog: %w", b.Name, err)
	}
	records, err := catalog.NewBuilder(builderOptions(b)).Build(ctx, rows)
	if err != nil {
		return fmt.Errorf("bundle %s: build catalog: %w", b.Name, err)
	}

	loader := ingest.NewLoader(spatial.ShapefileReader{}, db, ingest.LoaderConfig{
		DBType:     b.Database.Type,
		TargetSRID: b.GeoServer.DeclaredSRID,
		SkipIndex:  cfg.Database.SkipIndex,
	})
	ms := br.mapServer
	if ms == nil && b.GeoServer.URL != "" {
		ms = geoServerClient(b, cfg.GeoServer)
	}
	var publish ingest.StageFunc
	if ms != nil {
		publish = ingest.NewPublisher(ms, db, publisherConfig(b)).Publish
	}

	orch := ingest.NewOrchestrator(loader.Load, publish, ingest.OrchestratorConfig{
		Limiter:      br.limiter,
		Observer:     br.tracker,
		DrainTimeout: cfg.Run.ShutdownTimeout,
	})
	rep := orch.Run(ctx, b.Name, records, runOptions(b, br.stage, br.seq))

	path, err := writeReport(rep, cfg.Run.ReportDir)
	if err != nil {
		return fmt.Errorf("bundle %s: %w", b.Name, err)
	}
	logger.Info("report written", "path", path)

	if br.report && br.objects != nil {
		// The run context may already be cancelled; the report is still wanted.
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		key, err := uploadReport(uploadCtx, br.objects, path)
		if err != nil {
			return fmt.Errorf("bundle %s: upload report: %w", b.Name, err)
		}
		logger.Info("report uploaded", "key", key)
	}
	return nil
}

// writeReport writes rep as CSV into dir and returns the file path.
func writeReport(rep *ingest.Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	path := filepath.Join(dir, rep.FileName())
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// reportUploader stores a report in the configured bucket.
type reportUploader interface {
	UploadReport(ctx context.Context, name string, data []byte) (string, error)
}

func uploadReport(ctx context.Context, u reportUploader, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return u.UploadReport(ctx, filepath.Base(path), data)
}
