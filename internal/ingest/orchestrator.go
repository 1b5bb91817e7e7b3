package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
	"github.com/JonMunkholm/geopostgis/internal/logging"
)

// Options selects what a run does.
type Options struct {
	LoadToDB  bool
	LoadToMap bool

	// Parallel runs each phase on the worker pool; otherwise records are
	// processed one at a time in catalog order.
	Parallel bool
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// Workers bounds parallel phases. Non-positive uses DefaultWorkers.
	Workers int

	// Limiter, when set, replaces the pool sized by Workers so that
	// consecutive runs share one bound.
	Limiter *WorkerLimiter

	// Observer receives progress events. Optional.
	Observer Observer

	// DrainTimeout is how long stage calls already in flight keep their
	// context after the run context is cancelled. Zero cancels them at once.
	DrainTimeout time.Duration
}

// Orchestrator runs the load phase to completion and then the publish phase
// over a bundle's records.
type Orchestrator struct {
	load    StageFunc
	publish StageFunc
	limiter *WorkerLimiter
	obs     Observer
	drain   time.Duration
	now     func() time.Time
}

// NewOrchestrator returns an Orchestrator. A nil stage disables its phase.
func NewOrchestrator(load, publish StageFunc, cfg OrchestratorConfig) *Orchestrator {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewWorkerLimiter(cfg.Workers)
	}
	return &Orchestrator{
		load:    load,
		publish: publish,
		limiter: limiter,
		obs:     cfg.Observer,
		drain:   cfg.DrainTimeout,
		now:     time.Now,
	}
}

// Run processes records in place and returns the run report.
//
// Cancelling ctx stops dispatching new records; records already started run
// until their stage returns. The report always reflects the records' final
// statuses.
func (o *Orchestrator) Run(ctx context.Context, bundle string, records []*dataset.Record, opts Options) *Report {
	runID := uuid.New()
	started := o.now()
	ctx = logging.WithRun(ctx, runID.String(), bundle)
	logger := logging.FromContext(ctx)

	if o.obs != nil {
		o.obs.RunStarted(runID, bundle, len(records))
	}
	logger.Info("run started",
		"datasets", len(records),
		"load_to_db", opts.LoadToDB,
		"load_to_map", opts.LoadToMap,
		"parallel", opts.Parallel,
		"workers", o.limiter.Workers(),
	)

	if opts.LoadToDB && o.load != nil {
		o.runPhase(ctx, runID, PhaseLoad, o.load, filter(records, EligibleForLoad), opts.Parallel)
	}
	if opts.LoadToMap && o.publish != nil && ctx.Err() == nil {
		o.runPhase(ctx, runID, PhasePublish, o.publish, filter(records, EligibleForPublish), opts.Parallel)
	}

	rep := NewReport(runID, bundle, started, o.now(), records)
	if err := ctx.Err(); err != nil {
		logger.Warn("run interrupted", "error", err)
	}
	logger.Info(rep.Summary(),
		"db_records", rep.DBRecords,
		"geo_records", rep.GeoRecords,
		"error_records", rep.ErrorRecords,
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
	)
	if o.obs != nil {
		o.obs.RunFinished(runID, rep)
	}
	return rep
}

func (o *Orchestrator) runPhase(ctx context.Context, runID uuid.UUID, phase Phase, stage StageFunc, records []*dataset.Record, parallel bool) {
	logger := logging.WithFields(ctx, "phase", phase)
	if o.obs != nil {
		o.obs.PhaseStarted(runID, phase, len(records))
	}
	logger.Info("phase started", "eligible", len(records))
	if len(records) == 0 {
		return
	}

	workCtx, stopWork := o.workContext(ctx)
	defer stopWork()

	if !parallel {
		for _, r := range records {
			if ctx.Err() != nil {
				break
			}
			o.runOne(workCtx, runID, stage, r)
		}
		logger.Info("phase finished")
		return
	}

	// Workers report failures through the record, never through the group,
	// so one failing dataset does not cancel its siblings.
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range records {
		if err := o.limiter.Acquire(gctx); err != nil {
			break
		}
		r := r
		g.Go(func() error {
			defer o.limiter.Release()
			o.runOne(workCtx, runID, stage, r)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("phase finished", "completed", o.limiter.Status().Completed)
}

func (o *Orchestrator) runOne(ctx context.Context, runID uuid.UUID, stage StageFunc, r *dataset.Record) {
	res := stage(ctx, r)
	if o.obs != nil {
		o.obs.RecordDone(runID, r, res)
	}
	if !res.Skipped || res.Failed() {
		logging.WithFields(logging.WithDataset(ctx, r.Identifier),
			"phase", res.Phase, "from", res.From, "to", res.To,
		).Debug("dataset processed")
	}
}

// workContext returns the context stage calls run with. Dispatch stops as
// soon as ctx is done; the returned context follows DrainTimeout later.
func (o *Orchestrator) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.drain <= 0 {
		return ctx, func() {}
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(o.drain)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-wctx.Done():
		}
	})
	return wctx, func() {
		stop()
		cancel()
	}
}

// WaitForDrain blocks until no stage call is in flight or ctx is done.
func (o *Orchestrator) WaitForDrain(ctx context.Context) error {
	return o.limiter.WaitForDrain(ctx)
}

// LimiterStatus returns the worker pool state.
func (o *Orchestrator) LimiterStatus() LimiterStatus {
	return o.limiter.Status()
}

func filter(records []*dataset.Record, keep func(*dataset.Record) bool) []*dataset.Record {
	out := make([]*dataset.Record, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
