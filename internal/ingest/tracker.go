package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/geopostgis/internal/dataset"
)

// Observer receives progress events from an Orchestrator. Calls for the same
// run may arrive from several worker goroutines at once.
type Observer interface {
	RunStarted(runID uuid.UUID, bundle string, total int)
	PhaseStarted(runID uuid.UUID, phase Phase, eligible int)
	RecordDone(runID uuid.UUID, r *dataset.Record, res StageResult)
	RunFinished(runID uuid.UUID, rep *Report)
}

// RunState is the externally visible state of one run.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
)

// RunProgress is a snapshot of a tracked run.
type RunProgress struct {
	RunID      uuid.UUID `json:"run_id"`
	Bundle     string    `json:"bundle"`
	State      RunState  `json:"state"`
	Phase      Phase     `json:"phase,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Total     int `json:"total"`
	Eligible  int `json:"eligible"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Warnings  int `json:"warnings"`
}

type trackedRun struct {
	progress RunProgress
	report   *Report
}

// Tracker keeps progress and reports of runs in memory for the status server.
type Tracker struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*trackedRun
	now  func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[uuid.UUID]*trackedRun), now: time.Now}
}

func (t *Tracker) RunStarted(runID uuid.UUID, bundle string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &trackedRun{progress: RunProgress{
		RunID:     runID,
		Bundle:    bundle,
		State:     RunStateRunning,
		StartedAt: t.now(),
		Total:     total,
	}}
}

func (t *Tracker) PhaseStarted(runID uuid.UUID, phase Phase, eligible int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.runs[runID]; ok {
		run.progress.Phase = phase
		run.progress.Eligible = eligible
		run.progress.Processed = 0
	}
}

func (t *Tracker) RecordDone(runID uuid.UUID, _ *dataset.Record, res StageResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return
	}
	run.progress.Processed++
	if res.Failed() {
		run.progress.Failed++
	}
	if res.Warning != nil {
		run.progress.Warnings++
	}
}

func (t *Tracker) RunFinished(runID uuid.UUID, rep *Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		run = &trackedRun{progress: RunProgress{RunID: runID, Bundle: rep.Bundle, StartedAt: rep.StartedAt, Total: rep.Total}}
		t.runs[runID] = run
	}
	run.progress.State = RunStateFinished
	run.progress.FinishedAt = rep.FinishedAt
	run.report = rep
}

// Runs returns every tracked run, most recent first.
func (t *Tracker) Runs() []RunProgress {
	t.mu.RLock()
	out := make([]RunProgress, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, run.progress)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Run returns the progress of one run.
func (t *Tracker) Run(runID uuid.UUID) (RunProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return RunProgress{}, false
	}
	return run.progress, true
}

// Report returns the report of a finished run. ok is false while the run is
// still in progress or unknown.
func (t *Tracker) Report(runID uuid.UUID) (*Report, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok || run.report == nil {
		return nil, false
	}
	return run.report, true
}
