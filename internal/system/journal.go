package system

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/persist"
)

// JournalStore persists run records. persist.RunRepo is the production
// implementation.
type JournalStore interface {
	StartRun(ctx context.Context, run persist.RunRow) error
	RecordStage(ctx context.Context, s persist.StageRow) error
	RecordSample(ctx context.Context, s persist.SampleRow) error
	FinishRun(ctx context.Context, final persist.SampleRow) error
}

// RunInfo describes the run being journaled.
type RunInfo struct {
	TickRate  uint32
	FrameRate uint32
	Modules   []string
}

const journalTimeout = 5 * time.Second

// Journal records one row per engine run, every lifecycle stage it passes
// through and periodic frame counter samples. Writes happen on the update
// context with a bounded timeout; failures after the run started are logged
// and do not stop the engine.
//
// Load and the deinit stages never arrive as StageChanged events (Load has
// no predecessor, deinit runs after both loops halted), so the journal
// writes those rows itself from its module entry.
type Journal struct {
	eng      *engine.Engine
	store    JournalStore
	stats    *FrameStats
	interval time.Duration
	info     RunInfo
	log      *zap.Logger
	now      func() time.Time
	hostname func() (string, error)

	runID      uuid.UUID
	lastSample time.Time
	stageID    registry.ID
	sampleID   registry.ID
}

func NewJournal(eng *engine.Engine, store JournalStore, stats *FrameStats, interval time.Duration, info RunInfo, log *zap.Logger) *Journal {
	return &Journal{
		eng:      eng,
		store:    store,
		stats:    stats,
		interval: interval,
		info:     info,
		log:      log.Named("journal"),
		now:      time.Now,
		hostname: os.Hostname,
	}
}

func (j *Journal) Module() module.Registration {
	return module.Registration{
		ID:        "journal",
		DependsOn: []string{StatsModuleID},
		Entry:     j.entry,
	}
}

// RunID returns the id of the current run, or uuid.Nil before PostInit.
func (j *Journal) RunID() uuid.UUID { return j.runID }

func (j *Journal) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.PostInit:
		return j.start()
	case lifecycle.PreDeinit:
		j.halt()
	case lifecycle.Deinit:
		if j.runID != uuid.Nil {
			j.recordStage(lifecycle.Deinit)
		}
	case lifecycle.PostDeinit:
		return j.finish()
	}
	return nil
}

func (j *Journal) start() error {
	host, err := j.hostname()
	if err != nil {
		j.log.Warn("hostname unavailable, run host left empty", zap.Error(err))
	}
	run := persist.RunRow{
		ID:        uuid.New(),
		StartedAt: j.now(),
		Host:      host,
		TickRate:  j.info.TickRate,
		FrameRate: j.info.FrameRate,
		Modules:   j.info.Modules,
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := j.store.StartRun(ctx, run); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	j.runID = run.ID
	j.lastSample = run.StartedAt
	j.log.Info("run started", zap.Stringer("run", run.ID))
	j.recordStage(lifecycle.Load)

	// Stage changes queued before this point are still dispatched on the
	// first update iteration.
	j.stageID = engine.RegisterEventHandler(j.eng, j.onStage, engine.TargetUpdate, registry.OrderingStandard)
	j.sampleID = j.eng.RegisterUpdateCallback(j.Update, registry.OrderingLate)
	return nil
}

func (j *Journal) onStage(ev lifecycle.StageChanged) {
	j.recordStage(ev.To)
}

func (j *Journal) recordStage(stage lifecycle.Stage) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	row := persist.StageRow{RunID: j.runID, Stage: stage.String(), At: j.now()}
	if err := j.store.RecordStage(ctx, row); err != nil {
		j.log.Error("record stage failed", zap.Stringer("stage", stage), zap.Error(err))
	}
}

// Update writes a sample once per interval.
func (j *Journal) Update(_ time.Duration) {
	now := j.now()
	if now.Sub(j.lastSample) < j.interval {
		return
	}
	j.lastSample = now

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := j.store.RecordSample(ctx, j.sample(now)); err != nil {
		j.log.Error("record sample failed", zap.Error(err))
	}
}

func (j *Journal) sample(at time.Time) persist.SampleRow {
	st := j.stats.Snapshot()
	return persist.SampleRow{
		RunID:        j.runID,
		At:           at,
		UpdateFrames: st.Update.Frames,
		RenderFrames: st.Render.Frames,
		UpdateAvg:    st.Update.Avg,
		RenderAvg:    st.Render.Avg,
	}
}

// halt detaches from both loops, which have already stopped.
func (j *Journal) halt() {
	if j.runID == uuid.Nil {
		return
	}
	j.eng.UnregisterUpdateCallback(j.sampleID)
	j.eng.UnregisterEventHandler(j.stageID, engine.TargetUpdate)
	j.recordStage(lifecycle.PreDeinit)
}

// finish closes the run with a final sample at PostDeinit.
func (j *Journal) finish() error {
	if j.runID == uuid.Nil {
		return nil
	}
	j.recordStage(lifecycle.PostDeinit)

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	final := j.sample(j.now())
	if err := j.store.FinishRun(ctx, final); err != nil {
		return fmt.Errorf("finish run %s: %w", j.runID, err)
	}
	j.log.Info("run finished",
		zap.Stringer("run", j.runID),
		zap.Uint64("update_frames", final.UpdateFrames),
		zap.Uint64("render_frames", final.RenderFrames),
	)
	return nil
}
