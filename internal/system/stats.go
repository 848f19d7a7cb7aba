package system

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
)

const StatsModuleID = "stats"

// smoothing is the weight of the newest delta in the moving average.
const smoothing = 0.1

// ContextStats describes one execution context.
type ContextStats struct {
	Frames uint64
	Last   time.Duration
	Avg    time.Duration
}

// Rate returns iterations per second derived from the moving average.
func (c ContextStats) Rate() float64 {
	if c.Avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.Avg)
}

type Stats struct {
	Update ContextStats
	Render ContextStats
}

// counter is written by a single context and read from anywhere.
type counter struct {
	frames atomic.Uint64
	last   atomic.Int64
	avg    atomic.Int64
}

func (c *counter) observe(dt time.Duration) {
	n := c.frames.Add(1)
	c.last.Store(int64(dt))
	if n == 1 {
		c.avg.Store(int64(dt))
		return
	}
	prev := float64(c.avg.Load())
	c.avg.Store(int64(prev + smoothing*(float64(dt)-prev)))
}

func (c *counter) snapshot() ContextStats {
	return ContextStats{
		Frames: c.frames.Load(),
		Last:   time.Duration(c.last.Load()),
		Avg:    time.Duration(c.avg.Load()),
	}
}

// FrameStats counts iterations and deltas of both contexts. It runs first in
// each iteration so the numbers cover the whole frame.
type FrameStats struct {
	eng    *engine.Engine
	update counter
	render counter
	ids    [2]registry.ID
}

func NewFrameStats(eng *engine.Engine) *FrameStats {
	return &FrameStats{eng: eng}
}

func (s *FrameStats) Module() module.Registration {
	return module.Registration{ID: StatsModuleID, Entry: s.entry}
}

func (s *FrameStats) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		s.ids[0] = s.eng.RegisterUpdateCallback(s.update.observe, registry.OrderingFirst)
		s.ids[1] = s.eng.RegisterRenderCallback(s.render.observe, registry.OrderingFirst)
	case lifecycle.PreDeinit:
		s.eng.UnregisterUpdateCallback(s.ids[0])
		s.eng.UnregisterRenderCallback(s.ids[1])
	}
	return nil
}

func (s *FrameStats) Snapshot() Stats {
	return Stats{Update: s.update.snapshot(), Render: s.render.snapshot()}
}

// StatusLine formats the snapshot for the HUD.
func (s *FrameStats) StatusLine() string {
	st := s.Snapshot()
	return fmt.Sprintf(" update %6.1f/s  render %6.1f/s  frames %d/%d  [q] quit ",
		st.Update.Rate(), st.Render.Rate(), st.Update.Frames, st.Render.Frames)
}
