package lifecycle

import (
	"fmt"
	"sync/atomic"
)

// Stage is one step of engine bring-up or tear-down.
type Stage uint32

const (
	Load Stage = iota
	PreInit
	Init
	PostInit
	Running
	PreDeinit
	Deinit
	PostDeinit
)

// InitStages are sent to modules in dependency order before the loops start.
var InitStages = []Stage{Load, PreInit, Init, PostInit}

// DeinitStages are sent to modules in reverse dependency order after both
// loops have halted.
var DeinitStages = []Stage{PreDeinit, Deinit, PostDeinit}

func (s Stage) String() string {
	switch s {
	case Load:
		return "Load"
	case PreInit:
		return "PreInit"
	case Init:
		return "Init"
	case PostInit:
		return "PostInit"
	case Running:
		return "Running"
	case PreDeinit:
		return "PreDeinit"
	case Deinit:
		return "Deinit"
	case PostDeinit:
		return "PostDeinit"
	default:
		return fmt.Sprintf("Stage(%d)", uint32(s))
	}
}

// StageChanged is pushed to both execution contexts on every advance.
type StageChanged struct {
	From Stage
	To   Stage
}

// Controller tracks the current stage. Reads are a single atomic load; only
// the scheduler advances it.
type Controller struct {
	cur     atomic.Uint32
	started atomic.Bool
}

func (c *Controller) Current() Stage {
	return Stage(c.cur.Load())
}

// AdvanceTo moves to the next stage in sequence and returns the previous one.
// The first call must be Load. Skipping or going backwards is a programming
// error and panics.
func (c *Controller) AdvanceTo(s Stage) Stage {
	prev := c.Current()
	if !c.started.Load() {
		if s != Load {
			panic(fmt.Sprintf("lifecycle: first stage must be Load, got %s", s))
		}
		c.started.Store(true)
		return prev
	}
	if s != prev+1 || s > PostDeinit {
		panic(fmt.Sprintf("lifecycle: cannot advance from %s to %s", prev, s))
	}
	c.cur.Store(uint32(s))
	return prev
}

// Reached reports whether the current stage is at or past s.
func (c *Controller) Reached(s Stage) bool {
	return c.Current() >= s
}
