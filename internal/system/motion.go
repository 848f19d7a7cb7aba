package system

import (
	"time"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/present"
	"github.com/argusengine/argus/internal/scene"
)

// MotionSystem integrates object velocities on the update context. Once the
// presenter reports a size, objects bounce off its edges; the bottom row is
// left to the HUD. Bounds apply to local positions.
type MotionSystem struct {
	eng   *engine.Engine
	scene *scene.Scene

	// touched only on the update context
	width, height float64
	paused        bool

	callbackID registry.ID
	resizeID   registry.ID
	keyID      registry.ID
}

func NewMotionSystem(eng *engine.Engine, sc *scene.Scene) *MotionSystem {
	return &MotionSystem{eng: eng, scene: sc}
}

func (s *MotionSystem) Module() module.Registration {
	return module.Registration{
		ID:        "motion",
		DependsOn: []string{SceneModuleID},
		Entry:     s.entry,
	}
}

func (s *MotionSystem) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		s.resizeID = engine.RegisterEventHandler(s.eng, s.onResize, engine.TargetUpdate, registry.OrderingStandard)
		s.keyID = engine.RegisterEventHandler(s.eng, s.onKey, engine.TargetUpdate, registry.OrderingStandard)
		s.callbackID = s.eng.RegisterUpdateCallback(s.Update, registry.OrderingStandard)
	case lifecycle.PreDeinit:
		s.eng.UnregisterUpdateCallback(s.callbackID)
		s.eng.UnregisterEventHandler(s.resizeID, engine.TargetUpdate)
		s.eng.UnregisterEventHandler(s.keyID, engine.TargetUpdate)
	}
	return nil
}

func (s *MotionSystem) onResize(ev present.Resized) {
	s.SetBounds(float64(ev.Width), float64(ev.Height-1))
}

func (s *MotionSystem) onKey(ev present.KeyPressed) {
	if ev.Rune == ' ' {
		s.paused = !s.paused
	}
}

// SetBounds sets the area objects bounce inside. Zero disables bouncing.
func (s *MotionSystem) SetBounds(width, height float64) {
	s.width, s.height = width, height
}

func (s *MotionSystem) Update(dt time.Duration) {
	if s.paused {
		return
	}
	secs := dt.Seconds()
	s.scene.MutateObjects(func(o *scene.RenderObject) {
		if o.Velocity == (scene.Vec2{}) {
			return
		}
		o.Position = o.Position.Add(o.Velocity.Scale(secs))
		if s.width > 0 && s.height > 0 {
			o.Position.X, o.Velocity.X = bounce(o.Position.X, o.Velocity.X, s.width-1)
			o.Position.Y, o.Velocity.Y = bounce(o.Position.Y, o.Velocity.Y, s.height-1)
		}
	})
}

// bounce reflects pos back into [0, limit] and flips vel when it leaves.
func bounce(pos, vel, limit float64) (float64, float64) {
	if limit <= 0 {
		return 0, vel
	}
	switch {
	case pos < 0:
		pos, vel = -pos, -vel
	case pos > limit:
		pos, vel = 2*limit-pos, -vel
	}
	// large steps can overshoot the opposite edge
	if pos < 0 {
		pos = 0
	} else if pos > limit {
		pos = limit
	}
	return pos, vel
}
