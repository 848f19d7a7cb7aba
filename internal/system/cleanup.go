package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/scene"
)

// CleanupSystem flushes the scene's deferred destruction queue at the end of
// every update iteration.
type CleanupSystem struct {
	eng   *engine.Engine
	scene *scene.Scene
	log   *zap.Logger
	id    registry.ID

	destroyed uint64
}

func NewCleanupSystem(eng *engine.Engine, sc *scene.Scene, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{eng: eng, scene: sc, log: log.Named("cleanup")}
}

func (s *CleanupSystem) Module() module.Registration {
	return module.Registration{
		ID:        "cleanup",
		DependsOn: []string{SceneModuleID},
		Entry:     s.entry,
	}
}

func (s *CleanupSystem) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		s.id = s.eng.RegisterUpdateCallback(s.Update, registry.OrderingLast)
	case lifecycle.PreDeinit:
		s.eng.UnregisterUpdateCallback(s.id)
		// anything queued by the final iteration
		s.Update(0)
		s.log.Debug("cleanup finished", zap.Uint64("destroyed", s.destroyed))
	}
	return nil
}

func (s *CleanupSystem) Update(_ time.Duration) {
	s.destroyed += uint64(s.scene.FlushDestroyQueue())
}
