package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/config"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/present"
	"github.com/argusengine/argus/internal/scene"
	"github.com/argusengine/argus/internal/scripting"
	"github.com/argusengine/argus/internal/system"
)

type app struct {
	eng   *engine.Engine
	scene *scene.Scene
	stats *system.FrameStats
}

// build creates the engine and registers every module the config enables.
// store may be nil when the engine will not be started.
func build(cfg *config.Config, log *zap.Logger, store system.JournalStore) (*app, error) {
	eng := engine.New(engine.Options{
		TargetTickRate:  cfg.Engine.TargetTickRate,
		TargetFrameRate: cfg.Engine.TargetFrameRate,
		Modules:         cfg.Engine.Modules,
	}, log)
	sc := scene.New()
	stats := system.NewFrameStats(eng)

	regs := []module.Registration{
		system.NewSceneLoader(sc, cfg.Scene.File, log).Module(),
		stats.Module(),
		system.NewCleanupSystem(eng, sc, log).Module(),
		system.NewMotionSystem(eng, sc).Module(),
		system.NewInputSystem(eng, log).Module(),
	}
	if cfg.Scripting.Enabled {
		regs = append(regs, scripting.New(eng, sc, cfg.Scripting.Dir, log).Module())
	}
	if cfg.Render.Backend == "terminal" {
		regs = append(regs, present.New(eng, sc, stats, log).Module())
	}
	if cfg.Journal.Enabled {
		info := system.RunInfo{
			TickRate:  cfg.Engine.TargetTickRate,
			FrameRate: cfg.Engine.TargetFrameRate,
			Modules:   cfg.Engine.Modules,
		}
		if len(info.Modules) == 0 {
			for _, r := range regs {
				info.Modules = append(info.Modules, r.ID)
			}
			info.Modules = append(info.Modules, "journal")
		}
		regs = append(regs, system.NewJournal(eng, store, stats, cfg.Journal.SampleInterval, info, log).Module())
	}

	for _, r := range regs {
		if err := eng.RegisterModule(r); err != nil {
			return nil, fmt.Errorf("register module: %w", err)
		}
	}
	return &app{eng: eng, scene: sc, stats: stats}, nil
}
