package system

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/data"
	"github.com/argusengine/argus/internal/scene"
)

// SceneModuleID is the module every scene consumer depends on.
const SceneModuleID = "scene"

// SceneLoader populates the scene from a yaml file during Load.
type SceneLoader struct {
	scene *scene.Scene
	path  string
	log   *zap.Logger

	loaded *data.Populated
}

// NewSceneLoader returns a loader for path. An empty path leaves the scene
// empty.
func NewSceneLoader(sc *scene.Scene, path string, log *zap.Logger) *SceneLoader {
	return &SceneLoader{scene: sc, path: path, log: log.Named(SceneModuleID)}
}

func (l *SceneLoader) Module() module.Registration {
	return module.Registration{ID: SceneModuleID, Entry: l.entry}
}

// Loaded returns the name to handle mapping of the loaded file, or nil.
func (l *SceneLoader) Loaded() *data.Populated { return l.loaded }

func (l *SceneLoader) entry(stage lifecycle.Stage) error {
	if stage != lifecycle.Load || l.path == "" {
		return nil
	}
	f, err := data.LoadSceneFile(l.path)
	if err != nil {
		return err
	}
	populated, err := f.Populate(l.scene)
	if err != nil {
		return fmt.Errorf("populate %s: %w", l.path, err)
	}
	l.loaded = populated

	objects, groups, lights := l.scene.Counts()
	l.log.Info("scene loaded",
		zap.String("file", l.path),
		zap.Int("objects", objects),
		zap.Int("groups", groups),
		zap.Int("lights", lights),
	)
	return nil
}
