package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/scene"
)

const ModuleID = "scripting"

// APIVersion is exposed to scripts as argus.API_VERSION.
const APIVersion = 1

// ScriptEvent is an event raised by argus.push_event. Go code can push and
// subscribe to it like any other event.
type ScriptEvent struct {
	Name string
	Data map[string]any
}

// VM wraps a single gopher-lua state owned by the update context. Scripts
// load during Init, which runs on the goroutine that later becomes the update
// loop, and the state closes at PostDeinit after both loops have halted.
type VM struct {
	eng   *engine.Engine
	scene *scene.Scene
	dir   string
	log   *zap.Logger

	L         *lua.LState
	callbacks map[registry.ID]struct{}
	handlers  map[registry.ID]struct{}
}

func New(eng *engine.Engine, sc *scene.Scene, dir string, log *zap.Logger) *VM {
	return &VM{
		eng:       eng,
		scene:     sc,
		dir:       dir,
		log:       log.Named(ModuleID),
		callbacks: make(map[registry.ID]struct{}),
		handlers:  make(map[registry.ID]struct{}),
	}
}

func (vm *VM) Module() module.Registration {
	return module.Registration{
		ID:        ModuleID,
		DependsOn: []string{"scene"},
		Entry:     vm.entry,
	}
}

func (vm *VM) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		return vm.open()
	case lifecycle.PreDeinit:
		for id := range vm.callbacks {
			vm.eng.UnregisterUpdateCallback(id)
		}
		for id := range vm.handlers {
			vm.eng.UnregisterEventHandler(id, engine.TargetUpdate)
		}
	case lifecycle.PostDeinit:
		vm.Close()
	}
	return nil
}

func (vm *VM) open() error {
	vm.L = lua.NewState()
	vm.installAPI()
	if err := vm.loadDir(vm.dir); err != nil {
		vm.Close()
		return fmt.Errorf("load scripts: %w", err)
	}
	return nil
}

// Close releases the Lua state. Safe to call more than once.
func (vm *VM) Close() {
	if vm.L != nil {
		vm.L.Close()
		vm.L = nil
	}
}

// DoString runs a chunk on the VM. It must be called on the update context.
func (vm *VM) DoString(src string) error {
	if vm.L == nil {
		return fmt.Errorf("scripting: vm not open")
	}
	return vm.L.DoString(src)
}

// loadDir runs every .lua file in dir in name order. A missing dir is not
// an error.
func (vm *VM) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			vm.log.Warn("script directory not found", zap.String("dir", dir))
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := vm.L.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		vm.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// call invokes fn in protected mode and reports the error, if any.
func (vm *VM) call(fn *lua.LFunction, args ...lua.LValue) error {
	if vm.L == nil {
		return fmt.Errorf("scripting: vm closed")
	}
	return vm.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
}

func (vm *VM) registerUpdateCallback(fn *lua.LFunction, ordering registry.Ordering) registry.ID {
	var id registry.ID
	id = vm.eng.RegisterUpdateCallback(func(dt time.Duration) {
		if err := vm.call(fn, lua.LNumber(dt.Seconds())); err != nil {
			vm.log.Error("lua update callback failed, unregistering",
				zap.Uint64("id", uint64(id)), zap.Error(err))
			vm.unregisterUpdateCallback(id)
		}
	}, ordering)
	vm.callbacks[id] = struct{}{}
	return id
}

func (vm *VM) unregisterUpdateCallback(id registry.ID) {
	delete(vm.callbacks, id)
	vm.eng.UnregisterUpdateCallback(id)
}

func (vm *VM) runOnUpdateThread(fn *lua.LFunction) {
	vm.eng.RunOnUpdateThread(func() {
		if err := vm.call(fn); err != nil {
			vm.log.Error("lua one-off failed", zap.Error(err))
		}
	})
}
