package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/event"
	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
)

// Target names one of the two execution contexts.
type Target uint8

const (
	TargetUpdate Target = iota
	TargetRender
)

func (t Target) String() string {
	if t == TargetRender {
		return "render"
	}
	return "update"
}

// DeltaFunc is a steady per-iteration callback receiving the time since the
// previous iteration of the same context.
type DeltaFunc func(dt time.Duration)

// Options configures pacing and module selection.
type Options struct {
	TargetTickRate  uint32   // update iterations per second, 0 = unpaced
	TargetFrameRate uint32   // render iterations per second, 0 = unpaced
	Modules         []string // enabled module ids, empty = all registered
}

// loopState is the per-context callback and event state.
type loopState struct {
	target    Target
	rate      uint32
	callbacks *registry.Registry[DeltaFunc]
	oneOffs   *registry.Registry[func()]
	events    *event.Dispatcher
	frames    atomic.Uint64
}

func newLoopState(target Target, rate uint32) *loopState {
	return &loopState{
		target:    target,
		rate:      rate,
		callbacks: registry.New[DeltaFunc](),
		oneOffs:   registry.New[func()](),
		events:    event.NewDispatcher(),
	}
}

// Engine is the scheduling context shared by every subsystem. It owns the
// lifecycle, the callback registries of both execution contexts and the
// shutdown handshake. Construct one per process and pass it down.
type Engine struct {
	log  *zap.Logger
	opts Options

	ids      registry.IDSource
	stage    lifecycle.Controller
	modules  *module.Set
	resolved []module.Registration

	update     *loopState
	render     *loopState
	renderInit *registry.Registry[func()]
	// initMu orders RunOnRenderInit against the render side's final drain
	// and readiness signal.
	initMu sync.Mutex

	started        atomic.Bool
	stop           *latch // stop requested; also the render shutdown channel
	renderReady    *latch
	updateAck      *latch
	renderAck      *latch
	renderPanicked atomic.Bool
	renderDone     chan struct{}
}

func New(opts Options, log *zap.Logger) *Engine {
	return &Engine{
		log:         log,
		opts:        opts,
		modules:     module.NewSet(),
		update:      newLoopState(TargetUpdate, opts.TargetTickRate),
		render:      newLoopState(TargetRender, opts.TargetFrameRate),
		renderInit:  registry.New[func()](),
		stop:        newLatch(),
		renderReady: newLatch(),
		updateAck:   newLatch(),
		renderAck:   newLatch(),
		renderDone:  make(chan struct{}),
	}
}

// RegisterModule adds a module. Modules must be registered before Initialize.
func (e *Engine) RegisterModule(r module.Registration) error {
	if e.stage.Reached(lifecycle.PreInit) {
		return fmt.Errorf("register module %s: engine already initializing", r.ID)
	}
	return e.modules.Register(r)
}

// ResolveModules returns the modules that Initialize would run, in order.
func (e *Engine) ResolveModules() ([]module.Registration, error) {
	return e.modules.Resolve(e.opts.Modules)
}

// Initialize resolves the enabled modules and walks them through the init
// stages. On success the engine is Running and ready for Start.
func (e *Engine) Initialize() error {
	mods, err := e.ResolveModules()
	if err != nil {
		return fmt.Errorf("resolve modules: %w", err)
	}
	e.resolved = mods

	e.log.Info("engine initialization started", zap.Int("modules", len(mods)))
	for _, stage := range lifecycle.InitStages {
		e.advance(stage)
		if err := module.RunInit(mods, stage, e.log); err != nil {
			return err
		}
	}
	e.advance(lifecycle.Running)
	e.log.Info("engine initialized")
	return nil
}

func (e *Engine) advance(stage lifecycle.Stage) {
	prev := e.stage.AdvanceTo(stage)
	e.log.Debug("lifecycle stage", zap.Stringer("stage", stage))
	if stage != lifecycle.Load {
		PushEvent(e, lifecycle.StageChanged{From: prev, To: stage})
	}
}

// Stage returns the current lifecycle stage.
func (e *Engine) Stage() lifecycle.Stage {
	return e.stage.Current()
}

// Stop requests the shutdown handshake. It is safe to call any number of
// times from any goroutine.
func (e *Engine) Stop() {
	if e.stop.IsSet() {
		return
	}
	e.log.Debug("engine stop requested")
	e.stop.Set()
}

// Stopping reports whether Stop has been called.
func (e *Engine) Stopping() bool {
	return e.stop.IsSet()
}

// Frames returns how many iterations the given context has completed.
func (e *Engine) Frames(t Target) uint64 {
	return e.loop(t).frames.Load()
}

func (e *Engine) loop(t Target) *loopState {
	if t == TargetRender {
		return e.render
	}
	return e.update
}

// RegisterUpdateCallback adds a steady callback to the update context. It is
// first invoked on the iteration after the next flush.
func (e *Engine) RegisterUpdateCallback(fn DeltaFunc, ordering registry.Ordering) registry.ID {
	id := e.ids.Next()
	e.update.callbacks.Insert(id, fn, ordering)
	return id
}

func (e *Engine) UnregisterUpdateCallback(id registry.ID) {
	e.update.callbacks.Remove(id)
}

// RegisterRenderCallback adds a steady callback to the render context.
func (e *Engine) RegisterRenderCallback(fn DeltaFunc, ordering registry.Ordering) registry.ID {
	id := e.ids.Next()
	e.render.callbacks.Insert(id, fn, ordering)
	return id
}

func (e *Engine) UnregisterRenderCallback(id registry.ID) {
	e.render.callbacks.Remove(id)
}

// RunOnUpdateThread runs fn once on the next update iteration. One-offs carry
// no ordering and run in submission order.
func (e *Engine) RunOnUpdateThread(fn func()) {
	e.update.oneOffs.Insert(e.ids.Next(), fn, registry.OrderingStandard)
}

// RunOnRenderThread runs fn once on the next render iteration.
func (e *Engine) RunOnRenderThread(fn func()) {
	e.render.oneOffs.Insert(e.ids.Next(), fn, registry.OrderingStandard)
}

// RunOnRenderInit runs fn on the render context before it signals readiness.
// Callbacks registered by other render-init callbacks run in the same
// startup phase. Once the render context is ready, fn is queued as a render
// one-off instead and ordering is ignored.
func (e *Engine) RunOnRenderInit(fn func(), ordering registry.Ordering) registry.ID {
	id := e.ids.Next()
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.renderReady.IsSet() {
		e.log.Warn("render init callback registered after render start", zap.Uint64("id", uint64(id)))
		e.render.oneOffs.Insert(id, fn, registry.OrderingStandard)
		return id
	}
	e.renderInit.Insert(id, fn, ordering)
	return id
}

// runRenderInit drains render-init callbacks until none are pending, then
// signals readiness. The final empty drain and the signal happen under
// initMu so a concurrent registration lands either here or in the one-offs.
func (e *Engine) runRenderInit() {
	for {
		e.initMu.Lock()
		e.renderInit.Flush()
		batch := e.renderInit.Drain()
		if len(batch) == 0 {
			e.renderReady.Set()
			e.initMu.Unlock()
			return
		}
		e.initMu.Unlock()

		for _, cb := range batch {
			cb.Payload()
		}
	}
}

// UnregisterEventHandler removes a handler registered for target.
func (e *Engine) UnregisterEventHandler(id registry.ID, target Target) {
	e.loop(target).events.Unsubscribe(id)
}

// RegisterEventHandler subscribes fn to events of type T on the target
// context.
func RegisterEventHandler[T any](e *Engine, fn func(T), target Target, ordering registry.Ordering) registry.ID {
	id := e.ids.Next()
	e.loop(target).events.Subscribe(id, event.Wrap(fn), ordering)
	return id
}

// PushEvent queues ev on both contexts. Each dispatches it on its own next
// iteration.
func PushEvent[T any](e *Engine, ev T) {
	kind := event.KindOf[T]()
	e.update.events.Push(kind, ev)
	e.render.events.Push(kind, ev)
}

var (
	errNotInitialized = errors.New("engine: Start called before Initialize")
	errAlreadyStarted = errors.New("engine: already started")
)
