package present

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/scene"
)

// KeyPressed is pushed to both contexts for every key event.
type KeyPressed struct {
	Key  tcell.Key
	Rune rune
	Mod  tcell.ModMask
}

// Resized is pushed when the terminal size changes, and once after init.
type Resized struct {
	Width, Height int
}

// Screen is the part of tcell.Screen the presenter uses.
type Screen interface {
	Init() error
	Fini()
	Clear()
	Show()
	Size() (width, height int)
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
	PollEvent() tcell.Event
}

// StatusSource supplies the HUD line drawn on the bottom row.
type StatusSource interface {
	StatusLine() string
}

// ModuleID is the id the presenter registers under.
const ModuleID = "present"

// Presenter draws scene snapshots on the render context and forwards terminal
// input to the engine's event queues.
type Presenter struct {
	eng    *engine.Engine
	scene  *scene.Scene
	status StatusSource
	log    *zap.Logger

	newScreen func() (Screen, error)
	screen    Screen
	renderID  registry.ID
	active    atomic.Bool
	pollDone  chan struct{}
	finiOnce  sync.Once
}

// New returns a presenter backed by a real terminal.
func New(eng *engine.Engine, sc *scene.Scene, status StatusSource, log *zap.Logger) *Presenter {
	return NewWithScreen(eng, sc, status, log, func() (Screen, error) {
		s, err := tcell.NewScreen()
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// NewWithScreen lets callers supply the screen, for simulation or tests.
func NewWithScreen(eng *engine.Engine, sc *scene.Scene, status StatusSource, log *zap.Logger, newScreen func() (Screen, error)) *Presenter {
	return &Presenter{
		eng:       eng,
		scene:     sc,
		status:    status,
		log:       log.Named(ModuleID),
		newScreen: newScreen,
		pollDone:  make(chan struct{}),
	}
}

// Module returns the lifecycle registration. The screen is created at Init
// but only initialized on the render context.
func (p *Presenter) Module() module.Registration {
	return module.Registration{
		ID:        ModuleID,
		DependsOn: []string{"scene", "stats"},
		Entry:     p.entry,
	}
}

func (p *Presenter) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		screen, err := p.newScreen()
		if err != nil {
			return fmt.Errorf("create screen: %w", err)
		}
		p.screen = screen
		p.eng.RunOnRenderInit(p.initScreen, registry.OrderingFirst)
		p.renderID = p.eng.RegisterRenderCallback(p.Draw, registry.OrderingStandard)
	case lifecycle.Deinit:
		p.eng.UnregisterRenderCallback(p.renderID)
		p.fini()
	}
	return nil
}

func (p *Presenter) initScreen() {
	if err := p.screen.Init(); err != nil {
		p.log.Error("screen init failed", zap.Error(err))
		p.eng.Stop()
		close(p.pollDone)
		return
	}
	p.active.Store(true)
	w, h := p.screen.Size()
	engine.PushEvent(p.eng, Resized{Width: w, Height: h})
	go p.poll()
}

// poll forwards terminal events until the screen is finalized, which makes
// PollEvent return nil.
func (p *Presenter) poll() {
	defer close(p.pollDone)
	for {
		ev := p.screen.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			engine.PushEvent(p.eng, KeyPressed{Key: ev.Key(), Rune: ev.Rune(), Mod: ev.Modifiers()})
		case *tcell.EventResize:
			w, h := ev.Size()
			engine.PushEvent(p.eng, Resized{Width: w, Height: h})
		}
	}
}

func (p *Presenter) fini() {
	p.finiOnce.Do(func() {
		if !p.active.Load() {
			return
		}
		p.screen.Fini()
		select {
		case <-p.pollDone:
		case <-time.After(time.Second):
			p.log.Warn("input poller did not exit")
		}
	})
}

var lightGlyphs = []rune{' ', '·', '░', '▒'}

// Draw renders one frame: lights first, then objects in Z order, then the HUD.
func (p *Presenter) Draw(time.Duration) {
	if !p.active.Load() {
		return
	}
	s := p.screen
	s.Clear()
	w, h := s.Size()

	p.scene.EachLight(func(l scene.Light) {
		drawLight(s, l, w, h-1)
	})
	for _, o := range p.scene.Snapshot() {
		x, y := int(math.Round(o.Position.X)), int(math.Round(o.Position.Y))
		if x < 0 || y < 0 || x >= w || y >= h-1 {
			continue
		}
		s.SetContent(x, y, o.Glyph, nil, styleFor(o.Color))
	}
	if p.status != nil {
		drawText(s, 0, h-1, p.status.StatusLine(), tcell.StyleDefault.Reverse(true), w)
	}
	s.Show()
}

func drawLight(s Screen, l scene.Light, w, h int) {
	if l.Radius <= 0 {
		return
	}
	r := int(math.Ceil(l.Radius))
	cx, cy := int(math.Round(l.Position.X)), int(math.Round(l.Position.Y))
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if x < 0 || y < 0 || x >= w || y >= h {
				continue
			}
			d := math.Hypot(float64(x-cx), float64(y-cy))
			if d > l.Radius {
				continue
			}
			level := int(l.Intensity * (1 - d/l.Radius) * float64(len(lightGlyphs)))
			if level <= 0 {
				continue
			}
			if level >= len(lightGlyphs) {
				level = len(lightGlyphs) - 1
			}
			s.SetContent(x, y, lightGlyphs[level], nil, tcell.StyleDefault.Foreground(tcell.ColorYellow))
		}
	}
}

func drawText(s Screen, x, y int, text string, style tcell.Style, maxWidth int) {
	for _, r := range text {
		if x >= maxWidth {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

func styleFor(color string) tcell.Style {
	if color == "" {
		return tcell.StyleDefault
	}
	return tcell.StyleDefault.Foreground(tcell.GetColor(color))
}
