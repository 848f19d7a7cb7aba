package system

import (
	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
	"github.com/argusengine/argus/internal/core/module"
	"github.com/argusengine/argus/internal/core/registry"
	"github.com/argusengine/argus/internal/engine"
	"github.com/argusengine/argus/internal/present"
)

// InputSystem stops the engine on q, Esc or Ctrl-C.
type InputSystem struct {
	eng *engine.Engine
	log *zap.Logger
	id  registry.ID
}

func NewInputSystem(eng *engine.Engine, log *zap.Logger) *InputSystem {
	return &InputSystem{eng: eng, log: log.Named("input")}
}

func (s *InputSystem) Module() module.Registration {
	return module.Registration{ID: "input", Entry: s.entry}
}

func (s *InputSystem) entry(stage lifecycle.Stage) error {
	switch stage {
	case lifecycle.Init:
		s.id = engine.RegisterEventHandler(s.eng, s.HandleKey, engine.TargetUpdate, registry.OrderingEarly)
	case lifecycle.PreDeinit:
		s.eng.UnregisterEventHandler(s.id, engine.TargetUpdate)
	}
	return nil
}

func (s *InputSystem) HandleKey(ev present.KeyPressed) {
	if isQuitKey(ev) {
		s.log.Info("quit key pressed")
		s.eng.Stop()
	}
}

func isQuitKey(ev present.KeyPressed) bool {
	switch ev.Key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return ev.Rune == 'q' || ev.Rune == 'Q'
	}
	return false
}
