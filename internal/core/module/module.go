package module

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/argusengine/argus/internal/core/lifecycle"
)

var (
	ErrUnknownDependency = errors.New("unknown module dependency")
	ErrUnknownModule     = errors.New("unknown module")
	ErrCycle             = errors.New("module dependency graph contains a cycle")
	ErrDuplicate         = errors.New("module already registered")
)

// Registration describes one engine module. Entry is called once for every
// lifecycle stage except Running.
type Registration struct {
	ID        string
	DependsOn []string
	Entry     func(stage lifecycle.Stage) error
}

// Set holds the registered modules. It is filled before the engine starts
// and only read afterwards.
type Set struct {
	regs map[string]Registration
}

func NewSet() *Set {
	return &Set{regs: make(map[string]Registration, 16)}
}

func (s *Set) Register(r Registration) error {
	if r.ID == "" {
		return errors.New("module id is empty")
	}
	if _, ok := s.regs[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ID)
	}
	s.regs[r.ID] = r
	return nil
}

// IDs returns every registered id, sorted.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.regs))
	for id := range s.regs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resolve returns the enabled modules plus everything they depend on, sorted
// so each module comes after its dependencies. An empty enabled list means
// every registered module. Independent modules are ordered by id.
func (s *Set) Resolve(enabled []string) ([]Registration, error) {
	if len(enabled) == 0 {
		enabled = s.IDs()
	}

	wanted := make(map[string]bool, len(s.regs))
	stack := slices.Clone(enabled)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if wanted[id] {
			continue
		}
		if _, ok := s.regs[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
		}
		wanted[id] = true
		for _, dep := range s.regs[id].DependsOn {
			if _, ok := s.regs[dep]; !ok {
				return nil, fmt.Errorf("%w: %q (required by %q)", ErrUnknownDependency, dep, id)
			}
			stack = append(stack, dep)
		}
	}

	return s.topoSort(wanted)
}

// topoSort is Kahn's algorithm with the ready set kept sorted by id.
func (s *Set) topoSort(wanted map[string]bool) ([]Registration, error) {
	indegree := make(map[string]int, len(wanted))
	dependents := make(map[string][]string, len(wanted))
	for id := range wanted {
		indegree[id] += 0
		for _, dep := range s.regs[id].DependsOn {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	sorted := make([]Registration, 0, len(wanted))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, s.regs[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				slices.Sort(ready)
			}
		}
	}

	if len(sorted) != len(wanted) {
		return nil, ErrCycle
	}
	return sorted, nil
}

// RunInit sends stage to every module in order and stops at the first error.
func RunInit(mods []Registration, stage lifecycle.Stage, log *zap.Logger) error {
	for _, m := range mods {
		if m.Entry == nil {
			continue
		}
		log.Debug("sending lifecycle stage", zap.Stringer("stage", stage), zap.String("module", m.ID))
		if err := m.Entry(stage); err != nil {
			return fmt.Errorf("module %s %s: %w", m.ID, stage, err)
		}
	}
	return nil
}

// RunDeinit sends stage to every module in reverse order. Every module is
// visited; errors are combined.
func RunDeinit(mods []Registration, stage lifecycle.Stage, log *zap.Logger) error {
	var errs error
	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		if m.Entry == nil {
			continue
		}
		log.Debug("sending lifecycle stage", zap.Stringer("stage", stage), zap.String("module", m.ID))
		if err := m.Entry(stage); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("module %s %s: %w", m.ID, stage, err))
		}
	}
	return errs
}
