package scene

import (
	"cmp"
	"slices"
	"sync"

	"github.com/argusengine/argus/internal/core/pool"
)

// Kind identifies which pool a handle belongs to.
type Kind uint8

const (
	KindObject Kind = iota
	KindGroup
	KindLight
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindGroup:
		return "group"
	case KindLight:
		return "light"
	}
	return "unknown"
}

// Vec2 is a position or velocity in cell units.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(f float64) Vec2 { return Vec2{v.X * f, v.Y * f} }

// RenderObject is a drawable glyph. Position is relative to Group when Group
// is set.
type RenderObject struct {
	Handle   pool.Handle
	Name     string
	Glyph    rune
	Color    string
	Position Vec2
	Velocity Vec2
	Z        int
	Group    pool.Handle
}

// Group offsets its members. Groups may nest through Parent.
type Group struct {
	Handle pool.Handle
	Name   string
	Offset Vec2
	Parent pool.Handle
}

// Light brightens cells within Radius of Position.
type Light struct {
	Handle    pool.Handle
	Position  Vec2
	Radius    float64
	Intensity float64
}

// maxGroupDepth bounds parent chain walks so a cycle cannot hang a caller.
const maxGroupDepth = 32

type store[T any] struct {
	mu   sync.RWMutex
	pool *pool.Pool[T]
}

func newStore[T any]() *store[T] {
	return &store[T]{pool: pool.New[T]()}
}

func (s *store[T]) spawn(v T, bind func(*T, pool.Handle)) pool.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h pool.Handle
	s.pool.InsertAndThen(v, func(p *T, handle pool.Handle) {
		bind(p, handle)
		h = handle
	})
	return h
}

func (s *store[T]) get(h pool.Handle) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.Get(h)
}

func (s *store[T]) update(h pool.Handle, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pool.GetMut(h)
	if !ok {
		return false
	}
	fn(p)
	return true
}

func (s *store[T]) remove(h pool.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pool.Remove(h)
	return ok
}

func (s *store[T]) each(fn func(*T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.pool.Each(func(_ pool.Handle, v *T) { fn(v) })
}

func (s *store[T]) mutateAll(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Each(func(_ pool.Handle, v *T) { fn(v) })
}

func (s *store[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.Len()
}

type destroyRequest struct {
	kind   Kind
	handle pool.Handle
}

// Scene owns one pool per object kind and a deferred destruction queue
// flushed by the cleanup system at the end of each update iteration. All
// methods are safe for concurrent use; the update context mutates and the
// render context reads snapshots.
type Scene struct {
	objects *store[RenderObject]
	groups  *store[Group]
	lights  *store[Light]

	queueMu      sync.Mutex
	destroyQueue []destroyRequest
}

func New() *Scene {
	return &Scene{
		objects:      newStore[RenderObject](),
		groups:       newStore[Group](),
		lights:       newStore[Light](),
		destroyQueue: make([]destroyRequest, 0, 64),
	}
}

// SpawnObject inserts o and returns its handle. o.Handle is overwritten.
func (s *Scene) SpawnObject(o RenderObject) pool.Handle {
	return s.objects.spawn(o, func(p *RenderObject, h pool.Handle) { p.Handle = h })
}

func (s *Scene) Object(h pool.Handle) (RenderObject, bool) { return s.objects.get(h) }

// UpdateObject applies fn to the live object under the pool's write lock.
func (s *Scene) UpdateObject(h pool.Handle, fn func(*RenderObject)) bool {
	return s.objects.update(h, fn)
}

func (s *Scene) DestroyObject(h pool.Handle) bool { return s.objects.remove(h) }

// EachObject calls fn with a copy of every live object.
func (s *Scene) EachObject(fn func(RenderObject)) {
	s.objects.each(func(o *RenderObject) { fn(*o) })
}

// MutateObjects calls fn on every live object under the write lock.
func (s *Scene) MutateObjects(fn func(*RenderObject)) {
	s.objects.mutateAll(fn)
}

func (s *Scene) SpawnGroup(g Group) pool.Handle {
	return s.groups.spawn(g, func(p *Group, h pool.Handle) { p.Handle = h })
}

func (s *Scene) Group(h pool.Handle) (Group, bool) { return s.groups.get(h) }

func (s *Scene) UpdateGroup(h pool.Handle, fn func(*Group)) bool {
	return s.groups.update(h, fn)
}

func (s *Scene) DestroyGroup(h pool.Handle) bool { return s.groups.remove(h) }

func (s *Scene) SpawnLight(l Light) pool.Handle {
	return s.lights.spawn(l, func(p *Light, h pool.Handle) { p.Handle = h })
}

func (s *Scene) Light(h pool.Handle) (Light, bool) { return s.lights.get(h) }

func (s *Scene) UpdateLight(h pool.Handle, fn func(*Light)) bool {
	return s.lights.update(h, fn)
}

func (s *Scene) DestroyLight(h pool.Handle) bool { return s.lights.remove(h) }

func (s *Scene) EachLight(fn func(Light)) {
	s.lights.each(func(l *Light) { fn(*l) })
}

// Counts returns the number of live objects, groups and lights.
func (s *Scene) Counts() (objects, groups, lights int) {
	return s.objects.len(), s.groups.len(), s.lights.len()
}

// MarkForDestruction queues a handle for removal at the next flush. Stale
// handles are ignored by the flush.
func (s *Scene) MarkForDestruction(kind Kind, h pool.Handle) {
	s.queueMu.Lock()
	s.destroyQueue = append(s.destroyQueue, destroyRequest{kind: kind, handle: h})
	s.queueMu.Unlock()
}

// FlushDestroyQueue destroys all queued handles and returns how many were
// still alive.
func (s *Scene) FlushDestroyQueue() int {
	s.queueMu.Lock()
	queue := s.destroyQueue
	s.destroyQueue = make([]destroyRequest, 0, cap(queue))
	s.queueMu.Unlock()

	removed := 0
	for _, req := range queue {
		var ok bool
		switch req.kind {
		case KindObject:
			ok = s.DestroyObject(req.handle)
		case KindGroup:
			ok = s.DestroyGroup(req.handle)
		case KindLight:
			ok = s.DestroyLight(req.handle)
		}
		if ok {
			removed++
		}
	}
	return removed
}

// PendingDestruction returns the length of the destroy queue.
func (s *Scene) PendingDestruction() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.destroyQueue)
}

// WorldPosition resolves the absolute position of an object by walking its
// group chain. A stale group handle ends the walk as if it were the root.
func (s *Scene) WorldPosition(h pool.Handle) (Vec2, bool) {
	o, ok := s.objects.get(h)
	if !ok {
		return Vec2{}, false
	}
	return s.resolve(o.Position, o.Group), true
}

func (s *Scene) resolve(pos Vec2, group pool.Handle) Vec2 {
	s.groups.mu.RLock()
	defer s.groups.mu.RUnlock()
	for depth := 0; depth < maxGroupDepth && !group.IsZero(); depth++ {
		g, ok := s.groups.pool.Get(group)
		if !ok {
			break
		}
		pos = pos.Add(g.Offset)
		group = g.Parent
	}
	return pos
}

// Snapshot returns copies of all live objects with Position resolved to world
// coordinates, ordered by Z and then by slot index.
func (s *Scene) Snapshot() []RenderObject {
	var out []RenderObject
	s.objects.each(func(o *RenderObject) { out = append(out, *o) })
	for i := range out {
		out[i].Position = s.resolve(out[i].Position, out[i].Group)
	}
	slices.SortFunc(out, func(a, b RenderObject) int {
		if c := cmp.Compare(a.Z, b.Z); c != 0 {
			return c
		}
		return cmp.Compare(a.Handle.Index(), b.Handle.Index())
	})
	return out
}
