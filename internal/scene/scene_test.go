package scene

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusengine/argus/internal/core/pool"
)

func TestScene_SpawnStoresOwnHandle(t *testing.T) {
	s := New()
	h := s.SpawnObject(RenderObject{Glyph: '@', Handle: pool.Handle{}})

	o, ok := s.Object(h)
	require.True(t, ok)
	assert.Equal(t, h, o.Handle)
	assert.Equal(t, '@', o.Glyph)
}

func TestScene_DestroyInvalidatesHandle(t *testing.T) {
	s := New()
	h := s.SpawnObject(RenderObject{Glyph: 'x'})
	require.True(t, s.DestroyObject(h))
	assert.False(t, s.DestroyObject(h))

	_, ok := s.Object(h)
	assert.False(t, ok)
	assert.False(t, s.UpdateObject(h, func(*RenderObject) { t.Fatal("updated a dead object") }))

	reused := s.SpawnObject(RenderObject{Glyph: 'y'})
	assert.NotEqual(t, h, reused)
	_, ok = s.Object(h)
	assert.False(t, ok, "old handle stays dead after a new spawn")
	got, ok := s.Object(reused)
	require.True(t, ok)
	assert.Equal(t, 'y', got.Glyph)
}

func TestScene_ReusedSlotRejectsOldHandle(t *testing.T) {
	s := New()
	first := s.SpawnObject(RenderObject{Glyph: 'a'})
	require.True(t, s.DestroyObject(first))

	// Spawn until the freed slot comes back around.
	var reused pool.Handle
	for i := 0; i < 1<<16; i++ {
		h := s.SpawnObject(RenderObject{Glyph: 'b'})
		if h.Index() == first.Index() {
			reused = h
			break
		}
	}
	require.False(t, reused.IsZero(), "freed slot was never reused")
	assert.Greater(t, reused.Generation(), first.Generation())
	_, ok := s.Object(first)
	assert.False(t, ok)
	got, ok := s.Object(reused)
	require.True(t, ok)
	assert.Equal(t, 'b', got.Glyph)
}

func TestScene_KindsAreIndependent(t *testing.T) {
	s := New()
	obj := s.SpawnObject(RenderObject{})
	grp := s.SpawnGroup(Group{Name: "g"})
	lit := s.SpawnLight(Light{Radius: 3})

	o, g, l := s.Counts()
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{o, g, l})

	// same index and generation, different pools
	assert.Equal(t, obj, grp)
	require.True(t, s.DestroyGroup(grp))
	_, ok := s.Object(obj)
	assert.True(t, ok)

	got, ok := s.Light(lit)
	require.True(t, ok)
	assert.Equal(t, 3.0, got.Radius)
}

func TestScene_DeferredDestruction(t *testing.T) {
	s := New()
	a := s.SpawnObject(RenderObject{Name: "a"})
	b := s.SpawnObject(RenderObject{Name: "b"})
	l := s.SpawnLight(Light{})

	s.MarkForDestruction(KindObject, a)
	s.MarkForDestruction(KindObject, a)
	s.MarkForDestruction(KindLight, l)
	assert.Equal(t, 3, s.PendingDestruction())

	_, ok := s.Object(a)
	assert.True(t, ok, "marked objects stay alive until flushed")

	assert.Equal(t, 2, s.FlushDestroyQueue())
	assert.Zero(t, s.PendingDestruction())

	_, ok = s.Object(a)
	assert.False(t, ok)
	_, ok = s.Object(b)
	assert.True(t, ok)
	_, ok = s.Light(l)
	assert.False(t, ok)
}

func TestScene_WorldPosition(t *testing.T) {
	s := New()
	root := s.SpawnGroup(Group{Offset: Vec2{10, 10}})
	child := s.SpawnGroup(Group{Offset: Vec2{1, 2}, Parent: root})
	h := s.SpawnObject(RenderObject{Position: Vec2{0.5, 0.5}, Group: child})

	pos, ok := s.WorldPosition(h)
	require.True(t, ok)
	assert.Equal(t, Vec2{11.5, 12.5}, pos)

	// a destroyed parent is treated as the root
	require.True(t, s.DestroyGroup(root))
	pos, _ = s.WorldPosition(h)
	assert.Equal(t, Vec2{1.5, 2.5}, pos)

	// a slot reused by a new group does not resurrect the old link
	s.SpawnGroup(Group{Offset: Vec2{100, 100}})
	pos, _ = s.WorldPosition(h)
	assert.Equal(t, Vec2{1.5, 2.5}, pos)

	_, ok = s.WorldPosition(pool.Handle{})
	assert.False(t, ok)
}

func TestScene_WorldPositionCycleTerminates(t *testing.T) {
	s := New()
	a := s.SpawnGroup(Group{Offset: Vec2{1, 0}})
	b := s.SpawnGroup(Group{Offset: Vec2{1, 0}, Parent: a})
	s.UpdateGroup(a, func(g *Group) { g.Parent = b })

	h := s.SpawnObject(RenderObject{Group: a})
	pos, ok := s.WorldPosition(h)
	require.True(t, ok)
	assert.Equal(t, float64(maxGroupDepth), pos.X)
}

func TestScene_SnapshotOrderedByZ(t *testing.T) {
	s := New()
	g := s.SpawnGroup(Group{Offset: Vec2{5, 0}})
	s.SpawnObject(RenderObject{Name: "top", Z: 2})
	s.SpawnObject(RenderObject{Name: "bottom", Z: -1})
	s.SpawnObject(RenderObject{Name: "mid-a", Z: 0, Group: g})
	s.SpawnObject(RenderObject{Name: "mid-b", Z: 0})

	snap := s.Snapshot()
	var names []string
	for _, o := range snap {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"bottom", "mid-a", "mid-b", "top"}, names)
	assert.Equal(t, Vec2{5, 0}, snap[1].Position, "snapshot positions are world positions")

	// snapshots are copies
	snap[0].Glyph = 'Z'
	o, _ := s.Object(snap[0].Handle)
	assert.NotEqual(t, 'Z', o.Glyph)
}

func TestScene_ConcurrentReadersAndWriter(t *testing.T) {
	s := New()
	for i := 0; i < 64; i++ {
		s.SpawnObject(RenderObject{Position: Vec2{float64(i), 0}, Velocity: Vec2{1, 0}})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.MutateObjects(func(o *RenderObject) { o.Position = o.Position.Add(o.Velocity) })
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.Len(t, s.Snapshot(), 64)
		}
	}()
	wg.Wait()

	s.EachObject(func(o RenderObject) {
		assert.GreaterOrEqual(t, o.Position.X, 200.0)
	})
}
