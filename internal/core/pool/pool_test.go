package pool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type big struct {
	data [96]uint64
	tag  string
}

type aligned struct {
	a complex128
	b [4]float64
}

func TestPool_InsertGetRoundTrip(t *testing.T) {
	ints := New[int]()
	h := ints.Insert(42)
	got, ok := ints.Get(h)
	require.True(t, ok)
	assert.Equal(t, 42, got)

	empties := New[struct{}]()
	he := empties.Insert(struct{}{})
	_, ok = empties.Get(he)
	assert.True(t, ok, "zero-sized values must round trip")

	bigs := New[big]()
	v := big{tag: "large"}
	v.data[95] = 7
	hb := bigs.Insert(v)
	gotBig, ok := bigs.Get(hb)
	require.True(t, ok)
	assert.Equal(t, v, gotBig)

	al := New[aligned]()
	va := aligned{a: complex(1, 2), b: [4]float64{1, 2, 3, 4}}
	ha := al.Insert(va)
	gotAl, ok := al.Get(ha)
	require.True(t, ok)
	assert.Equal(t, va, gotAl)
}

func TestPool_ZeroHandleNeverValid(t *testing.T) {
	p := New[string]()
	p.Insert("a")
	_, ok := p.Get(Handle{})
	assert.False(t, ok)
}

func TestPool_StaleHandleRejected(t *testing.T) {
	p := New[string]()
	h := p.Insert("first")

	old, ok := p.Remove(h)
	require.True(t, ok)
	assert.Equal(t, "first", old)

	_, ok = p.Get(h)
	assert.False(t, ok, "removed handle must not resolve")

	// Drain the free list until the same index comes back.
	var reused Handle
	for i := 0; i < p.Cap()+1; i++ {
		n := p.Insert("other")
		if n.Index() == h.Index() {
			reused = n
			break
		}
	}
	require.False(t, reused.IsZero(), "slot should eventually be reused")
	assert.NotEqual(t, h.Generation(), reused.Generation())

	_, ok = p.Get(h)
	assert.False(t, ok, "stale handle must not see the new occupant")
	_, ok = p.GetMut(h)
	assert.False(t, ok)
	_, ok = p.Remove(h)
	assert.False(t, ok)

	got, ok := p.Get(reused)
	require.True(t, ok)
	assert.Equal(t, "other", got)
}

func TestPool_DoubleRemove(t *testing.T) {
	p := New[int]()
	h := p.Insert(1)
	_, ok := p.Remove(h)
	require.True(t, ok)
	_, ok = p.Remove(h)
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestPool_HandlesStableUnderChurn(t *testing.T) {
	p := New[int]()
	rng := rand.New(rand.NewSource(1))
	live := map[Handle]int{}

	for i := 0; i < 20000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for h, want := range live {
				got, ok := p.Remove(h)
				require.True(t, ok)
				require.Equal(t, want, got)
				delete(live, h)
				break
			}
			continue
		}
		h := p.Insert(i)
		live[h] = i
	}

	assert.Equal(t, len(live), p.Len())
	for h, want := range live {
		got, ok := p.Get(h)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestPool_PointersSurviveGrowth(t *testing.T) {
	p := New[int]()
	h := p.Insert(5)
	ref, ok := p.GetMut(h)
	require.True(t, ok)

	for i := 0; i < p.slotsPerChunk*4; i++ {
		p.Insert(i)
	}
	assert.Greater(t, len(p.chunks), 1)

	*ref = 6
	got, _ := p.Get(h)
	assert.Equal(t, 6, got)
}

func TestPool_InsertAndThen(t *testing.T) {
	type node struct {
		self Handle
		name string
	}
	p := New[node]()
	h := p.InsertAndThen(node{name: "n"}, func(n *node, h Handle) {
		n.self = h
	})

	got, ok := p.Get(h)
	require.True(t, ok)
	assert.Equal(t, h, got.self)
	assert.Equal(t, "n", got.name)
}

func TestPool_FirstSlotOfNewChunkGoesToCaller(t *testing.T) {
	p := New[int]()
	h := p.Insert(1)
	assert.Equal(t, uint32(0), h.Index())
	assert.Equal(t, uint32(1), h.Generation())
	assert.Len(t, p.free, p.slotsPerChunk-1)
}

func TestPool_GenerationOverflowPanics(t *testing.T) {
	p := New[int]()
	h := p.Insert(1)
	p.Remove(h)

	s := p.slot(h.Index())
	s.gen = maxGeneration

	// Point the free list at the exhausted slot.
	p.free = []uint32{h.Index()}
	p.freeHead = 0
	assert.PanicsWithValue(t, "pool: max slot generation exceeded", func() {
		p.Insert(2)
	})
}

func TestPool_Each(t *testing.T) {
	p := New[int]()
	a := p.Insert(1)
	b := p.Insert(2)
	c := p.Insert(3)
	p.Remove(b)

	seen := map[Handle]int{}
	p.Each(func(h Handle, v *int) { seen[h] = *v })
	assert.Equal(t, map[Handle]int{a: 1, c: 3}, seen)
}

func TestSlotsPerChunk(t *testing.T) {
	assert.Equal(t, 1024, slotsPerChunk(4))
	assert.Equal(t, 64, slotsPerChunk(64))
	assert.Equal(t, 32, slotsPerChunk(128))
	assert.Equal(t, 32, slotsPerChunk(256))
	assert.Equal(t, 32, slotsPerChunk(512))
	assert.Equal(t, 16, slotsPerChunk(4096))
}

func TestHandle_PackUnpack(t *testing.T) {
	p := New[int]()
	for i := 0; i < 3; i++ {
		p.Insert(i)
	}
	h := p.Insert(9)
	assert.Equal(t, h, Unpack(h.Pack()))
}
