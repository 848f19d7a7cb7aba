package pool

import (
	"fmt"
	"math"
	"unsafe"
)

// The top bit of a slot's gen word marks it occupied, the rest is the
// generation number.
const (
	generationMask = 0x7FFF_FFFF
	occupiedFlag   = 0x8000_0000
	maxGeneration  = generationMask
)

type slot[T any] struct {
	gen   uint32
	value T
}

func (s *slot[T]) generation() uint32 { return s.gen & generationMask }
func (s *slot[T]) occupied() bool     { return s.gen&occupiedFlag != 0 }

func (s *slot[T]) setOccupied(occupied bool) {
	if occupied {
		s.gen |= occupiedFlag
	} else {
		s.gen &= generationMask
	}
}

func (s *slot[T]) nextGeneration() uint32 {
	if s.generation() == maxGeneration {
		panic("pool: max slot generation exceeded")
	}
	s.gen++
	return s.generation()
}

// Pool stores values of one type in fixed-size chunks and hands out
// generation-checked Handles. Chunks are never moved or resized, so a pointer
// returned by GetMut stays valid until the value is removed.
//
// Pool does no locking of its own; owners wrap it in whatever lock suits
// their access pattern.
type Pool[T any] struct {
	slotsPerChunk int
	chunks        [][]slot[T]
	free          []uint32 // FIFO, consumed from freeHead
	freeHead      int
	live          int
}

// New creates an empty pool. The first chunk is allocated on first insert.
func New[T any]() *Pool[T] {
	return &Pool[T]{
		slotsPerChunk: slotsPerChunk(int(unsafe.Sizeof(slot[T]{}))),
	}
}

// slotsPerChunk keeps each chunk to a few 4 KiB pages. Very large types get a
// small fixed count since few of them are expected to be alive at once.
func slotsPerChunk(slotSize int) int {
	switch {
	case slotSize <= 64:
		return 4096 / slotSize
	case slotSize <= 128:
		return 4096 / slotSize
	case slotSize <= 256:
		return 8192 / slotSize
	case slotSize <= 512:
		return 16384 / slotSize
	default:
		return 16
	}
}

// Insert stores v and returns its handle.
func (p *Pool[T]) Insert(v T) Handle {
	_, h := p.insert(v)
	return h
}

// InsertAndThen stores v and calls fn with the stored value and its handle
// before returning, e.g. so the value can record its own handle.
func (p *Pool[T]) InsertAndThen(v T, fn func(*T, Handle)) Handle {
	ref, h := p.insert(v)
	fn(ref, h)
	return h
}

func (p *Pool[T]) insert(v T) (*T, Handle) {
	index, ok := p.popFree()
	if !ok {
		index = p.allocChunk()
	}

	s := p.slot(index)
	if s.occupied() {
		panic(fmt.Sprintf("pool: free slot %d is occupied", index))
	}
	gen := s.nextGeneration()
	s.value = v
	s.setOccupied(true)
	p.live++

	return &s.value, Handle{index: index, generation: gen}
}

// Remove takes the value out of the pool. It reports false if the handle is
// stale or the slot is empty.
func (p *Pool[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := p.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.setOccupied(false)
	p.free = append(p.free, h.index)
	p.live--
	return v, true
}

// Get returns a copy of the value for h.
func (p *Pool[T]) Get(h Handle) (T, bool) {
	s := p.lookup(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

// GetMut returns a pointer to the stored value for h.
func (p *Pool[T]) GetMut(h Handle) (*T, bool) {
	s := p.lookup(h)
	if s == nil {
		return nil, false
	}
	return &s.value, true
}

// Contains reports whether h currently resolves to a value.
func (p *Pool[T]) Contains(h Handle) bool {
	return p.lookup(h) != nil
}

// Len returns the number of live values.
func (p *Pool[T]) Len() int {
	return p.live
}

// Cap returns the number of allocated slots.
func (p *Pool[T]) Cap() int {
	return len(p.chunks) * p.slotsPerChunk
}

// Each calls fn for every live value in slot order.
func (p *Pool[T]) Each(fn func(Handle, *T)) {
	for ci, chunk := range p.chunks {
		for i := range chunk {
			s := &chunk[i]
			if !s.occupied() {
				continue
			}
			fn(Handle{index: uint32(ci*p.slotsPerChunk + i), generation: s.generation()}, &s.value)
		}
	}
}

func (p *Pool[T]) lookup(h Handle) *slot[T] {
	s := p.slot(h.index)
	if s == nil || !s.occupied() || s.generation() != h.generation {
		return nil
	}
	return s
}

func (p *Pool[T]) slot(index uint32) *slot[T] {
	ci := int(index) / p.slotsPerChunk
	if ci >= len(p.chunks) {
		return nil
	}
	return &p.chunks[ci][int(index)%p.slotsPerChunk]
}

func (p *Pool[T]) popFree() (uint32, bool) {
	if p.freeHead == len(p.free) {
		return 0, false
	}
	index := p.free[p.freeHead]
	p.freeHead++
	if p.freeHead == len(p.free) {
		p.free = p.free[:0]
		p.freeHead = 0
	} else if p.freeHead > 1024 && p.freeHead*2 > len(p.free) {
		n := copy(p.free, p.free[p.freeHead:])
		p.free = p.free[:n]
		p.freeHead = 0
	}
	return index, true
}

// allocChunk appends a chunk, queues all of its slots but the first and
// returns the first to the caller.
func (p *Pool[T]) allocChunk() uint32 {
	first := uint64(len(p.chunks)) * uint64(p.slotsPerChunk)
	last := first + uint64(p.slotsPerChunk) - 1
	if last > math.MaxUint32 {
		panic("pool: exceeded max slot index")
	}

	p.chunks = append(p.chunks, make([]slot[T], p.slotsPerChunk))
	for i := first + 1; i <= last; i++ {
		p.free = append(p.free, uint32(i))
	}
	return uint32(first)
}
