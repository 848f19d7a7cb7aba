package registry

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Ordering places a callback in one of five coarse bands. Callbacks flushed
// together run band by band, then in registration order.
type Ordering uint8

const (
	OrderingFirst Ordering = iota
	OrderingEarly
	OrderingStandard
	OrderingLate
	OrderingLast
)

var orderingNames = [...]string{"first", "early", "standard", "late", "last"}

func (o Ordering) String() string {
	if int(o) < len(orderingNames) {
		return orderingNames[o]
	}
	return fmt.Sprintf("Ordering(%d)", o)
}

// ParseOrdering accepts the lower-case names returned by String.
func ParseOrdering(s string) (Ordering, error) {
	for i, name := range orderingNames {
		if strings.EqualFold(s, name) {
			return Ordering(i), nil
		}
	}
	return OrderingStandard, fmt.Errorf("unknown ordering %q", s)
}

// ID identifies a registered callback. IDs from one IDSource are unique across
// every registry fed by it.
type ID uint64

// IDSource hands out monotonically increasing IDs starting at 1.
type IDSource struct {
	last atomic.Uint64
}

func (s *IDSource) Next() ID {
	return ID(s.last.Add(1))
}
