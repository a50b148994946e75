package cluster

import (
	"sync/atomic"
	"time"
)

// epoch counts membership changes and remembers when the last one happened.
type epoch struct {
	n       atomic.Uint64
	changed atomic.Int64
}

func (e *epoch) bump() {
	e.n.Add(1)
	e.changed.Store(time.Now().UnixNano())
}

func (e *epoch) value() uint64 { return e.n.Load() }

func (e *epoch) at() time.Time {
	ns := e.changed.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}
