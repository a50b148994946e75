package index

import (
	"github.com/hyp3rd/hyperstore/internal/cluster"
)

// Pending counts acknowledgements for one in-flight store or remove.
type Pending struct {
	File     string
	Target   int
	Received int

	allowed map[cluster.NodeID]struct{}
	acked   map[cluster.NodeID]struct{}
	done    chan struct{}
}

func newPending(file string, target int, allowed []cluster.NodeID) *Pending {
	p := &Pending{
		File:   file,
		Target: target,
		acked:  map[cluster.NodeID]struct{}{},
		done:   make(chan struct{}),
	}

	if allowed != nil {
		p.allowed = make(map[cluster.NodeID]struct{}, len(allowed))
		for _, id := range allowed {
			p.allowed[id] = struct{}{}
		}
	}

	if target <= 0 {
		close(p.done)
	}

	return p
}

// Ack counts an acknowledgement from id. Duplicate and unexpected acks are ignored
// and reported as false.
func (p *Pending) Ack(id cluster.NodeID) bool {
	if p.Complete() {
		return false
	}

	if p.allowed != nil {
		if _, ok := p.allowed[id]; !ok {
			return false
		}
	}

	if _, dup := p.acked[id]; dup {
		return false
	}

	p.acked[id] = struct{}{}
	p.Received++

	if p.Received >= p.Target {
		close(p.done)
	}

	return true
}

// Expects reports whether an ack from id would be accepted.
func (p *Pending) Expects(id cluster.NodeID) bool {
	if p.allowed == nil {
		return true
	}

	_, ok := p.allowed[id]

	return ok
}

// Complete reports whether the target was reached.
func (p *Pending) Complete() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the target is reached.
func (p *Pending) Done() <-chan struct{} { return p.done }
