package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/index"
)

// Phase is the rebalance orchestrator state.
type Phase int

// Rebalance phases.
const (
	PhaseIdle Phase = iota
	PhaseDraining
	PhaseCollectingInventory
	PhaseComputingPlan
	PhaseDispatching
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDraining:
		return "draining"
	case PhaseCollectingInventory:
		return "collecting_inventory"
	case PhaseComputingPlan:
		return "computing_plan"
	case PhaseDispatching:
		return "dispatching"
	}

	return "unknown"
}

type loadKey struct {
	client string
	file   string
}

// cycle tracks the replies of one rebalance round.
type cycle struct {
	listed    map[cluster.NodeID]bool
	completed map[cluster.NodeID]bool
	// drift counts listed nodes whose inventory differed from the expected one.
	drift int
}

// state is everything the coordinator owns. All fields are guarded by mu; changed is
// closed and replaced on every mutation that a waiter may care about.
type state struct {
	mu      sync.Mutex
	changed chan struct{}

	members *cluster.Membership
	files   *index.Index

	rebalancing bool
	phase       Phase
	cycle       *cycle

	// loads holds the remaining LOAD candidates per client session and file.
	loads map[loadKey][]cluster.NodeID
}

func newState(r int) *state {
	return &state{
		changed: make(chan struct{}),
		members: cluster.NewMembership(r),
		files:   index.New(),
		loads:   map[loadKey][]cluster.NodeID{},
	}
}

// notifyLocked wakes every waiter. mu must be held.
func (s *state) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// waitLocked blocks until cond holds, the deadline passes or ctx is done, and reports
// whether cond holds on return. mu must be held on entry; it is held again on return.
// A zero deadline waits without a timer. The deadline is evaluated once.
func (s *state) waitLocked(ctx context.Context, deadline time.Time, cond func() bool) bool {
	var expired <-chan time.Time

	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()

		expired = timer.C
	}

	for !cond() {
		changed := s.changed

		s.mu.Unlock()

		select {
		case <-changed:
			s.mu.Lock()

			continue
		case <-expired:
		case <-ctx.Done():
		}

		s.mu.Lock()

		return cond()
	}

	return true
}

// liveView serves placement from the live membership and index. mu must be held.
type liveView struct{ s *state }

func (v liveView) Nodes() []cluster.NodeID    { return v.s.members.IDs() }
func (v liveView) Held(id cluster.NodeID) int { return v.s.files.HeldCount(id) }
func (v liveView) Replication() int           { return v.s.members.Replication() }
func (v liveView) Holds(f string, id cluster.NodeID) bool {
	return v.s.files.Holds(f, id)
}
