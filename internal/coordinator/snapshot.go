package coordinator

import (
	"time"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/placement"
)

// NodeInfo describes one member for introspection.
type NodeInfo struct {
	ID            cluster.NodeID `json:"id"`
	JoinedAt      time.Time      `json:"joined_at"`
	Files         []string       `json:"files"`
	Held          int            `json:"held"`
	StoreFactor   float64        `json:"store_factor"`
	Digest        uint64         `json:"digest"`
	LastInventory time.Time      `json:"last_inventory"`
}

// FileInfo describes one indexed file for introspection.
type FileInfo struct {
	Name     string           `json:"name"`
	Size     int64            `json:"size"`
	State    string           `json:"state"`
	Replicas []cluster.NodeID `json:"replicas"`
}

// Snapshot is a point-in-time copy of the coordinator state.
type Snapshot struct {
	Taken             time.Time  `json:"taken"`
	Replication       int        `json:"replication"`
	Ready             bool       `json:"ready"`
	Rebalancing       bool       `json:"rebalancing"`
	Phase             string     `json:"phase"`
	MembershipVersion uint64     `json:"membership_version"`
	MembershipChanged time.Time  `json:"membership_changed"`
	PendingOps        int        `json:"pending_ops"`
	Nodes             []NodeInfo `json:"nodes"`
	Files             []FileInfo `json:"files"`
}

// Snapshot copies the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	view := liveView{c.st}

	snap := Snapshot{
		Taken:             time.Now(),
		Replication:       c.replication,
		Ready:             c.st.members.Ready(),
		Rebalancing:       c.st.rebalancing,
		Phase:             c.st.phase.String(),
		MembershipVersion: c.st.members.Version(),
		MembershipChanged: c.st.members.ChangedAt(),
		PendingOps:        c.st.files.PendingCount(),
	}

	for _, n := range c.st.members.List() {
		snap.Nodes = append(snap.Nodes, NodeInfo{
			ID:            n.ID,
			JoinedAt:      n.JoinedAt,
			Files:         n.FileNames(),
			Held:          view.Held(n.ID),
			StoreFactor:   placement.Factor(view, n.ID),
			Digest:        n.Digest,
			LastInventory: n.LastInventory,
		})
	}

	for _, e := range c.st.files.Entries() {
		snap.Files = append(snap.Files, FileInfo{
			Name:     e.Name,
			Size:     e.Size,
			State:    e.State.String(),
			Replicas: e.Replicas,
		})
	}

	return snap
}

// File returns the index entry for name.
func (c *Coordinator) File(name string) (FileInfo, bool) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	e, ok := c.st.files.Get(name)
	if !ok {
		return FileInfo{}, false
	}

	cp := e.Clone()

	return FileInfo{Name: cp.Name, Size: cp.Size, State: cp.State.String(), Replicas: cp.Replicas}, true
}
