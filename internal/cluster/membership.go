// Package cluster contains the membership table of connected storage nodes.
package cluster

import (
	"slices"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Membership tracks live storage nodes and the readiness latch.
//
// Membership is not safe for concurrent use: the coordinator owns it together with the
// replica index and serializes every access under its state lock.
type Membership struct {
	nodes       map[NodeID]*Node
	replication int
	ready       bool
	ver         epoch
}

// NewMembership creates an empty table for replication factor r.
func NewMembership(r int) *Membership {
	return &Membership{nodes: map[NodeID]*Node{}, replication: r}
}

// Join registers a node. It fails with ErrDuplicateNode if the port is taken.
// Readiness is raised once R nodes are connected.
func (m *Membership) Join(id NodeID, handle Handle) (*Node, error) {
	if _, ok := m.nodes[id]; ok {
		return nil, ewrap.Wrapf(sentinel.ErrDuplicateNode, "port %d", int(id))
	}

	n := NewNode(id, handle)
	m.nodes[id] = n

	if len(m.nodes) >= m.replication {
		m.ready = true
	}

	m.ver.bump()

	return n, nil
}

// Leave removes a node. Readiness drops when fewer than R nodes remain.
func (m *Membership) Leave(id NodeID) (*Node, bool) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, false
	}

	delete(m.nodes, id)

	if len(m.nodes) < m.replication {
		m.ready = false
	}

	m.ver.bump()

	return n, true
}

// Get returns the node registered under id.
func (m *Membership) Get(id NodeID) (*Node, bool) {
	n, ok := m.nodes[id]

	return n, ok
}

// Has reports whether id is registered.
func (m *Membership) Has(id NodeID) bool {
	_, ok := m.nodes[id]

	return ok
}

// IDs returns registered node ids in ascending port order.
func (m *Membership) IDs() []NodeID {
	out := make([]NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		out = append(out, id)
	}

	slices.Sort(out)

	return out
}

// List returns registered nodes in ascending port order.
func (m *Membership) List() []*Node {
	ids := m.IDs()

	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.nodes[id])
	}

	return out
}

// Len returns the number of connected nodes.
func (m *Membership) Len() int { return len(m.nodes) }

// Ready reports whether client operations are accepted.
func (m *Membership) Ready() bool { return m.ready }

// Replication returns the configured replication factor.
func (m *Membership) Replication() int { return m.replication }

// SetInventory replaces the node's reported file set and returns whether it changed.
func (m *Membership) SetInventory(id NodeID, files []string) bool {
	n, ok := m.nodes[id]
	if !ok {
		return false
	}

	digest := InventoryDigest(files)
	changed := digest != n.Digest || len(files) != len(n.Files)

	n.Files = make(map[string]struct{}, len(files))
	for _, f := range files {
		n.Files[f] = struct{}{}
	}

	n.Digest = digest
	n.LastInventory = time.Now()

	if changed {
		m.ver.bump()
	}

	return changed
}

// Version returns current membership version.
func (m *Membership) Version() uint64 { return m.ver.value() }

// ChangedAt returns when the version last moved. It is zero before the first join.
func (m *Membership) ChangedAt() time.Time { return m.ver.at() }
