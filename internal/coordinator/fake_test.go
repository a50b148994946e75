package coordinator

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/protocol"
)

const testTimeout = 300 * time.Millisecond

// fakeNode is an in-memory storage node that answers the coordinator directly.
type fakeNode struct {
	id cluster.NodeID
	fc *fakeCluster

	mu     sync.Mutex
	files  map[string]bool
	sent   []protocol.Message
	silent bool
	hold   chan struct{}
	// stale is answered to the next LIST ahead of the real inventory.
	stale []string
}

func (n *fakeNode) Send(msg protocol.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	silent, hold, stale := n.silent, n.hold, n.stale
	n.mu.Unlock()

	if silent {
		return nil
	}

	c := n.fc.c

	switch m := msg.(type) {
	case protocol.List:
		go func() {
			if stale != nil {
				c.inventory(n.id, stale)
			}

			c.inventory(n.id, n.fileList())
		}()
	case protocol.Remove:
		n.drop(m.File)

		go c.removeAck(n.id, m.File)
	case protocol.Rebalance:
		go func() {
			if hold != nil {
				<-hold
			}

			n.fc.apply(n, m)
			c.rebalanceComplete(n.id)
		}()
	}

	return nil
}

func (n *fakeNode) Close() error { return nil }

func (n *fakeNode) setSilent(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.silent = v
}

func (n *fakeNode) setStale(files []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stale = files
}

func (n *fakeNode) setHold(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.hold = ch
}

func (n *fakeNode) put(file string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.files[file] = true
}

func (n *fakeNode) drop(file string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.files, file)
}

func (n *fakeNode) has(file string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.files[file]
}

func (n *fakeNode) fileList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.files))
	for f := range n.files {
		out = append(out, f)
	}

	slices.Sort(out)

	return out
}

func (n *fakeNode) received() []protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.sent)
}

type fakeCluster struct {
	t *testing.T
	c *Coordinator

	mu    sync.Mutex
	nodes map[cluster.NodeID]*fakeNode
}

func newFakeCluster(t *testing.T, r, nodes int, opts ...Option) *fakeCluster {
	t.Helper()

	opts = append([]Option{WithReplication(r), WithTimeout(testTimeout), WithRebalancePeriod(0)}, opts...)

	c, err := New(opts...)
	assert.Nil(t, err)

	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	fc := &fakeCluster{t: t, c: c, nodes: map[cluster.NodeID]*fakeNode{}}
	for i := range nodes {
		fc.join(cluster.NodeID(4001 + i))
	}

	return fc
}

func (fc *fakeCluster) join(id cluster.NodeID) *fakeNode {
	fc.t.Helper()

	n := &fakeNode{id: id, fc: fc, files: map[string]bool{}}

	fc.mu.Lock()
	fc.nodes[id] = n
	fc.mu.Unlock()

	assert.Nil(fc.t, fc.c.join(context.Background(), id, n))

	return n
}

func (fc *fakeCluster) leave(id cluster.NodeID) {
	fc.mu.Lock()
	delete(fc.nodes, id)
	fc.mu.Unlock()

	fc.c.leave(id)
}

func (fc *fakeCluster) node(id cluster.NodeID) *fakeNode {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return fc.nodes[id]
}

func (fc *fakeCluster) all() []*fakeNode {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	out := make([]*fakeNode, 0, len(fc.nodes))
	for _, n := range fc.nodes {
		out = append(out, n)
	}

	return out
}

// apply executes a rebalance instruction the way a storage node does: sends first.
func (fc *fakeCluster) apply(n *fakeNode, m protocol.Rebalance) {
	for _, s := range m.Sends {
		if !n.has(s.File) {
			continue
		}

		for _, d := range s.Dests {
			if dest := fc.node(cluster.NodeID(d)); dest != nil {
				dest.put(s.File)
			}
		}
	}

	for _, f := range m.Removes {
		n.drop(f)
	}
}

// uploader returns an announce func that writes the file to every target and acks it.
func (fc *fakeCluster) uploader(file string) func([]cluster.NodeID) error {
	return func(targets []cluster.NodeID) error {
		go func() {
			for _, id := range targets {
				if n := fc.node(id); n != nil {
					n.put(file)
				}

				fc.c.storeAck(id, file)
			}
		}()

		return nil
	}
}

func (fc *fakeCluster) store(file string) {
	fc.t.Helper()

	assert.Nil(fc.t, fc.c.Store(context.Background(), file, 10, fc.uploader(file)))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}

		time.Sleep(5 * time.Millisecond)
	}
}
