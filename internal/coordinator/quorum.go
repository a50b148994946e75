package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/index"
	"github.com/hyp3rd/hyperstore/internal/placement"
	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Handler serves client requests. The coordinator implements it; wrappers add logging,
// metrics and tracing around it.
type Handler interface {
	// Store registers file and calls announce with the chosen targets, then waits for
	// every target to acknowledge.
	Store(ctx context.Context, file string, size int64, announce func(targets []cluster.NodeID) error) error
	// Load returns the first replica holder and remembers the rest for client.
	Load(ctx context.Context, client, file string) (Location, error)
	// Reload returns the next remembered holder.
	Reload(ctx context.Context, client, file string) (Location, error)
	// Remove deletes file from every node and the index.
	Remove(ctx context.Context, file string) error
	// List returns stored file names in ascending order.
	List(ctx context.Context) ([]string, error)
}

// admitLocked runs the client admission checks: readiness, then waiting out a running
// rebalance. On success mu is held and no rebalance is running, so the caller can
// register its pending operation in the same critical section.
func (c *Coordinator) admitLocked(ctx context.Context) error {
	if !c.st.members.Ready() {
		atomic.AddInt64(&c.metrics.rejectedNotReady, 1)

		return sentinel.ErrNotEnoughNodes
	}

	if !c.st.waitLocked(ctx, time.Time{}, func() bool { return !c.st.rebalancing }) {
		return ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, "waiting for rebalance")
	}

	// Nodes may have left while the rebalance ran.
	if !c.st.members.Ready() {
		atomic.AddInt64(&c.metrics.rejectedNotReady, 1)

		return sentinel.ErrNotEnoughNodes
	}

	return nil
}

// Store runs the store quorum for file.
func (c *Coordinator) Store(ctx context.Context, file string, size int64, announce func([]cluster.NodeID) error) error {
	start := time.Now()
	defer func() { c.latency.observe(opStore, time.Since(start)) }()

	c.st.mu.Lock()

	err := c.admitLocked(ctx)
	if err != nil {
		c.st.mu.Unlock()

		return err
	}

	entry, err := c.st.files.Insert(file, index.StoreInProgress)
	if err != nil {
		c.st.mu.Unlock()

		return err
	}

	targets := placement.ChooseTargets(liveView{c.st}, c.replication)
	pending := c.st.files.StartPending(file, c.replication, targets)
	c.st.mu.Unlock()

	atomic.AddInt64(&c.metrics.storesStarted, 1)
	c.log.Debug().Str("file", file).Int64("size", size).Ints("targets", toInts(targets)).Msg("store started")

	err = announce(targets)
	if err != nil {
		c.dropEntry(file)

		return ewrap.Wrap(err, "announce store targets")
	}

	deadline := time.Now().Add(c.timeout)

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if !c.st.waitLocked(ctx, deadline, pending.Complete) {
		c.st.files.Delete(file)
		c.st.notifyLocked()
		atomic.AddInt64(&c.metrics.storeTimeouts, 1)
		c.log.Warn().Str("file", file).Int("acks", pending.Received).Int("want", pending.Target).
			Msg("store quorum not reached, entry discarded")

		return ewrap.Wrapf(sentinel.ErrQuorumTimeout, "store %s: %d/%d acks", file, pending.Received, pending.Target)
	}

	entry.State = index.Stored
	entry.Size = size
	c.st.files.FinishPending(file)
	c.st.notifyLocked()
	atomic.AddInt64(&c.metrics.storesCompleted, 1)
	c.log.Info().Str("file", file).Ints("replicas", toInts(entry.Replicas)).Msg("stored")

	return nil
}

// Remove runs the remove quorum for file.
func (c *Coordinator) Remove(ctx context.Context, file string) error {
	start := time.Now()
	defer func() { c.latency.observe(opRemove, time.Since(start)) }()

	c.st.mu.Lock()

	err := c.admitLocked(ctx)
	if err != nil {
		c.st.mu.Unlock()

		return err
	}

	entry, ok := c.st.files.Get(file)
	if !ok || entry.State != index.Stored {
		c.st.mu.Unlock()

		return ewrap.Wrap(sentinel.ErrNotFound, file)
	}

	entry.State = index.RemoveInProgress
	expected := append([]cluster.NodeID(nil), entry.Replicas...)
	pending := c.st.files.StartPending(file, len(expected), expected)
	nodes := c.st.members.List()
	c.st.mu.Unlock()

	atomic.AddInt64(&c.metrics.removesStarted, 1)

	for _, n := range nodes {
		err := n.Handle.Send(protocol.Remove{File: file})
		if err != nil {
			c.log.Warn().Err(err).Stringer("node", n.ID).Str("file", file).Msg("remove fan-out failed")
		}
	}

	deadline := time.Now().Add(c.timeout)

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	complete := c.st.waitLocked(ctx, deadline, pending.Complete)

	c.st.files.Delete(file)
	c.st.notifyLocked()

	if !complete {
		atomic.AddInt64(&c.metrics.removeTimeouts, 1)
		c.log.Warn().Str("file", file).Int("acks", pending.Received).Int("want", pending.Target).
			Msg("remove quorum not reached, entry dropped")

		return ewrap.Wrapf(sentinel.ErrQuorumTimeout, "remove %s: %d/%d acks", file, pending.Received, pending.Target)
	}

	atomic.AddInt64(&c.metrics.removesCompleted, 1)
	c.log.Info().Str("file", file).Msg("removed")

	return nil
}

// storeAck records a STORE_ACK from node id.
func (c *Coordinator) storeAck(id cluster.NodeID, file string) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	entry, ok := c.st.files.Get(file)
	pending, hasPending := c.st.files.Pending(file)

	if !ok || !hasPending || entry.State != index.StoreInProgress || !pending.Ack(id) {
		atomic.AddInt64(&c.metrics.acksIgnored, 1)
		c.log.Debug().Stringer("node", id).Str("file", file).Msg("store ack ignored")

		return
	}

	entry.AddReplica(id)

	if n, live := c.st.members.Get(id); live {
		n.Files[file] = struct{}{}
	}

	c.st.notifyLocked()
}

// removeAck records a REMOVE_ACK from node id.
func (c *Coordinator) removeAck(id cluster.NodeID, file string) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	entry, ok := c.st.files.Get(file)
	pending, hasPending := c.st.files.Pending(file)

	if !ok || !hasPending || entry.State != index.RemoveInProgress || !pending.Ack(id) {
		atomic.AddInt64(&c.metrics.acksIgnored, 1)

		return
	}

	entry.RemoveReplica(id)

	if n, live := c.st.members.Get(id); live {
		delete(n.Files, file)
	}

	c.st.notifyLocked()
}

func (c *Coordinator) dropEntry(file string) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	c.st.files.Delete(file)
	c.st.notifyLocked()
}

func toInts(ids []cluster.NodeID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}

	return out
}
