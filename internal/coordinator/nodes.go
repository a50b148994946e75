package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// join registers a storage node. It waits for a running rebalance to finish so that
// membership is stable for the length of a cycle.
func (c *Coordinator) join(ctx context.Context, id cluster.NodeID, handle cluster.Handle) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if !c.st.waitLocked(ctx, time.Time{}, func() bool { return !c.st.rebalancing }) {
		return ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, "join waiting for rebalance")
	}

	wasReady := c.st.members.Ready()

	_, err := c.st.members.Join(id, handle)
	if err != nil {
		return err
	}

	c.st.notifyLocked()
	atomic.AddInt64(&c.metrics.nodesJoined, 1)

	ev := c.log.Info().Stringer("node", id).Int("nodes", c.st.members.Len()).Int("replication", c.replication)
	if !wasReady && c.st.members.Ready() {
		ev.Msg("node joined, coordinator ready")
	} else {
		ev.Msg("node joined")
	}

	return nil
}

// leave removes a node and purges it from every replica set. Recovery is left to the
// next rebalance.
func (c *Coordinator) leave(id cluster.NodeID) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if _, ok := c.st.members.Leave(id); !ok {
		return
	}

	purged := c.st.files.PurgeNode(id)
	c.st.notifyLocked()
	atomic.AddInt64(&c.metrics.nodesLeft, 1)

	c.log.Warn().Stringer("node", id).Int("nodes", c.st.members.Len()).Int("replicas_lost", purged).
		Bool("ready", c.st.members.Ready()).Msg("node left")
}
