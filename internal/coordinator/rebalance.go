package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/index"
	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/rebalance"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Report summarizes one rebalance cycle.
type Report struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Nodes     int           `json:"nodes"`
	Listed    int           `json:"listed"`
	Completed int           `json:"completed"`
	Drift     int           `json:"drift"`
	Garbage   int           `json:"garbage"`
	Copies    int           `json:"copies"`
	Trimmed   int           `json:"trimmed"`
	Moves     int           `json:"moves"`
	Lost      []string      `json:"lost,omitempty"`
	Ceiling   int           `json:"ceiling"`
}

// rebalanceLoop runs a cycle every period after the previous one returned to idle.
func (c *Coordinator) rebalanceLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.rebalancePeriod)
	defer ticker.Stop()

	ctx, cancel := c.stopContext()
	defer cancel()

	for {
		select {
		case <-ticker.C:
			_, err := c.Rebalance(ctx)
			if err != nil && !errors.Is(err, sentinel.ErrRebalanceInProgress) {
				c.log.Debug().Err(err).Msg("rebalance skipped")
			}

			ticker.Reset(c.rebalancePeriod)
		case <-c.stopCh:
			return
		}
	}
}

// Rebalance runs one cycle now. It fails with ErrRebalanceInProgress while another
// cycle runs and with ErrNotEnoughNodes when fewer than R nodes are connected.
func (c *Coordinator) Rebalance(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Started: start}

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if c.st.rebalancing {
		return nil, sentinel.ErrRebalanceInProgress
	}

	if c.st.members.Len() < c.replication {
		c.log.Info().Int("nodes", c.st.members.Len()).Int("replication", c.replication).
			Msg("rebalance refused, not enough nodes")

		return nil, sentinel.ErrNotEnoughNodes
	}

	c.st.rebalancing = true
	c.setPhaseLocked(PhaseDraining)

	defer func() {
		c.st.rebalancing = false
		c.st.cycle = nil
		c.setPhaseLocked(PhaseIdle)
	}()

	drainBy := time.Now().Add(2 * c.timeout)
	if !c.st.waitLocked(ctx, drainBy, func() bool { return c.st.files.PendingCount() == 0 }) {
		atomic.AddInt64(&c.metrics.rebalanceAborted, 1)
		c.log.Warn().Int("pending", c.st.files.PendingCount()).Msg("rebalance abandoned, operations did not drain")

		return nil, ewrap.Wrap(sentinel.ErrQuorumTimeout, "rebalance drain")
	}

	c.st.cycle = &cycle{listed: map[cluster.NodeID]bool{}, completed: map[cluster.NodeID]bool{}}

	report.Listed, report.Drift = c.collectLocked(ctx)

	c.setPhaseLocked(PhaseComputingPlan)
	plan := c.planLocked(report)

	report.Completed = c.dispatchLocked(ctx, plan)
	report.Nodes = c.st.members.Len()
	report.Duration = time.Since(start)

	atomic.AddInt64(&c.metrics.rebalanceCycles, 1)
	c.latency.observe(opRebalance, report.Duration)

	c.lastReportMu.Lock()
	c.lastReport = report
	c.lastReportMu.Unlock()

	c.log.Info().Int("nodes", report.Nodes).Int("listed", report.Listed).Int("completed", report.Completed).
		Int("garbage", report.Garbage).Int("copies", report.Copies).Int("trimmed", report.Trimmed).
		Int("moves", report.Moves).
		Int("lost", len(report.Lost)).Dur("took", report.Duration).Msg("rebalance finished")

	return report, nil
}

// LastReport returns the report of the latest finished cycle, or nil.
func (c *Coordinator) LastReport() *Report {
	c.lastReportMu.Lock()
	defer c.lastReportMu.Unlock()

	return c.lastReport
}

// Phase returns the current rebalance phase.
func (c *Coordinator) Phase() Phase {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	return c.st.phase
}

func (c *Coordinator) setPhaseLocked(p Phase) {
	c.st.phase = p
	c.st.notifyLocked()
	c.log.Debug().Stringer("phase", p).Msg("rebalance phase")
}

// collectLocked asks every live node for its inventory and waits until each node that
// is still connected answered or the timeout passed. Nodes that stay silent keep the
// inventory they reported last.
func (c *Coordinator) collectLocked(ctx context.Context) (listed, drift int) {
	c.setPhaseLocked(PhaseCollectingInventory)

	targets := c.st.members.List()
	for _, n := range targets {
		n.PendingLists++
	}

	c.st.mu.Unlock()

	var unsent []*cluster.Node

	for _, n := range targets {
		err := n.Handle.Send(protocol.List{})
		if err != nil {
			c.log.Warn().Err(err).Stringer("node", n.ID).Msg("inventory request failed")

			unsent = append(unsent, n)
		}
	}

	deadline := time.Now().Add(c.timeout)

	c.st.mu.Lock()

	for _, n := range unsent {
		n.PendingLists--
	}

	cyc := c.st.cycle
	answered := func() bool {
		for _, n := range targets {
			if !cyc.listed[n.ID] && c.st.members.Has(n.ID) {
				return false
			}
		}

		return true
	}

	if !c.st.waitLocked(ctx, deadline, answered) {
		c.log.Warn().Int("answered", len(cyc.listed)).Int("asked", len(targets)).
			Msg("inventory collection timed out, using partial results")
	}

	atomic.AddInt64(&c.metrics.inventoryDrift, int64(cyc.drift))

	return len(cyc.listed), cyc.drift
}

// planLocked refreshes every replica set from the inventories and computes the plan.
func (c *Coordinator) planLocked(report *Report) *rebalance.Plan {
	in := rebalance.Input{
		Replication: c.replication,
		Nodes:       c.st.members.IDs(),
		Stored:      c.st.files.Names(index.Stored),
		Inventory:   map[cluster.NodeID][]string{},
	}

	for _, n := range c.st.members.List() {
		in.Inventory[n.ID] = n.FileNames()
	}

	plan := rebalance.Compute(in)

	for _, name := range in.Stored {
		entry, _ := c.st.files.Get(name)
		entry.Replicas = slices.Clone(plan.Holders[name])
	}

	for _, name := range plan.Lost {
		c.st.files.Delete(name)
		c.log.Error().Str("file", name).Msg("file lost, no node holds a replica")
	}

	report.Garbage = plan.Garbage
	report.Copies = plan.Copies
	report.Trimmed = plan.Trimmed
	report.Moves = plan.Moves
	report.Lost = plan.Lost
	report.Ceiling = plan.Ceiling

	atomic.AddInt64(&c.metrics.garbageRemoved, int64(plan.Garbage))
	atomic.AddInt64(&c.metrics.replicasCopied, int64(plan.Copies))
	atomic.AddInt64(&c.metrics.replicasTrimmed, int64(plan.Trimmed))
	atomic.AddInt64(&c.metrics.filesMoved, int64(plan.Moves))
	atomic.AddInt64(&c.metrics.filesLost, int64(len(plan.Lost)))

	return plan
}

// dispatchLocked sends every live node its instruction, waits for completions and
// applies the instructions of the nodes that completed.
func (c *Coordinator) dispatchLocked(ctx context.Context, plan *rebalance.Plan) int {
	c.setPhaseLocked(PhaseDispatching)

	targets := c.st.members.List()

	c.st.mu.Unlock()

	for _, n := range targets {
		msg := plan.Instruction(n.ID).Message()

		err := n.Handle.Send(msg)
		if err != nil {
			c.log.Warn().Err(err).Stringer("node", n.ID).Msg("rebalance dispatch failed")
		}
	}

	deadline := time.Now().Add(c.timeout)

	c.st.mu.Lock()

	cyc := c.st.cycle
	finished := func() bool {
		for _, n := range targets {
			if !cyc.completed[n.ID] && c.st.members.Has(n.ID) {
				return false
			}
		}

		return true
	}

	if !c.st.waitLocked(ctx, deadline, finished) {
		c.log.Warn().Int("completed", len(cyc.completed)).Int("dispatched", len(targets)).
			Msg("rebalance completion timed out")
	}

	completed := 0

	for _, n := range targets {
		if !cyc.completed[n.ID] {
			continue
		}

		completed++

		c.applyLocked(n.ID, plan.Instruction(n.ID))
	}

	return completed
}

// applyLocked folds a completed node instruction into the replica index.
func (c *Coordinator) applyLocked(id cluster.NodeID, in *rebalance.Instruction) {
	for _, s := range in.Sends {
		entry, ok := c.st.files.Get(s.File)
		if !ok {
			continue
		}

		for _, dest := range s.Dests {
			node, live := c.st.members.Get(dest)
			if !live {
				continue
			}

			entry.AddReplica(dest)
			node.Files[s.File] = struct{}{}
		}
	}

	node, live := c.st.members.Get(id)

	for _, f := range in.Removes {
		if entry, ok := c.st.files.Get(f); ok {
			entry.RemoveReplica(id)
		}

		if live {
			delete(node.Files, f)
		}
	}

	// Expected inventories after the instruction; the next LIST reports drift from these.
	for _, n := range c.st.members.List() {
		n.Digest = cluster.InventoryDigest(n.FileNames())
	}
}

// inventory records a node's LIST reply. Only the answer to the latest request, arriving
// while inventories are collected, is used; late answers to an earlier cycle are dropped.
func (c *Coordinator) inventory(id cluster.NodeID, files []string) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	n, ok := c.st.members.Get(id)
	if !ok || n.PendingLists == 0 {
		c.log.Debug().Stringer("node", id).Msg("unsolicited inventory")

		return
	}

	n.PendingLists--

	if n.PendingLists > 0 || c.st.cycle == nil || c.st.phase != PhaseCollectingInventory {
		c.log.Debug().Stringer("node", id).Int("pending", n.PendingLists).Msg("stale inventory dropped")

		return
	}

	changed := c.st.members.SetInventory(id, files)

	if !c.st.cycle.listed[id] {
		c.st.cycle.listed[id] = true

		if changed {
			c.st.cycle.drift++
		}
	}

	c.st.notifyLocked()
}

// rebalanceComplete records a REBALANCE_COMPLETE from a node.
func (c *Coordinator) rebalanceComplete(id cluster.NodeID) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if c.st.cycle == nil || c.st.phase != PhaseDispatching {
		c.log.Debug().Stringer("node", id).Msg("stray rebalance completion")

		return
	}

	c.st.cycle.completed[id] = true
	c.st.notifyLocked()
}
