// Package rebalance computes the per-node correction plan of one rebalance cycle from
// the inventories the nodes reported.
package rebalance

import (
	"cmp"
	"slices"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/placement"
	"github.com/hyp3rd/hyperstore/internal/protocol"
)

// Input is the state a plan is computed from.
type Input struct {
	Replication int
	// Nodes are the live node ids.
	Nodes []cluster.NodeID
	// Stored are the names the index holds in the Stored state.
	Stored []string
	// Inventory is each node's reported file set.
	Inventory map[cluster.NodeID][]string
}

// Send pushes File from the instructed node to Dests.
type Send struct {
	File  string
	Dests []cluster.NodeID
}

// Instruction is one node's share of a plan.
type Instruction struct {
	Sends   []Send
	Removes []string
}

// Empty reports whether the instruction carries no work.
func (in *Instruction) Empty() bool { return len(in.Sends) == 0 && len(in.Removes) == 0 }

// Message encodes the instruction as a REBALANCE line.
func (in *Instruction) Message() protocol.Rebalance {
	msg := protocol.Rebalance{Removes: slices.Clone(in.Removes)}

	for _, s := range in.Sends {
		dests := make([]int, len(s.Dests))
		for i, d := range s.Dests {
			dests[i] = int(d)
		}

		msg.Sends = append(msg.Sends, protocol.Transfer{File: s.File, Dests: dests})
	}

	return msg
}

func (in *Instruction) send(file string, dest cluster.NodeID) {
	for i := range in.Sends {
		if in.Sends[i].File == file {
			in.Sends[i].Dests = append(in.Sends[i].Dests, dest)

			return
		}
	}

	in.Sends = append(in.Sends, Send{File: file, Dests: []cluster.NodeID{dest}})
}

func (in *Instruction) remove(file string) {
	if !slices.Contains(in.Removes, file) {
		in.Removes = append(in.Removes, file)
	}
}

// Plan is the outcome of Compute.
type Plan struct {
	// Instructions holds one entry per live node, possibly empty.
	Instructions map[cluster.NodeID]*Instruction
	// Holders is the replica set of every surviving Stored file as reported.
	Holders map[string][]cluster.NodeID
	// Lost are Stored files no node reported; there is nothing to copy them from.
	Lost []string
	// Garbage counts files removed because the index does not know them.
	Garbage int
	// Copies counts replica additions for under-replicated files.
	Copies int
	// Trimmed counts surplus replicas removed from over-replicated files.
	Trimmed int
	// Moves counts relocations off overloaded nodes.
	Moves int
	// Ceiling is the fair-share bound ⌈R×F/N⌉ used for relocation.
	Ceiling int
}

// Instruction returns id's instruction.
func (p *Plan) Instruction(id cluster.NodeID) *Instruction {
	in, ok := p.Instructions[id]
	if !ok {
		in = &Instruction{}
		p.Instructions[id] = in
	}

	return in
}

// Compute derives a plan. Decisions are taken in this order: garbage removal, lost
// files, replica deficits, surplus replicas, then relocation off nodes above the
// fair-share ceiling.
// Each decision updates the projected placement later decisions read.
func Compute(in Input) *Plan {
	nodes := slices.Clone(in.Nodes)
	slices.Sort(nodes)

	plan := &Plan{
		Instructions: make(map[cluster.NodeID]*Instruction, len(nodes)),
		Holders:      map[string][]cluster.NodeID{},
	}

	for _, id := range nodes {
		plan.Instruction(id)
	}

	stored := make(map[string]struct{}, len(in.Stored))
	for _, f := range in.Stored {
		stored[f] = struct{}{}
	}

	proj := newProjection(in.Replication, nodes)

	for _, id := range nodes {
		files := slices.Clone(in.Inventory[id])
		slices.Sort(files)

		for _, f := range files {
			if _, ok := stored[f]; !ok {
				plan.Instruction(id).remove(f)
				plan.Garbage++

				continue
			}

			proj.add(f, id)
		}
	}

	names := slices.Clone(in.Stored)
	slices.Sort(names)

	live := names[:0]
	for _, f := range names {
		if len(proj.holders[f]) == 0 {
			plan.Lost = append(plan.Lost, f)

			continue
		}

		plan.Holders[f] = slices.Clone(proj.holders[f])
		live = append(live, f)
	}

	want := min(in.Replication, len(nodes))

	for _, f := range live {
		deficit := want - len(proj.holders[f])
		if deficit <= 0 {
			continue
		}

		source := firstRanked(proj, plan.Holders[f])

		for _, dest := range placement.ChooseTargetsFor(proj, f, deficit) {
			plan.Instruction(source).send(f, dest)
			proj.add(f, dest)
			plan.Copies++
		}
	}

	for _, f := range live {
		for _, id := range trimCandidates(proj, f, len(proj.holders[f])-in.Replication) {
			plan.Instruction(id).remove(f)
			proj.drop(f, id)
			plan.Trimmed++
		}
	}

	if len(nodes) == 0 {
		return plan
	}

	plan.Ceiling = ceilDiv(in.Replication*len(live), len(nodes))

	for _, id := range nodes {
		// Only replicas the node already has on disk can be moved off it.
		for _, f := range live {
			if proj.held[id] <= plan.Ceiling {
				break
			}

			if !slices.Contains(plan.Holders[f], id) || !proj.has(f, id) {
				continue
			}

			dests := placement.ChooseTargetsFor(proj, f, 1)
			if len(dests) == 0 || proj.held[dests[0]] >= plan.Ceiling {
				continue
			}

			plan.Instruction(id).send(f, dests[0])
			plan.Instruction(id).remove(f)
			proj.add(f, dests[0])
			proj.drop(f, id)
			plan.Moves++
		}
	}

	return plan
}

func firstRanked(proj *projection, holders []cluster.NodeID) cluster.NodeID {
	for _, id := range placement.Rank(proj) {
		if slices.Contains(holders, id) {
			return id
		}
	}

	return holders[0]
}

// trimCandidates picks the count most loaded holders of f, higher port first on ties.
func trimCandidates(proj *projection, f string, count int) []cluster.NodeID {
	if count <= 0 {
		return nil
	}

	holders := slices.Clone(proj.holders[f])
	slices.SortFunc(holders, func(a, b cluster.NodeID) int {
		if c := cmp.Compare(proj.held[b], proj.held[a]); c != 0 {
			return c
		}

		return cmp.Compare(b, a)
	})

	return holders[:count]
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// projection is the placement the plan would produce, served as a placement.View.
// A node told to remove a file is never picked as a destination for it again: nodes
// run removes after sends, so the copy would be deleted on arrival.
type projection struct {
	r       int
	nodes   []cluster.NodeID
	holders map[string][]cluster.NodeID
	dropped map[string][]cluster.NodeID
	held    map[cluster.NodeID]int
}

func newProjection(r int, nodes []cluster.NodeID) *projection {
	return &projection{
		r:       r,
		nodes:   nodes,
		holders: map[string][]cluster.NodeID{},
		dropped: map[string][]cluster.NodeID{},
		held:    make(map[cluster.NodeID]int, len(nodes)),
	}
}

func (p *projection) Nodes() []cluster.NodeID    { return p.nodes }
func (p *projection) Replication() int           { return p.r }
func (p *projection) Held(id cluster.NodeID) int { return p.held[id] }
func (p *projection) Holds(f string, id cluster.NodeID) bool {
	return p.has(f, id) || slices.Contains(p.dropped[f], id)
}

func (p *projection) has(f string, id cluster.NodeID) bool {
	return slices.Contains(p.holders[f], id)
}

func (p *projection) add(f string, id cluster.NodeID) {
	if p.has(f, id) {
		return
	}

	p.holders[f] = append(p.holders[f], id)
	p.held[id]++
}

func (p *projection) drop(f string, id cluster.NodeID) {
	i := slices.Index(p.holders[f], id)
	if i < 0 {
		return
	}

	p.holders[f] = slices.Delete(p.holders[f], i, i+1)
	p.dropped[f] = append(p.dropped[f], id)
	p.held[id]--
}
