package rebalance

import (
	"slices"
	"strconv"
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/cluster"
)

// apply runs every instruction the way a node would, sends before removes.
func apply(in Input, plan *Plan) map[string][]cluster.NodeID {
	out := map[string][]cluster.NodeID{}
	for f, holders := range plan.Holders {
		out[f] = slices.Clone(holders)
	}

	for _, id := range in.Nodes {
		for _, s := range plan.Instructions[id].Sends {
			for _, d := range s.Dests {
				if !slices.Contains(out[s.File], d) {
					out[s.File] = append(out[s.File], d)
				}
			}
		}
	}

	for _, id := range in.Nodes {
		for _, f := range plan.Instructions[id].Removes {
			if i := slices.Index(out[f], id); i >= 0 {
				out[f] = slices.Delete(out[f], i, i+1)
			}
		}
	}

	return out
}

func assertBalanced(t *testing.T, in Input, plan *Plan) {
	t.Helper()

	after := apply(in, plan)
	want := min(in.Replication, len(in.Nodes))

	perNode := map[cluster.NodeID]int{}
	for _, holders := range after {
		assert.True(t, len(holders) >= want)
		assert.True(t, len(holders) <= in.Replication)

		for _, h := range holders {
			perNode[h]++
		}
	}

	ceiling := ceilDiv(in.Replication*len(after), len(in.Nodes))
	for _, n := range perNode {
		assert.True(t, n <= ceiling+1)
	}
}

func TestCompute_RestoresLostReplica(t *testing.T) {
	in := Input{
		Replication: 3,
		Nodes:       []cluster.NodeID{4001, 4003, 4004},
		Stored:      []string{"a.txt"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"a.txt"},
			4003: {"a.txt"},
		},
	}

	plan := Compute(in)

	assert.Equal(t, 1, plan.Copies)
	assert.Equal(t, []Send{{File: "a.txt", Dests: []cluster.NodeID{4004}}}, plan.Instructions[4001].Sends)
	assert.True(t, plan.Instructions[4003].Empty())
	assert.True(t, plan.Instructions[4004].Empty())
	assertBalanced(t, in, plan)
}

func TestCompute_GarbageAndLost(t *testing.T) {
	in := Input{
		Replication: 1,
		Nodes:       []cluster.NodeID{4001, 4002},
		Stored:      []string{"kept", "vanished"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"kept", "orphan"},
			4002: {},
		},
	}

	plan := Compute(in)

	assert.Equal(t, []string{"orphan"}, plan.Instructions[4001].Removes)
	assert.Equal(t, 1, plan.Garbage)
	assert.Equal(t, []string{"vanished"}, plan.Lost)
	_, tracked := plan.Holders["vanished"]
	assert.False(t, tracked)
	assertBalanced(t, in, plan)
}

func TestCompute_RelocatesFromOverloadedNode(t *testing.T) {
	in := Input{
		Replication: 1,
		Nodes:       []cluster.NodeID{4001, 4002, 4003},
		Stored:      []string{"a", "b", "c", "d", "e", "f"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"f", "e", "d", "c", "b", "a"},
		},
	}

	plan := Compute(in)

	assert.Equal(t, 2, plan.Ceiling)
	assert.Equal(t, 4, plan.Moves)
	assert.Equal(t, []string{"a", "b", "c", "d"}, plan.Instructions[4001].Removes)
	assert.Equal(t, []Send{
		{File: "a", Dests: []cluster.NodeID{4002}},
		{File: "b", Dests: []cluster.NodeID{4003}},
		{File: "c", Dests: []cluster.NodeID{4002}},
		{File: "d", Dests: []cluster.NodeID{4003}},
	}, plan.Instructions[4001].Sends)
	assertBalanced(t, in, plan)
}

func TestCompute_NewNodeTakesFairShare(t *testing.T) {
	in := Input{
		Replication: 2,
		Nodes:       []cluster.NodeID{4001, 4002, 4003, 4004},
		Stored:      []string{"f0", "f1", "f2", "f3", "f4", "f5"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"f0", "f2", "f3", "f5"},
			4002: {"f0", "f1", "f3", "f4"},
			4003: {"f1", "f2", "f4", "f5"},
		},
	}

	plan := Compute(in)

	assert.Equal(t, 3, plan.Ceiling)
	assert.Equal(t, 0, plan.Copies)
	assert.Equal(t, 3, plan.Moves)

	after := apply(in, plan)
	held := 0
	for _, holders := range after {
		assert.Equal(t, 2, len(holders))

		if slices.Contains(holders, 4004) {
			held++
		}
	}

	assert.Equal(t, 3, held)
	assertBalanced(t, in, plan)
}

func TestCompute_DeficitCappedByLiveNodes(t *testing.T) {
	in := Input{
		Replication: 2,
		Nodes:       []cluster.NodeID{4001, 4003},
		Stored:      []string{"a", "b"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"a"},
			4003: {"b"},
		},
	}

	plan := Compute(in)

	assert.Equal(t, 2, plan.Copies)
	assert.Equal(t, []Send{{File: "a", Dests: []cluster.NodeID{4003}}}, plan.Instructions[4001].Sends)
	assert.Equal(t, []Send{{File: "b", Dests: []cluster.NodeID{4001}}}, plan.Instructions[4003].Sends)
	assertBalanced(t, in, plan)
}

func TestCompute_TrimsSurplusReplicas(t *testing.T) {
	in := Input{
		Replication: 2,
		Nodes:       []cluster.NodeID{4001, 4002, 4003, 4004},
		Stored:      []string{"a.txt"},
		Inventory: map[cluster.NodeID][]string{
			4001: {"a.txt"},
			4002: {"a.txt"},
			4003: {"a.txt"},
		},
	}

	plan := Compute(in)

	assert.Equal(t, 1, plan.Trimmed)
	assert.Equal(t, 0, plan.Moves)
	assert.Equal(t, []string{"a.txt"}, plan.Instructions[4003].Removes)

	for _, id := range in.Nodes {
		assert.Equal(t, 0, len(plan.Instructions[id].Sends))
	}

	assert.Equal(t, []cluster.NodeID{4001, 4002}, apply(in, plan)["a.txt"])
	assertBalanced(t, in, plan)
}

func TestCompute_TrimsBeforeRelocating(t *testing.T) {
	in := Input{
		Replication: 2,
		Nodes:       []cluster.NodeID{4001, 4002, 4003, 4004, 4005},
		Inventory:   map[cluster.NodeID][]string{},
	}

	for i := range 10 {
		in.Stored = append(in.Stored, "f"+strconv.Itoa(i))
	}

	for _, id := range in.Nodes[:4] {
		in.Inventory[id] = slices.Clone(in.Stored)
	}

	plan := Compute(in)

	assert.Equal(t, 20, plan.Trimmed)
	assert.Equal(t, 4, plan.Ceiling)

	// a node dropping a file never receives it in the same plan
	for _, id := range in.Nodes {
		for _, s := range plan.Instructions[id].Sends {
			for _, d := range s.Dests {
				assert.False(t, slices.Contains(plan.Instructions[d].Removes, s.File))
			}
		}
	}

	assertBalanced(t, in, plan)
}

func TestInstruction_Message(t *testing.T) {
	in := &Instruction{
		Sends:   []Send{{File: "a.txt", Dests: []cluster.NodeID{4001, 4002}}},
		Removes: []string{"b.txt"},
	}

	assert.Equal(t, "REBALANCE 1 a.txt 2 4001 4002 1 b.txt", in.Message().String())
	assert.Equal(t, "REBALANCE 0 0", (&Instruction{}).Message().String())
}
