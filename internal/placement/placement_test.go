package placement

import (
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/cluster"
)

type fakeView struct {
	r     int
	nodes []cluster.NodeID
	files map[string][]cluster.NodeID
}

func (f fakeView) Nodes() []cluster.NodeID { return f.nodes }
func (f fakeView) Replication() int        { return f.r }

func (f fakeView) Held(id cluster.NodeID) int {
	n := 0

	for _, holders := range f.files {
		for _, h := range holders {
			if h == id {
				n++
			}
		}
	}

	return n
}

func (f fakeView) Holds(file string, id cluster.NodeID) bool {
	for _, h := range f.files[file] {
		if h == id {
			return true
		}
	}

	return false
}

func TestRank_TiesKeepPortOrder(t *testing.T) {
	v := fakeView{r: 3, nodes: []cluster.NodeID{4001, 4002, 4003, 4004}}

	assert.Equal(t, []cluster.NodeID{4001, 4002, 4003}, ChooseTargets(v, 3))
}

func TestRank_AscendingStoreFactor(t *testing.T) {
	v := fakeView{
		r:     2,
		nodes: []cluster.NodeID{4001, 4002, 4003},
		files: map[string][]cluster.NodeID{
			"a": {4001, 4002},
			"b": {4001, 4003},
			"c": {4001},
		},
	}

	assert.Equal(t, []cluster.NodeID{4002, 4003, 4001}, Rank(v))
	assert.Equal(t, 2.0, Factor(v, 4001))
}

func TestChooseTargetsFor_ExcludesHolders(t *testing.T) {
	v := fakeView{
		r:     3,
		nodes: []cluster.NodeID{4001, 4002, 4003, 4004},
		files: map[string][]cluster.NodeID{"a": {4001, 4003}},
	}

	assert.Equal(t, []cluster.NodeID{4002}, ChooseTargetsFor(v, "a", 1))
	assert.Equal(t, []cluster.NodeID{4002, 4004}, ChooseTargetsFor(v, "a", 5))
	assert.Equal(t, 0, len(ChooseTargetsFor(v, "a", 0)))
}

func TestChooseTargets_ShortWhenFewNodes(t *testing.T) {
	v := fakeView{r: 3, nodes: []cluster.NodeID{4001, 4002}}

	assert.Equal(t, 2, len(ChooseTargets(v, 3)))
	assert.Equal(t, 0.0, Factor(fakeView{r: 3}, 1))
}
