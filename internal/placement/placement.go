// Package placement ranks storage nodes by store factor and picks replica targets.
//
// The store factor of a node is R × (files it holds) / N. Ties keep the view's node
// order, which is ascending port; the ranking is otherwise not stable across views.
package placement

import (
	"slices"

	"github.com/hyp3rd/hyperstore/internal/cluster"
)

// View is the placement state the selector reads. The coordinator serves it from the
// live replica index; the rebalance planner serves a projection that changes as moves
// are chosen.
type View interface {
	// Nodes returns live node ids in ascending port order.
	Nodes() []cluster.NodeID
	// Held returns the number of files id is a replica holder of.
	Held(id cluster.NodeID) int
	// Holds reports whether id holds file or is otherwise not eligible to receive it.
	Holds(file string, id cluster.NodeID) bool
	// Replication returns R.
	Replication() int
}

// Factor computes the store factor of id in v.
func Factor(v View, id cluster.NodeID) float64 {
	n := len(v.Nodes())
	if n == 0 {
		return 0
	}

	return float64(v.Replication()*v.Held(id)) / float64(n)
}

// Rank returns node ids ascending by store factor.
func Rank(v View) []cluster.NodeID {
	ids := slices.Clone(v.Nodes())

	factors := make(map[cluster.NodeID]float64, len(ids))
	for _, id := range ids {
		factors[id] = Factor(v, id)
	}

	slices.SortStableFunc(ids, func(a, b cluster.NodeID) int {
		switch {
		case factors[a] < factors[b]:
			return -1
		case factors[a] > factors[b]:
			return 1
		}

		return 0
	})

	return ids
}

// ChooseTargets returns up to count nodes with the lowest store factor.
func ChooseTargets(v View, count int) []cluster.NodeID {
	return firstN(Rank(v), count)
}

// ChooseTargetsFor is ChooseTargets restricted to nodes that do not hold file.
func ChooseTargetsFor(v View, file string, count int) []cluster.NodeID {
	ranked := Rank(v)

	eligible := ranked[:0]
	for _, id := range ranked {
		if !v.Holds(file, id) {
			eligible = append(eligible, id)
		}
	}

	return firstN(eligible, count)
}

func firstN(ids []cluster.NodeID, count int) []cluster.NodeID {
	if count <= 0 {
		return nil
	}

	if count < len(ids) {
		ids = ids[:count]
	}

	return slices.Clone(ids)
}
