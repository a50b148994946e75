// Package index holds the coordinator's replica index: per-file lifecycle state,
// size and the set of nodes confirmed to hold a valid replica, plus the pending
// acknowledgement records of in-flight store and remove operations.
//
// Like cluster.Membership, an Index is not safe for concurrent use on its own; the
// coordinator owns it under a single lock.
package index

import (
	"slices"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// FileState is the lifecycle state of an indexed file. Absence from the index means
// the file does not exist or was fully removed.
type FileState int

// File states.
const (
	StoreInProgress FileState = iota + 1
	Stored
	RemoveInProgress
)

func (s FileState) String() string {
	switch s {
	case StoreInProgress:
		return "store_in_progress"
	case Stored:
		return "stored"
	case RemoveInProgress:
		return "remove_in_progress"
	}

	return "unknown"
}

// Entry is one indexed file.
type Entry struct {
	Name     string
	Size     int64
	State    FileState
	Replicas []cluster.NodeID
}

// HasReplica reports whether id is in the replica set.
func (e *Entry) HasReplica(id cluster.NodeID) bool { return slices.Contains(e.Replicas, id) }

// AddReplica appends id unless already present.
func (e *Entry) AddReplica(id cluster.NodeID) bool {
	if e.HasReplica(id) {
		return false
	}

	e.Replicas = append(e.Replicas, id)

	return true
}

// RemoveReplica drops id from the replica set.
func (e *Entry) RemoveReplica(id cluster.NodeID) bool {
	i := slices.Index(e.Replicas, id)
	if i < 0 {
		return false
	}

	e.Replicas = slices.Delete(e.Replicas, i, i+1)

	return true
}

// Clone returns a deep copy, safe to hand out of the coordinator lock.
func (e *Entry) Clone() Entry {
	cp := *e
	cp.Replicas = slices.Clone(e.Replicas)

	return cp
}

// Index maps file names to entries and pending operations.
type Index struct {
	files   map[string]*Entry
	pending map[string]*Pending
}

// New returns an empty index.
func New() *Index {
	return &Index{files: map[string]*Entry{}, pending: map[string]*Pending{}}
}

// Get returns the entry for name.
func (ix *Index) Get(name string) (*Entry, bool) {
	e, ok := ix.files[name]

	return e, ok
}

// Insert registers name in the given state with an empty replica set.
// It fails with ErrAlreadyExists if name is indexed in any state.
func (ix *Index) Insert(name string, state FileState) (*Entry, error) {
	if _, ok := ix.files[name]; ok {
		return nil, ewrap.Wrap(sentinel.ErrAlreadyExists, name)
	}

	e := &Entry{Name: name, State: state}
	ix.files[name] = e

	return e, nil
}

// Delete drops name and any pending operation for it.
func (ix *Index) Delete(name string) {
	delete(ix.files, name)
	delete(ix.pending, name)
}

// Len returns the number of indexed files, in any state.
func (ix *Index) Len() int { return len(ix.files) }

// Names returns the names of files in state, ascending.
func (ix *Index) Names(state FileState) []string {
	out := make([]string, 0, len(ix.files))

	for name, e := range ix.files {
		if e.State == state {
			out = append(out, name)
		}
	}

	slices.Sort(out)

	return out
}

// Entries returns copies of all entries, ascending by name.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.files))
	for _, e := range ix.files {
		out = append(out, e.Clone())
	}

	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}

		return 0
	})

	return out
}

// PurgeNode removes id from every replica set and returns how many sets changed.
func (ix *Index) PurgeNode(id cluster.NodeID) int {
	changed := 0

	for _, e := range ix.files {
		if e.RemoveReplica(id) {
			changed++
		}
	}

	return changed
}

// HeldCount returns the number of files whose replica set includes id.
func (ix *Index) HeldCount(id cluster.NodeID) int {
	n := 0

	for _, e := range ix.files {
		if e.HasReplica(id) {
			n++
		}
	}

	return n
}

// Holds reports whether id is in name's replica set.
func (ix *Index) Holds(name string, id cluster.NodeID) bool {
	e, ok := ix.files[name]

	return ok && e.HasReplica(id)
}

// StartPending records an operation on name waiting for target acknowledgements
// from the allowed nodes. A nil allowed list accepts any node.
func (ix *Index) StartPending(name string, target int, allowed []cluster.NodeID) *Pending {
	p := newPending(name, target, allowed)
	ix.pending[name] = p

	return p
}

// Pending returns the in-flight operation for name.
func (ix *Index) Pending(name string) (*Pending, bool) {
	p, ok := ix.pending[name]

	return p, ok
}

// FinishPending discards the pending record for name.
func (ix *Index) FinishPending(name string) { delete(ix.pending, name) }

// PendingCount returns the number of in-flight store and remove operations.
func (ix *Index) PendingCount() int { return len(ix.pending) }
