package index

import (
	"errors"
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

func TestIndex_InsertRejectsAnyState(t *testing.T) {
	ix := New()

	for _, state := range []FileState{StoreInProgress, Stored, RemoveInProgress} {
		name := state.String()

		_, err := ix.Insert(name, state)
		assert.Nil(t, err)

		_, err = ix.Insert(name, Stored)
		assert.True(t, errors.Is(err, sentinel.ErrAlreadyExists))

		e, ok := ix.Get(name)
		assert.True(t, ok)
		assert.Equal(t, state, e.State)
	}
}

func TestIndex_ReplicaBookkeeping(t *testing.T) {
	ix := New()

	a, _ := ix.Insert("a", Stored)
	b, _ := ix.Insert("b", Stored)

	assert.True(t, a.AddReplica(1))
	assert.False(t, a.AddReplica(1))
	a.AddReplica(2)
	b.AddReplica(2)

	assert.Equal(t, 2, ix.HeldCount(2))
	assert.Equal(t, 1, ix.HeldCount(1))
	assert.True(t, ix.Holds("a", 1))
	assert.False(t, ix.Holds("b", 1))

	assert.Equal(t, 2, ix.PurgeNode(2))
	assert.Equal(t, []cluster.NodeID{1}, a.Replicas)
	assert.Equal(t, 0, len(b.Replicas))

	assert.Equal(t, []string{"a", "b"}, ix.Names(Stored))

	ix.Delete("a")
	assert.Equal(t, []string{"b"}, ix.Names(Stored))
}

func TestIndex_EntriesAreCopies(t *testing.T) {
	ix := New()

	e, _ := ix.Insert("z", Stored)
	e.AddReplica(7)
	_, _ = ix.Insert("m", Stored)

	entries := ix.Entries()
	assert.Equal(t, "m", entries[0].Name)
	assert.Equal(t, "z", entries[1].Name)

	entries[1].Replicas[0] = 99
	assert.Equal(t, cluster.NodeID(7), e.Replicas[0])
}

func TestPending_AckRules(t *testing.T) {
	ix := New()

	p := ix.StartPending("f", 2, []cluster.NodeID{1, 2, 3})
	assert.Equal(t, 1, ix.PendingCount())

	assert.False(t, p.Ack(9))
	assert.True(t, p.Ack(1))
	assert.False(t, p.Ack(1))
	assert.False(t, p.Complete())
	assert.True(t, p.Ack(3))
	assert.True(t, p.Complete())
	assert.False(t, p.Ack(2))
	assert.Equal(t, 2, p.Received)

	<-p.Done()

	ix.FinishPending("f")
	assert.Equal(t, 0, ix.PendingCount())
}

func TestPending_ZeroTargetIsComplete(t *testing.T) {
	p := newPending("f", 0, nil)
	assert.True(t, p.Complete())
	assert.True(t, p.Expects(42))
}
