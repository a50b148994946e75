package client

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/coordinator"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/pkg/storagenode"
)

type testCluster struct {
	coord *coordinator.Coordinator
	addr  string
	nodes map[int]*storagenode.Node
}

func newTestCluster(t *testing.T, r, n int) *testCluster {
	t.Helper()

	coord, err := coordinator.New(
		coordinator.WithReplication(r),
		coordinator.WithTimeout(500*time.Millisecond),
		coordinator.WithRebalancePeriod(0),
	)
	assert.Nil(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)

	go func() { _ = coord.Serve(ln, nil) }()

	tc := &testCluster{coord: coord, addr: ln.Addr().String(), nodes: map[int]*storagenode.Node{}}

	t.Cleanup(func() {
		for _, node := range tc.nodes {
			_ = node.Stop(context.Background())
		}

		_ = coord.Stop(context.Background())
	})

	for range n {
		node := storagenode.New(
			storagenode.WithCoordinator(tc.addr),
			storagenode.WithDir(filepath.Join(t.TempDir(), "store")),
		)
		assert.Nil(t, node.Start(context.Background()))

		tc.nodes[node.Port()] = node
	}

	return tc
}

func (tc *testCluster) dial(t *testing.T) *Client {
	t.Helper()

	c, err := Dial(context.Background(), tc.addr)
	assert.Nil(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func (tc *testCluster) replicas(t *testing.T, file string) []cluster.NodeID {
	t.Helper()

	info, ok := tc.coord.File(file)
	assert.True(t, ok)

	return info.Replicas
}

func TestClient_StoreListLoadRemove(t *testing.T) {
	tc := newTestCluster(t, 2, 3)
	c := tc.dial(t)
	ctx := context.Background()

	assert.Nil(t, c.Store(ctx, "a.txt", []byte("hello world")))

	replicas := tc.replicas(t, "a.txt")
	assert.Equal(t, 2, len(replicas))

	for _, id := range replicas {
		files, err := tc.nodes[int(id)].Files()
		assert.Nil(t, err)
		assert.Equal(t, []string{"a.txt"}, files)
	}

	files, err := c.List(ctx)
	assert.Nil(t, err)
	assert.Equal(t, []string{"a.txt"}, files)

	data, err := c.Load(ctx, "a.txt")
	assert.Nil(t, err)
	assert.Equal(t, "hello world", string(data))

	err = c.Store(ctx, "a.txt", []byte("again"))
	assert.True(t, errors.Is(err, sentinel.ErrAlreadyExists))

	assert.Nil(t, c.Remove(ctx, "a.txt"))

	for _, node := range tc.nodes {
		files, err := node.Files()
		assert.Nil(t, err)
		assert.Equal(t, 0, len(files))
	}

	err = c.Remove(ctx, "a.txt")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))

	_, err = c.Load(ctx, "a.txt")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestClient_LoadFallsBackToNextReplica(t *testing.T) {
	tc := newTestCluster(t, 3, 3)
	c := tc.dial(t)
	ctx := context.Background()

	assert.Nil(t, c.Store(ctx, "f", []byte("payload")))

	replicas := tc.replicas(t, "f")

	first := tc.nodes[int(replicas[0])]
	assert.Nil(t, os.Remove(filepath.Join(first.Dir(), "f")))

	data, err := c.Load(ctx, "f")
	assert.Nil(t, err)
	assert.Equal(t, "payload", string(data))

	for _, id := range replicas[1:] {
		assert.Nil(t, os.Remove(filepath.Join(tc.nodes[int(id)].Dir(), "f")))
	}

	_, err = c.Load(ctx, "f")
	assert.True(t, errors.Is(err, sentinel.ErrLoadExhausted))
}

func TestClient_NotEnoughNodes(t *testing.T) {
	tc := newTestCluster(t, 3, 2)
	c := tc.dial(t)
	ctx := context.Background()

	err := c.Store(ctx, "a", []byte("x"))
	assert.True(t, errors.Is(err, sentinel.ErrNotEnoughNodes))

	_, err = c.List(ctx)
	assert.True(t, errors.Is(err, sentinel.ErrNotEnoughNodes))
}

func TestClient_StoreFileUsesBaseName(t *testing.T) {
	tc := newTestCluster(t, 1, 1)
	c := tc.dial(t)

	path := filepath.Join(t.TempDir(), "report.csv")
	assert.Nil(t, os.WriteFile(path, []byte("a,b\n"), 0o600))

	assert.Nil(t, c.StoreFile(context.Background(), path))

	files, err := c.List(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, []string{"report.csv"}, files)
}

func TestClient_StoreFailsWhenNodeVanishes(t *testing.T) {
	tc := newTestCluster(t, 1, 1)
	c := tc.dial(t)

	// Rejected or timed out, depending on when the coordinator notices the departure.
	for _, node := range tc.nodes {
		_ = node.Stop(context.Background())
	}

	err := c.Store(context.Background(), "a", []byte("x"))
	assert.True(t, err != nil)
}
