package coordinator

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/index"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Load returns the first replica holder of file and remembers the others as reload
// candidates for client. A fresh Load replaces any earlier candidates.
func (c *Coordinator) Load(ctx context.Context, client, file string) (Location, error) {
	start := time.Now()
	defer func() { c.latency.observe(opLoad, time.Since(start)) }()

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	err := c.admitLocked(ctx)
	if err != nil {
		return Location{}, err
	}

	atomic.AddInt64(&c.metrics.loads, 1)

	entry, ok := c.st.files.Get(file)
	if !ok || entry.State != index.Stored {
		return Location{}, ewrap.Wrap(sentinel.ErrNotFound, file)
	}

	key := loadKey{client: client, file: file}

	candidates := slices.Clone(entry.Replicas)
	if len(candidates) == 0 {
		delete(c.st.loads, key)
		atomic.AddInt64(&c.metrics.loadsExhausted, 1)

		return Location{}, ewrap.Wrap(sentinel.ErrLoadExhausted, file)
	}

	c.st.loads[key] = candidates[1:]

	return Location{Port: candidates[0], Size: entry.Size}, nil
}

// Reload hands out the next remembered candidate of an earlier Load. Candidates whose
// node has since left are skipped.
func (c *Coordinator) Reload(ctx context.Context, client, file string) (Location, error) {
	start := time.Now()
	defer func() { c.latency.observe(opLoad, time.Since(start)) }()

	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	err := c.admitLocked(ctx)
	if err != nil {
		return Location{}, err
	}

	atomic.AddInt64(&c.metrics.reloads, 1)

	entry, ok := c.st.files.Get(file)
	if !ok || entry.State != index.Stored {
		return Location{}, ewrap.Wrap(sentinel.ErrNotFound, file)
	}

	key := loadKey{client: client, file: file}
	remaining := c.st.loads[key]

	for len(remaining) > 0 {
		next := remaining[0]
		remaining = remaining[1:]

		if c.st.members.Has(next) {
			c.st.loads[key] = remaining

			return Location{Port: next, Size: entry.Size}, nil
		}
	}

	delete(c.st.loads, key)
	atomic.AddInt64(&c.metrics.loadsExhausted, 1)

	return Location{}, ewrap.Wrap(sentinel.ErrLoadExhausted, file)
}

// List returns the stored file names in ascending order.
func (c *Coordinator) List(_ context.Context) ([]string, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	if !c.st.members.Ready() {
		atomic.AddInt64(&c.metrics.rejectedNotReady, 1)

		return nil, sentinel.ErrNotEnoughNodes
	}

	return c.st.files.Names(index.Stored), nil
}

// forgetClient drops the reload candidates of a finished client session.
func (c *Coordinator) forgetClient(client string) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	for key := range c.st.loads {
		if key.client == client {
			delete(c.st.loads, key)
		}
	}
}
