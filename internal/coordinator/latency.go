package coordinator

import (
	"sync/atomic"
	"time"
)

// op is a measured coordinator operation.
type op int

const (
	opStore op = iota
	opRemove
	opLoad
	opRebalance
	opCount
)

var opNames = [opCount]string{"store", "remove", "load", "rebalance"}

// latencyBuckets are fixed upper bounds in nanoseconds. Quorum waits are network
// round trips plus a client upload, so the range starts higher than a cache would.
//
//nolint:gochecknoglobals,mnd // bucket constants intentionally centralized
var latencyBuckets = [...]int64{
	int64(500 * time.Microsecond),
	int64(1 * time.Millisecond),
	int64(5 * time.Millisecond),
	int64(10 * time.Millisecond),
	int64(25 * time.Millisecond),
	int64(50 * time.Millisecond),
	int64(100 * time.Millisecond),
	int64(250 * time.Millisecond),
	int64(500 * time.Millisecond),
	int64(1 * time.Second),
	int64(2 * time.Second),
	int64(5 * time.Second),
	int64(10 * time.Second),
}

// latencyCollector keeps one lock free histogram per op.
type latencyCollector struct {
	// buckets[op][bucket]; the last bucket is +Inf
	buckets [opCount][len(latencyBuckets) + 1]atomic.Uint64
}

func (c *latencyCollector) observe(o op, d time.Duration) {
	ns := d.Nanoseconds()
	for i, ub := range latencyBuckets {
		if ns <= ub {
			c.buckets[o][i].Add(1)

			return
		}
	}

	c.buckets[o][len(latencyBuckets)].Add(1)
}

// snapshot returns bucket counts keyed by op name.
func (c *latencyCollector) snapshot() map[string][]uint64 {
	out := make(map[string][]uint64, opCount)

	for o := range opCount {
		counts := make([]uint64, len(latencyBuckets)+1)
		for b := range counts {
			counts[b] = c.buckets[o][b].Load()
		}

		out[opNames[o]] = counts
	}

	return out
}

// LatencyBuckets returns the histogram upper bounds; counts carry one extra +Inf bucket.
func LatencyBuckets() []time.Duration {
	out := make([]time.Duration, len(latencyBuckets))
	for i, ns := range latencyBuckets {
		out[i] = time.Duration(ns)
	}

	return out
}
