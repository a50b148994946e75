// Package coordinator implements the storage coordinator: node membership, quorum
// store and remove, load candidate selection and the periodic rebalance cycle.
//
// Every piece of mutable state lives in one state object behind one mutex. Waiters
// (quorum waits, the rebalance drain, operations blocked by a running rebalance) sleep
// on a broadcast channel that is closed whenever the state changes, bounded by a timer
// whose deadline is taken once when the wait starts.
package coordinator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/session"
)

// Location is where a client fetches a file from.
type Location struct {
	Port cluster.NodeID
	Size int64
}

// Coordinator is the single source of truth for placement, membership and replica
// health.
type Coordinator struct {
	replication     int
	timeout         time.Duration
	rebalancePeriod time.Duration
	listenAddr      string
	log             zerolog.Logger

	st      *state
	metrics metrics
	latency latencyCollector

	lastReportMu sync.Mutex
	lastReport   *Report

	sessMu   sync.Mutex
	sessions map[*session.Session]struct{}
	ln       net.Listener
	wg       sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a coordinator and starts the periodic rebalance loop.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		replication:     constants.DefaultReplication,
		timeout:         constants.DefaultTimeout,
		rebalancePeriod: constants.DefaultRebalancePeriod,
		listenAddr:      constants.DefaultListenAddr,
		log:             zerolog.Nop(),
		sessions:        map[*session.Session]struct{}{},
		stopCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.replication < 1 {
		return nil, sentinel.ErrInvalidReplication
	}

	if c.timeout <= 0 {
		return nil, sentinel.ErrInvalidTimeout
	}

	c.st = newState(c.replication)

	if c.rebalancePeriod > 0 {
		c.wg.Add(1)

		go c.rebalanceLoop()
	}

	return c, nil
}

// Replication returns R.
func (c *Coordinator) Replication() int { return c.replication }

// Timeout returns the operation timeout.
func (c *Coordinator) Timeout() time.Duration { return c.timeout }

// RebalancePeriod returns the pause between cycles.
func (c *Coordinator) RebalancePeriod() time.Duration { return c.rebalancePeriod }

// ListenAddr returns the configured listen address, or the bound one once serving.
func (c *Coordinator) ListenAddr() string {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if c.ln != nil {
		return c.ln.Addr().String()
	}

	return c.listenAddr
}

// Ready reports whether client operations are accepted.
func (c *Coordinator) Ready() bool {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()

	return c.st.members.Ready()
}

// ListenAndServe binds the configured address and serves connections until Stop.
func (c *Coordinator) ListenAndServe(h Handler) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(context.Background(), "tcp", c.listenAddr)
	if err != nil {
		return ewrap.Wrap(err, "coordinator listen")
	}

	return c.Serve(ln, h)
}

// Serve accepts connections on ln, one goroutine per connection. Client requests are
// dispatched to h; a nil h dispatches to the coordinator itself. It returns nil once
// Stop closes the listener.
func (c *Coordinator) Serve(ln net.Listener, h Handler) error {
	if h == nil {
		h = c
	}

	c.sessMu.Lock()
	c.ln = ln
	c.sessMu.Unlock()

	c.log.Info().Str("addr", ln.Addr().String()).Int("replication", c.replication).
		Dur("timeout", c.timeout).Msg("coordinator listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return ewrap.Wrap(err, "coordinator accept")
		}

		sess := session.New(conn)

		c.sessMu.Lock()
		c.sessions[sess] = struct{}{}
		c.sessMu.Unlock()

		c.wg.Add(1)

		go func() {
			defer c.wg.Done()

			c.handleSession(sess, h)

			c.sessMu.Lock()
			delete(c.sessions, sess)
			c.sessMu.Unlock()
		}()
	}
}

// Stop stops the rebalance loop, closes the listener and every session, and waits for
// their goroutines until ctx is done.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)

		c.sessMu.Lock()
		if c.ln != nil {
			_ = c.ln.Close()
		}

		for sess := range c.sessions {
			_ = sess.Close()
		}
		c.sessMu.Unlock()
	})

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return sentinel.ErrTimeoutOrCanceled
	}
}

// stopContext returns a context canceled when the coordinator stops.
func (c *Coordinator) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
