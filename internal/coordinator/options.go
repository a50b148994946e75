package coordinator

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplication sets the replication factor R (min 1).
func WithReplication(r int) Option {
	return func(c *Coordinator) {
		if r > 0 {
			c.replication = r
		}
	}
}

// WithTimeout sets the bound of every quorum, inventory and completion wait.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRebalancePeriod sets the pause between rebalance cycles. Zero disables the
// periodic loop; cycles then run only through Rebalance.
func WithRebalancePeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.rebalancePeriod = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithListenAddr sets the address ListenAndServe binds to.
func WithListenAddr(addr string) Option {
	return func(c *Coordinator) {
		if addr != "" {
			c.listenAddr = addr
		}
	}
}
