package hyperstore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/coordinator"
)

// Config wraps every setting needed to run a coordinator with its management API.
type Config struct {
	// Replication is R, the number of storage nodes each file lives on.
	Replication int
	// Timeout bounds quorum, inventory and rebalance completion waits.
	Timeout time.Duration
	// RebalancePeriod is the pause between rebalance cycles; zero disables the loop.
	RebalancePeriod time.Duration
	// ListenAddr is the protocol listen address for clients and storage nodes.
	ListenAddr string
	// ManagementAddr is the management HTTP address; empty disables the API.
	ManagementAddr string
	// ManagementOptions configure the management HTTP server.
	ManagementOptions []ManagementHTTPOption
	// RebalanceTriggerInterval is the minimum spacing of manual rebalance triggers.
	RebalanceTriggerInterval time.Duration
	// SnapshotFormat is the serializer used when /cluster/snapshot has no format query.
	SnapshotFormat string
	// Logger receives structured logs.
	Logger zerolog.Logger
}

// Defaults returns a Config with safe initial values.
func Defaults() Config {
	return Config{
		Replication:              constants.DefaultReplication,
		Timeout:                  constants.DefaultTimeout,
		RebalancePeriod:          constants.DefaultRebalancePeriod,
		ListenAddr:               constants.DefaultListenAddr,
		RebalanceTriggerInterval: constants.DefaultRebalanceTriggerInterval,
		SnapshotFormat:           constants.DefaultSnapshotFormat,
		Logger:                   zerolog.Nop(),
	}
}

// coordinatorOptions maps the config onto coordinator options.
func (c Config) coordinatorOptions() []coordinator.Option {
	return []coordinator.Option{
		coordinator.WithReplication(c.Replication),
		coordinator.WithTimeout(c.Timeout),
		coordinator.WithRebalancePeriod(c.RebalancePeriod),
		coordinator.WithListenAddr(c.ListenAddr),
		coordinator.WithLogger(c.Logger),
	}
}
