// Package constants defines default configuration values for the hyperstore
// coordinator and storage nodes.
package constants

import "time"

const (
	// DefaultReplication is the number of storage nodes each file is replicated on.
	DefaultReplication = 3
	// DefaultTimeout bounds every quorum, inventory and rebalance completion wait.
	DefaultTimeout = 2 * time.Second
	// DefaultRebalancePeriod is the pause between two rebalance cycles.
	DefaultRebalancePeriod = 30 * time.Second
	// DefaultListenAddr is the coordinator listen address.
	DefaultListenAddr = "127.0.0.1:12345"
	// DefaultStorageDir is the folder a storage node keeps its files in.
	DefaultStorageDir = "store"
	// DefaultDialTimeout bounds node-to-node and client-to-node connection attempts.
	DefaultDialTimeout = 2 * time.Second
	// DefaultRebalanceTriggerInterval is the minimum spacing of manual rebalance triggers.
	DefaultRebalanceTriggerInterval = 5 * time.Second
	// DefaultTransferTimeout bounds one file transfer between a client or peer and a storage node.
	DefaultTransferTimeout = 30 * time.Second
	// DefaultClientTimeout bounds how long a client waits for a coordinator reply.
	DefaultClientTimeout = 10 * time.Second
	// DefaultTransferWorkers is the number of concurrent rebalance sends per storage node.
	DefaultTransferWorkers = 4
	// DefaultNodeHost is the host storage nodes are reached on; the protocol only carries ports.
	DefaultNodeHost = "127.0.0.1"
	// DefaultSnapshotFormat is the serializer used by the management snapshot endpoint.
	DefaultSnapshotFormat = "json"
)
