package coordinator

import "sync/atomic"

// metrics holds internal counters (best-effort, not snapshot consistent).
type metrics struct {
	storesStarted     int64
	storesCompleted   int64
	storeTimeouts     int64
	removesStarted    int64
	removesCompleted  int64
	removeTimeouts    int64
	loads             int64
	reloads           int64
	loadsExhausted    int64
	rejectedNotReady  int64
	acksIgnored       int64
	nodesJoined       int64
	nodesLeft         int64
	rebalanceCycles   int64
	rebalanceAborted  int64
	inventoryDrift    int64
	garbageRemoved    int64
	replicasCopied    int64
	replicasTrimmed   int64
	filesMoved        int64
	filesLost         int64
	malformedCommands int64
}

// Metrics is a snapshot of the coordinator counters.
type Metrics struct {
	StoresStarted     int64               `json:"stores_started"`
	StoresCompleted   int64               `json:"stores_completed"`
	StoreTimeouts     int64               `json:"store_timeouts"`
	RemovesStarted    int64               `json:"removes_started"`
	RemovesCompleted  int64               `json:"removes_completed"`
	RemoveTimeouts    int64               `json:"remove_timeouts"`
	Loads             int64               `json:"loads"`
	Reloads           int64               `json:"reloads"`
	LoadsExhausted    int64               `json:"loads_exhausted"`
	RejectedNotReady  int64               `json:"rejected_not_ready"`
	AcksIgnored       int64               `json:"acks_ignored"`
	NodesJoined       int64               `json:"nodes_joined"`
	NodesLeft         int64               `json:"nodes_left"`
	RebalanceCycles   int64               `json:"rebalance_cycles"`
	RebalanceAborted  int64               `json:"rebalance_aborted"`
	InventoryDrift    int64               `json:"inventory_drift"`
	GarbageRemoved    int64               `json:"garbage_removed"`
	ReplicasCopied    int64               `json:"replicas_copied"`
	ReplicasTrimmed   int64               `json:"replicas_trimmed"`
	FilesMoved        int64               `json:"files_moved"`
	FilesLost         int64               `json:"files_lost"`
	MalformedCommands int64               `json:"malformed_commands"`
	Latency           map[string][]uint64 `json:"latency"`
}

// Metrics returns a snapshot of the coordinator counters and latency histograms.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		StoresStarted:     atomic.LoadInt64(&c.metrics.storesStarted),
		StoresCompleted:   atomic.LoadInt64(&c.metrics.storesCompleted),
		StoreTimeouts:     atomic.LoadInt64(&c.metrics.storeTimeouts),
		RemovesStarted:    atomic.LoadInt64(&c.metrics.removesStarted),
		RemovesCompleted:  atomic.LoadInt64(&c.metrics.removesCompleted),
		RemoveTimeouts:    atomic.LoadInt64(&c.metrics.removeTimeouts),
		Loads:             atomic.LoadInt64(&c.metrics.loads),
		Reloads:           atomic.LoadInt64(&c.metrics.reloads),
		LoadsExhausted:    atomic.LoadInt64(&c.metrics.loadsExhausted),
		RejectedNotReady:  atomic.LoadInt64(&c.metrics.rejectedNotReady),
		AcksIgnored:       atomic.LoadInt64(&c.metrics.acksIgnored),
		NodesJoined:       atomic.LoadInt64(&c.metrics.nodesJoined),
		NodesLeft:         atomic.LoadInt64(&c.metrics.nodesLeft),
		RebalanceCycles:   atomic.LoadInt64(&c.metrics.rebalanceCycles),
		RebalanceAborted:  atomic.LoadInt64(&c.metrics.rebalanceAborted),
		InventoryDrift:    atomic.LoadInt64(&c.metrics.inventoryDrift),
		GarbageRemoved:    atomic.LoadInt64(&c.metrics.garbageRemoved),
		ReplicasCopied:    atomic.LoadInt64(&c.metrics.replicasCopied),
		ReplicasTrimmed:   atomic.LoadInt64(&c.metrics.replicasTrimmed),
		FilesMoved:        atomic.LoadInt64(&c.metrics.filesMoved),
		FilesLost:         atomic.LoadInt64(&c.metrics.filesLost),
		MalformedCommands: atomic.LoadInt64(&c.metrics.malformedCommands),
		Latency:           c.latency.snapshot(),
	}
}
