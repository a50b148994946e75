package cluster

import (
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hyp3rd/hyperstore/internal/protocol"
)

// NodeID identifies a storage node by the port it listens on.
type NodeID int

func (id NodeID) String() string { return strconv.Itoa(int(id)) }

// Handle is the coordinator's outbound channel to a node.
type Handle interface {
	Send(msg protocol.Message) error
	Close() error
}

// Node holds identity and the coordinator's view of a storage node.
type Node struct {
	ID       NodeID
	Handle   Handle
	JoinedAt time.Time

	// Files is the node's last reported inventory.
	Files map[string]struct{}
	// Digest is the xxhash digest of the last reported inventory.
	Digest        uint64
	LastInventory time.Time
	// PendingLists counts LIST requests the node has not answered yet. Replies arrive in
	// request order, so only the one that brings it to zero is current.
	PendingLists int
}

// NewNode creates a node with an empty inventory.
func NewNode(id NodeID, handle Handle) *Node {
	return &Node{ID: id, Handle: handle, JoinedAt: time.Now(), Files: map[string]struct{}{}}
}

// FileNames returns the reported inventory in ascending order.
func (n *Node) FileNames() []string {
	out := make([]string, 0, len(n.Files))
	for f := range n.Files {
		out = append(out, f)
	}

	slices.Sort(out)

	return out
}

// InventoryDigest hashes a file set independently of its order.
func InventoryDigest(files []string) uint64 {
	sorted := slices.Clone(files)
	slices.Sort(sorted)

	d := xxhash.New()
	for _, f := range sorted {
		_, _ = d.WriteString(f) // digest write cannot fail
		_, _ = d.Write([]byte{0})
	}

	return d.Sum64()
}
