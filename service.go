package hyperstore

import (
	"context"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/coordinator"
)

// NodeID identifies a storage node by its listening port.
type NodeID = cluster.NodeID

// Location is where a client fetches a file from.
type Location = coordinator.Location

// Service is the client facing surface of the coordinator.
// It enables middleware to be added to the service.
type Service interface {
	// Store registers file and calls announce with the chosen storage nodes, then waits
	// until every one of them acknowledged its copy.
	Store(ctx context.Context, file string, size int64, announce func(targets []NodeID) error) error
	// Load returns the first replica holder of file and remembers the others for client.
	Load(ctx context.Context, client, file string) (Location, error)
	// Reload returns the next remembered replica holder.
	Reload(ctx context.Context, client, file string) (Location, error)
	// Remove deletes file from every storage node and from the index.
	Remove(ctx context.Context, file string) error
	// List returns the stored file names in ascending order.
	List(ctx context.Context) ([]string, error)
}

// Middleware describes a service middleware.
type Middleware func(Service) Service

// ApplyMiddleware applies middlewares to a service.
func ApplyMiddleware(svc Service, mw ...Middleware) Service {
	// Apply each middleware in the chain
	for _, m := range mw {
		svc = m(svc)
	}
	// Return the decorated service
	return svc
}
