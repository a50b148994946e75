// Package hyperstore runs a replicated file storage coordinator.
//
// A HyperStore owns one coordinator, the middleware chain wrapped around its client
// facing Service, the protocol listener clients and storage nodes connect to, and an
// optional management HTTP API.
package hyperstore

import (
	"context"
	"net"
	"sync"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/coordinator"
	"github.com/hyp3rd/hyperstore/internal/libs/serializer"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// HyperStore wires a coordinator to its listeners.
type HyperStore struct {
	cfg   Config
	log   zerolog.Logger
	coord *coordinator.Coordinator
	svc   Service
	mgmt  *ManagementHTTPServer

	mu      sync.Mutex
	ln      net.Listener
	serveWg sync.WaitGroup
}

// New validates cfg, builds the coordinator and wraps it with mw in order.
func New(cfg Config, mw ...Middleware) (*HyperStore, error) {
	if cfg.Replication < 1 {
		return nil, sentinel.ErrInvalidReplication
	}

	if cfg.Timeout <= 0 || cfg.RebalancePeriod < 0 {
		return nil, sentinel.ErrInvalidTimeout
	}

	if cfg.SnapshotFormat != "" {
		_, err := serializer.Defaults().Lookup(cfg.SnapshotFormat)
		if err != nil {
			return nil, err
		}
	}

	coord, err := coordinator.New(cfg.coordinatorOptions()...)
	if err != nil {
		return nil, ewrap.Wrap(err, "create coordinator")
	}

	hs := &HyperStore{
		cfg:   cfg,
		log:   cfg.Logger,
		coord: coord,
		svc:   ApplyMiddleware(coord, mw...),
	}

	if cfg.ManagementAddr != "" {
		opts := append([]ManagementHTTPOption{
			WithMgmtSnapshotFormat(cfg.SnapshotFormat),
			WithMgmtRebalanceInterval(cfg.RebalanceTriggerInterval),
		}, cfg.ManagementOptions...)

		hs.mgmt = NewManagementHTTPServer(cfg.ManagementAddr, opts...)
	}

	return hs, nil
}

// Coordinator exposes the underlying coordinator.
func (hs *HyperStore) Coordinator() *coordinator.Coordinator { return hs.coord }

// Service returns the middleware wrapped service.
func (hs *HyperStore) Service() Service { return hs.svc }

// Config returns the configuration the store was built with.
func (hs *HyperStore) Config() Config { return hs.cfg }

// Start binds the protocol listener and the management API, then serves in the background.
func (hs *HyperStore) Start(ctx context.Context) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.ln != nil {
		return nil
	}

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", hs.cfg.ListenAddr)
	if err != nil {
		return ewrap.Wrap(err, "coordinator listen")
	}

	if hs.mgmt != nil {
		err = hs.mgmt.Start(ctx, hs.coord)
		if err != nil {
			_ = ln.Close()

			return err
		}

		hs.log.Info().Str("addr", hs.mgmt.Address()).Msg("management api listening")
	}

	hs.ln = ln
	hs.serveWg.Add(1)

	go func() {
		defer hs.serveWg.Done()

		serveErr := hs.coord.Serve(ln, hs.svc)
		if serveErr != nil {
			hs.log.Error().Err(serveErr).Msg("coordinator serve")
		}
	}()

	return nil
}

// Addr returns the bound protocol address, empty before Start.
func (hs *HyperStore) Addr() string {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.ln == nil {
		return ""
	}

	return hs.ln.Addr().String()
}

// ManagementAddr returns the bound management address, empty when disabled.
func (hs *HyperStore) ManagementAddr() string {
	if hs.mgmt == nil {
		return ""
	}

	return hs.mgmt.Address()
}

// Stop shuts the management API and the coordinator down.
func (hs *HyperStore) Stop(ctx context.Context) error {
	var mgmtErr error
	if hs.mgmt != nil {
		mgmtErr = hs.mgmt.Shutdown(ctx)
	}

	err := hs.coord.Stop(ctx)
	if err != nil {
		return err
	}

	hs.serveWg.Wait()

	return mgmtErr
}
