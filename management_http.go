package hyperstore

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/goccy/go-json"
	fiber "github.com/gofiber/fiber/v3"
	"github.com/hyp3rd/ewrap"
	"golang.org/x/time/rate"

	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/coordinator"
	"github.com/hyp3rd/hyperstore/internal/libs/serializer"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// ManagementHTTPOption configures the management HTTP server.
type ManagementHTTPOption func(*ManagementHTTPServer)

// ManagementHTTPServer holds Fiber app and settings.
type ManagementHTTPServer struct {
	addr           string
	app            *fiber.App
	readTimeout    time.Duration
	writeTimeout   time.Duration
	authFunc       func(fiber.Ctx) error
	ln             net.Listener
	started        bool
	snapshotFormat string
	codecs         *serializer.Set
	trigger        *rate.Limiter
}

// WithMgmtAuth sets an auth function (return error to block).
func WithMgmtAuth(fn func(fiber.Ctx) error) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.authFunc = fn }
}

// WithMgmtReadTimeout sets read timeout.
func WithMgmtReadTimeout(d time.Duration) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.readTimeout = d }
}

// WithMgmtWriteTimeout sets write timeout.
func WithMgmtWriteTimeout(d time.Duration) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) { s.writeTimeout = d }
}

// WithMgmtSnapshotFormat sets the format /cluster/snapshot uses when neither a format
// query nor a known Accept type is given.
func WithMgmtSnapshotFormat(format string) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) {
		if format != "" {
			s.snapshotFormat = format
		}
	}
}

// WithMgmtRebalanceInterval sets the minimum spacing of POST /rebalance triggers.
// Zero removes the limit.
func WithMgmtRebalanceInterval(d time.Duration) ManagementHTTPOption {
	return func(s *ManagementHTTPServer) {
		if d <= 0 {
			s.trigger = rate.NewLimiter(rate.Inf, 1)

			return
		}

		s.trigger = rate.NewLimiter(rate.Every(d), 1)
	}
}

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// NewManagementHTTPServer builds an HTTP server holder (lazy start).
func NewManagementHTTPServer(addr string, opts ...ManagementHTTPOption) *ManagementHTTPServer {
	srv := &ManagementHTTPServer{
		addr:           addr,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		snapshotFormat: constants.DefaultSnapshotFormat,
		codecs:         serializer.Defaults(),
		trigger:        rate.NewLimiter(rate.Every(constants.DefaultRebalanceTriggerInterval), 1),
	}
	for _, opt := range opts { // apply options
		opt(srv)
	}

	srv.app = fiber.New(fiber.Config{
		ReadTimeout:  srv.readTimeout,
		WriteTimeout: srv.writeTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return srv
}

// managementCoordinator is the coordinator surface the API reads from.
type managementCoordinator interface {
	Replication() int
	Timeout() time.Duration
	RebalancePeriod() time.Duration
	ListenAddr() string
	Ready() bool
	Phase() coordinator.Phase
	Metrics() coordinator.Metrics
	Snapshot() coordinator.Snapshot
	File(name string) (coordinator.FileInfo, bool)
	LastReport() *coordinator.Report
	Rebalance(ctx context.Context) (*coordinator.Report, error)
}

// Start launches listener (idempotent).
func (s *ManagementHTTPServer) Start(ctx context.Context, mc managementCoordinator) error {
	if s.started { // idempotent
		return nil
	}

	s.mountRoutes(ctx, mc)

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return ewrap.Wrap(err, "mgmt listen")
	}

	s.ln = ln

	go func() { // serve errors surface as failed requests
		_ = s.app.Listener(ln)
	}()

	s.started = true

	return nil
}

// Address returns the bound address (useful when passing ":0" for ephemeral port). Empty if not started yet.
func (s *ManagementHTTPServer) Address() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *ManagementHTTPServer) Shutdown(ctx context.Context) error {
	if !s.started {
		return nil
	}

	ch := make(chan error, 1)

	go func() {
		ch <- s.app.Shutdown()
	}()

	select {
	case <-ctx.Done():
		return sentinel.ErrMgmtHTTPShutdownTimeout
	case err := <-ch:
		return err
	}
}

func (s *ManagementHTTPServer) mountRoutes(ctx context.Context, mc managementCoordinator) {
	useAuth := s.wrapAuth
	s.registerBasic(useAuth, mc)
	s.registerCluster(useAuth, mc)
	s.registerFiles(useAuth, mc)
	s.registerControl(ctx, useAuth, mc)
}

// wrapAuth returns an auth-wrapped handler if authFunc provided.
func (s *ManagementHTTPServer) wrapAuth(handler fiber.Handler) fiber.Handler { //nolint:ireturn
	if s.authFunc == nil {
		return handler
	}

	return func(fiberCtx fiber.Ctx) error {
		authErr := s.authFunc(fiberCtx)
		if authErr != nil {
			return authErr
		}

		return handler(fiberCtx)
	}
}

func (s *ManagementHTTPServer) registerBasic(useAuth func(fiber.Handler) fiber.Handler, mc managementCoordinator) {
	s.app.Get("/health", useAuth(func(fiberCtx fiber.Ctx) error {
		if !mc.Ready() {
			return fiberCtx.Status(fiber.StatusServiceUnavailable).SendString("not enough nodes")
		}

		return fiberCtx.SendString("ok")
	}))
	s.app.Get("/stats", useAuth(func(fiberCtx fiber.Ctx) error { return fiberCtx.JSON(mc.Metrics()) }))
	s.app.Get("/config", useAuth(func(fiberCtx fiber.Ctx) error {
		buckets := coordinator.LatencyBuckets()

		bounds := make([]string, len(buckets))
		for i, b := range buckets {
			bounds[i] = b.String()
		}

		return fiberCtx.JSON(fiber.Map{
			"replication":     mc.Replication(),
			"timeout":         mc.Timeout().String(),
			"rebalancePeriod": mc.RebalancePeriod().String(),
			"listenAddr":      mc.ListenAddr(),
			"snapshotFormat":  s.snapshotFormat,
			"snapshotFormats": s.codecs.Names(),
			"latencyBuckets":  bounds,
		})
	}))
}

func (s *ManagementHTTPServer) registerCluster(useAuth func(fiber.Handler) fiber.Handler, mc managementCoordinator) {
	s.app.Get("/cluster/members", useAuth(func(fiberCtx fiber.Ctx) error {
		snap := mc.Snapshot()

		return fiberCtx.JSON(fiber.Map{
			"replication": snap.Replication,
			"ready":       snap.Ready,
			"version":     snap.MembershipVersion,
			"members":     snap.Nodes,
		})
	}))
	s.app.Get("/cluster/snapshot", useAuth(func(fiberCtx fiber.Ctx) error {
		format := fiberCtx.Query("format")
		if format == "" {
			accepted, ok := s.codecs.ForAccept(fiberCtx.Get(fiber.HeaderAccept))
			if !ok {
				accepted = s.snapshotFormat
			}

			format = accepted
		}

		ser, err := s.codecs.Lookup(format)
		if err != nil {
			return fiberCtx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		data, err := ser.Marshal(mc.Snapshot())
		if err != nil {
			return fiberCtx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		fiberCtx.Set(fiber.HeaderContentType, ser.ContentType())

		return fiberCtx.Send(data)
	}))
}

func (s *ManagementHTTPServer) registerFiles(useAuth func(fiber.Handler) fiber.Handler, mc managementCoordinator) {
	s.app.Get("/files", useAuth(func(fiberCtx fiber.Ctx) error {
		files := mc.Snapshot().Files

		return fiberCtx.JSON(fiber.Map{"count": len(files), "files": files})
	}))
	s.app.Get("/files/:name", useAuth(func(fiberCtx fiber.Ctx) error {
		name := fiberCtx.Params("name")

		info, ok := mc.File(name)
		if !ok {
			return fiberCtx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": sentinel.ErrNotFound.Error(), "file": name})
		}

		return fiberCtx.JSON(info)
	}))
}

func (s *ManagementHTTPServer) registerControl(
	ctx context.Context,
	useAuth func(fiber.Handler) fiber.Handler,
	mc managementCoordinator,
) {
	s.app.Get("/rebalance", useAuth(func(fiberCtx fiber.Ctx) error {
		return fiberCtx.JSON(fiber.Map{"phase": mc.Phase().String(), "last": mc.LastReport()})
	}))
	s.app.Post("/rebalance", useAuth(func(fiberCtx fiber.Ctx) error {
		if !s.trigger.Allow() {
			return fiberCtx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": sentinel.ErrRebalanceThrottled.Error()})
		}

		report, err := mc.Rebalance(ctx)
		if err != nil {
			return fiberCtx.Status(rebalanceStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}

		return fiberCtx.JSON(report)
	}))
}

func rebalanceStatus(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrRebalanceInProgress):
		return fiber.StatusConflict
	case errors.Is(err, sentinel.ErrNotEnoughNodes):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, sentinel.ErrQuorumTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
