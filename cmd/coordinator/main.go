// Command coordinator runs the hyperstore coordinator.
//
//	coordinator -addr :12345 -r 3 -timeout 2s -rebalance 30s -mgmt :8080
//
// The positional form "coordinator <cport> <R> <timeout ms> <rebalance period s>" is
// also accepted.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/pkg/middleware"
)

const (
	positionalArgs  = 4
	shutdownTimeout = 5 * time.Second
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "coordinator").Logger()

	cfg, verbose, err := parseArgs(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid arguments")
	}

	if !verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg.Logger = logger

	err = run(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("coordinator stopped")
	}
}

func run(cfg hyperstore.Config) error {
	hs, err := hyperstore.New(cfg,
		func(next hyperstore.Service) hyperstore.Service {
			return middleware.NewLoggingMiddleware(next, cfg.Logger)
		},
		func(next hyperstore.Service) hyperstore.Service {
			mw, mwErr := middleware.NewOTelMetricsMiddleware(next, otel.Meter("hyperstore/coordinator"))
			if mwErr != nil {
				cfg.Logger.Warn().Err(mwErr).Msg("metrics middleware disabled")

				return next
			}

			return mw
		},
		func(next hyperstore.Service) hyperstore.Service {
			return middleware.NewOTelTracingMiddleware(next, otel.Tracer("hyperstore/coordinator"),
				middleware.WithCommonAttributes(attribute.String("component", "coordinator")))
		},
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = hs.Start(ctx)
	if err != nil {
		return err
	}

	cfg.Logger.Info().Str("addr", hs.Addr()).Str("mgmt", hs.ManagementAddr()).
		Int("replication", cfg.Replication).Dur("timeout", cfg.Timeout).
		Dur("rebalance_period", cfg.RebalancePeriod).Msg("coordinator started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return hs.Stop(shutdownCtx)
}

// parseArgs reads flags, or the positional form when exactly four bare arguments are given.
func parseArgs(args []string) (hyperstore.Config, bool, error) {
	cfg := hyperstore.Defaults()

	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	addr := fs.String("addr", cfg.ListenAddr, "protocol listen address")
	replication := fs.Int("r", cfg.Replication, "replication factor")
	timeout := fs.Duration("timeout", cfg.Timeout, "quorum and rebalance wait bound")
	period := fs.Duration("rebalance", cfg.RebalancePeriod, "rebalance period, 0 disables")
	mgmt := fs.String("mgmt", "", "management HTTP address, empty disables")
	format := fs.String("snapshot-format", cfg.SnapshotFormat, "default snapshot serializer")
	verbose := fs.Bool("v", false, "debug logging")

	err := fs.Parse(args)
	if err != nil {
		return cfg, false, ewrap.Wrap(err, "parse flags")
	}

	if fs.NArg() == positionalArgs {
		return positional(cfg, fs.Args(), *verbose)
	}

	if fs.NArg() != 0 {
		return cfg, false, ewrap.Wrapf(sentinel.ErrMalformedCommand, "expected %d positional arguments, got %d", positionalArgs, fs.NArg())
	}

	cfg.ListenAddr = *addr
	cfg.Replication = *replication
	cfg.Timeout = *timeout
	cfg.RebalancePeriod = *period
	cfg.ManagementAddr = *mgmt
	cfg.SnapshotFormat = *format

	return cfg, *verbose, nil
}

// positional parses "<cport> <R> <timeout ms> <rebalance period s>".
func positional(cfg hyperstore.Config, args []string, verbose bool) (hyperstore.Config, bool, error) {
	nums := make([]int, len(args))

	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			return cfg, false, ewrap.Wrapf(sentinel.ErrMalformedCommand, "argument %d: %q", i+1, a)
		}

		nums[i] = n
	}

	cfg.ListenAddr = net.JoinHostPort("", strconv.Itoa(nums[0]))
	cfg.Replication = nums[1]
	cfg.Timeout = time.Duration(nums[2]) * time.Millisecond
	cfg.RebalancePeriod = time.Duration(nums[3]) * time.Second

	return cfg, verbose, nil
}
