// Command storagenode runs a hyperstore storage node.
//
//	storagenode -addr :4001 -coordinator 127.0.0.1:12345 -timeout 2s -dir store
//
// The positional form "storagenode <port> <cport> <timeout ms> <folder>" is also
// accepted; the node then listens and dials on localhost.
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

	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/pkg/storagenode"
)

const (
	positionalArgs  = 4
	shutdownTimeout = 5 * time.Second
)

type config struct {
	addr        string
	coordinator string
	timeout     time.Duration
	dir         string
	workers     int
	verbose     bool
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "storagenode").Logger()

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid arguments")
	}

	if !cfg.verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	err = run(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage node stopped")
	}
}

func run(cfg config, logger zerolog.Logger) error {
	node := storagenode.New(
		storagenode.WithListenAddr(cfg.addr),
		storagenode.WithCoordinator(cfg.coordinator),
		storagenode.WithTimeout(cfg.timeout),
		storagenode.WithDir(cfg.dir),
		storagenode.WithTransferWorkers(cfg.workers),
		storagenode.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := node.Start(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-node.Done():
		logger.Warn().Msg("coordinator connection closed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return node.Stop(shutdownCtx)
}

func parseArgs(args []string) (config, error) {
	fs := flag.NewFlagSet("storagenode", flag.ContinueOnError)

	cfg := config{}
	fs.StringVar(&cfg.addr, "addr", "127.0.0.1:0", "listen address; its port identifies the node")
	fs.StringVar(&cfg.coordinator, "coordinator", constants.DefaultListenAddr, "coordinator address")
	fs.DurationVar(&cfg.timeout, "timeout", constants.DefaultDialTimeout, "dial and join bound")
	fs.StringVar(&cfg.dir, "dir", constants.DefaultStorageDir, "storage folder, emptied on start")
	fs.IntVar(&cfg.workers, "workers", constants.DefaultTransferWorkers, "concurrent rebalance sends")
	fs.BoolVar(&cfg.verbose, "v", false, "debug logging")

	err := fs.Parse(args)
	if err != nil {
		return cfg, ewrap.Wrap(err, "parse flags")
	}

	switch fs.NArg() {
	case 0:
		return cfg, nil
	case positionalArgs:
		return positional(cfg, fs.Args())
	default:
		return cfg, ewrap.Wrapf(sentinel.ErrMalformedCommand, "expected %d positional arguments, got %d", positionalArgs, fs.NArg())
	}
}

// positional parses "<port> <cport> <timeout ms> <folder>".
func positional(cfg config, args []string) (config, error) {
	nums := make([]int, 3)

	for i, a := range args[:3] {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			return cfg, ewrap.Wrapf(sentinel.ErrMalformedCommand, "argument %d: %q", i+1, a)
		}

		nums[i] = n
	}

	cfg.addr = net.JoinHostPort(constants.DefaultNodeHost, strconv.Itoa(nums[0]))
	cfg.coordinator = net.JoinHostPort(constants.DefaultNodeHost, strconv.Itoa(nums[1]))
	cfg.timeout = time.Duration(nums[2]) * time.Millisecond
	cfg.dir = args[3]

	return cfg, nil
}
