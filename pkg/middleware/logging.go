// Package middleware provides hyperstore.Service decorators: structured logging,
// OpenTelemetry metrics and OpenTelemetry tracing.
package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/telemetry/attrs"
)

// LoggingMiddleware logs every call with its arguments, outcome and duration.
// Must implement the hyperstore.Service interface.
type LoggingMiddleware struct {
	next   hyperstore.Service
	logger zerolog.Logger
}

// NewLoggingMiddleware returns a new LoggingMiddleware.
func NewLoggingMiddleware(next hyperstore.Service, logger zerolog.Logger) hyperstore.Service {
	return &LoggingMiddleware{next: next, logger: logger}
}

// Store logs the time it takes to reach the store quorum.
func (mw LoggingMiddleware) Store(ctx context.Context, file string, size int64, announce func([]hyperstore.NodeID) error) error {
	var (
		targets []hyperstore.NodeID
		err     error
	)

	defer func(begin time.Time) {
		mw.done(begin, "Store", err).Str(attrs.AttrFileName, file).Int64(attrs.AttrFileSize, size).
			Ints("targets", toInts(targets)).Msg("method Store returned")
	}(time.Now())

	err = mw.next.Store(ctx, file, size, func(t []hyperstore.NodeID) error {
		targets = t

		return announce(t)
	})

	return err
}

// Load logs the replica handed out and the time it took.
func (mw LoggingMiddleware) Load(ctx context.Context, client, file string) (hyperstore.Location, error) {
	var (
		loc hyperstore.Location
		err error
	)

	defer func(begin time.Time) {
		mw.done(begin, "Load", err).Str(attrs.AttrFileName, file).Str("client", client).
			Int(attrs.AttrNodePort, int(loc.Port)).Msg("method Load returned")
	}(time.Now())

	loc, err = mw.next.Load(ctx, client, file)

	return loc, err
}

// Reload logs the next replica handed out and the time it took.
func (mw LoggingMiddleware) Reload(ctx context.Context, client, file string) (hyperstore.Location, error) {
	var (
		loc hyperstore.Location
		err error
	)

	defer func(begin time.Time) {
		mw.done(begin, "Reload", err).Str(attrs.AttrFileName, file).Str("client", client).
			Int(attrs.AttrNodePort, int(loc.Port)).Msg("method Reload returned")
	}(time.Now())

	loc, err = mw.next.Reload(ctx, client, file)

	return loc, err
}

// Remove logs the time it takes to reach the remove quorum.
func (mw LoggingMiddleware) Remove(ctx context.Context, file string) error {
	var err error

	defer func(begin time.Time) {
		mw.done(begin, "Remove", err).Str(attrs.AttrFileName, file).Msg("method Remove returned")
	}(time.Now())

	err = mw.next.Remove(ctx, file)

	return err
}

// List logs the number of stored files.
func (mw LoggingMiddleware) List(ctx context.Context) ([]string, error) {
	var (
		files []string
		err   error
	)

	defer func(begin time.Time) {
		mw.done(begin, "List", err).Int(attrs.AttrFilesCount, len(files)).Msg("method List returned")
	}(time.Now())

	files, err = mw.next.List(ctx)

	return files, err
}

// done starts the completion event; failures are logged at warn level.
func (mw LoggingMiddleware) done(begin time.Time, method string, err error) *zerolog.Event {
	ev := mw.logger.Debug()
	if err != nil {
		ev = mw.logger.Warn().Err(err)
	}

	return ev.Str("method", method).Dur("took", time.Since(begin))
}

func toInts(ids []hyperstore.NodeID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}

	return out
}
