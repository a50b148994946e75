package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/longbridgeapp/assert"
	"github.com/rs/zerolog"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// recordingService answers from fixed values and records the calls it saw.
type recordingService struct {
	calls   []string
	targets []hyperstore.NodeID
	err     error
}

func (s *recordingService) Store(_ context.Context, file string, _ int64, announce func([]hyperstore.NodeID) error) error {
	s.calls = append(s.calls, "Store "+file)
	if s.err != nil {
		return s.err
	}

	return announce(s.targets)
}

func (s *recordingService) Load(_ context.Context, _, file string) (hyperstore.Location, error) {
	s.calls = append(s.calls, "Load "+file)

	return hyperstore.Location{Port: 4001, Size: 7}, s.err
}

func (s *recordingService) Reload(_ context.Context, _, file string) (hyperstore.Location, error) {
	s.calls = append(s.calls, "Reload "+file)

	return hyperstore.Location{Port: 4002, Size: 7}, s.err
}

func (s *recordingService) Remove(_ context.Context, file string) error {
	s.calls = append(s.calls, "Remove "+file)

	return s.err
}

func (s *recordingService) List(context.Context) ([]string, error) {
	s.calls = append(s.calls, "List")

	return []string{"a", "b"}, s.err
}

func chain(t *testing.T, next hyperstore.Service, logger zerolog.Logger) hyperstore.Service {
	t.Helper()

	return hyperstore.ApplyMiddleware(next,
		func(s hyperstore.Service) hyperstore.Service { return NewLoggingMiddleware(s, logger) },
		func(s hyperstore.Service) hyperstore.Service {
			mw, err := NewOTelMetricsMiddleware(s, metricnoop.NewMeterProvider().Meter("test"))
			assert.NoError(t, err)

			return mw
		},
		func(s hyperstore.Service) hyperstore.Service {
			return NewOTelTracingMiddleware(s, tracenoop.NewTracerProvider().Tracer("test"))
		},
	)
}

func TestChain_ForwardsEveryCall(t *testing.T) {
	inner := &recordingService{targets: []hyperstore.NodeID{4001, 4002}}

	var buf bytes.Buffer

	svc := chain(t, inner, zerolog.New(&buf).Level(zerolog.DebugLevel))
	ctx := context.Background()

	var announced []hyperstore.NodeID

	err := svc.Store(ctx, "a.txt", 100, func(targets []hyperstore.NodeID) error {
		announced = targets

		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, inner.targets, announced)

	loc, err := svc.Load(ctx, "c1", "a.txt")
	assert.NoError(t, err)
	assert.Equal(t, hyperstore.NodeID(4001), loc.Port)

	loc, err = svc.Reload(ctx, "c1", "a.txt")
	assert.NoError(t, err)
	assert.Equal(t, hyperstore.NodeID(4002), loc.Port)

	files, err := svc.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, files)

	assert.NoError(t, svc.Remove(ctx, "a.txt"))

	assert.Equal(t, []string{"Store a.txt", "Load a.txt", "Reload a.txt", "List", "Remove a.txt"}, inner.calls)

	out := buf.String()
	assert.True(t, strings.Contains(out, `"method":"Store"`))
	assert.True(t, strings.Contains(out, `"targets":[4001,4002]`))
	assert.True(t, strings.Contains(out, `"node.port":4002`))
}

func TestChain_PropagatesErrors(t *testing.T) {
	inner := &recordingService{err: sentinel.ErrNotEnoughNodes}

	var buf bytes.Buffer

	svc := chain(t, inner, zerolog.New(&buf))

	err := svc.Store(context.Background(), "a", 1, func([]hyperstore.NodeID) error {
		t.Fatal("announce must not run")

		return nil
	})
	assert.True(t, errors.Is(err, sentinel.ErrNotEnoughNodes))

	err = svc.Remove(context.Background(), "a")
	assert.True(t, errors.Is(err, sentinel.ErrNotEnoughNodes))

	assert.True(t, strings.Contains(buf.String(), `"level":"warn"`))
}

func TestOutcome_UsesSentinelText(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, sentinel.ErrQuorumTimeout.Error(), outcome(sentinel.ErrQuorumTimeout))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}
