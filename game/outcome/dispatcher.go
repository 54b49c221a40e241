// Package outcome moves finished attempts from engines to durable sinks.
//
// Engines report outcomes synchronously from their run goroutine. The
// Dispatcher accepts them without blocking and hands them to its sinks on
// a single worker goroutine, so a slow database never stalls a run.
package outcome

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/puzzlebot/game/engine"
)

const (
	DefaultBufferSize  = 64
	DefaultSinkTimeout = 5 * time.Second
)

// Sink stores or forwards one outcome
type Sink interface {
	Record(ctx context.Context, o engine.Outcome) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, o engine.Outcome) error

func (f SinkFunc) Record(ctx context.Context, o engine.Outcome) error { return f(ctx, o) }

// Sinks fans an outcome out to several sinks. Every sink is called; the
// errors are joined.
func Sinks(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, o engine.Outcome) error {
		var errs []error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, o); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Dispatcher implements engine.OutcomeRecorder
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  zerolog.Logger
	queue   chan engine.Outcome

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// Option configures a Dispatcher
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	bufferSize int
	timeout    time.Duration
	logger     zerolog.Logger
}

// WithBufferSize sets how many outcomes may wait for the worker
func WithBufferSize(n int) Option {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithSinkTimeout bounds each sink call
func WithSinkTimeout(d time.Duration) Option {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *dispatcherOptions) { o.logger = l }
}

// NewDispatcher starts a dispatcher delivering to sink
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	cfg := dispatcherOptions{
		bufferSize: DefaultBufferSize,
		timeout:    DefaultSinkTimeout,
		logger:     log.Logger.With().Str("component", "outcome").Logger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		sink:    sink,
		timeout: cfg.timeout,
		logger:  cfg.logger,
		queue:   make(chan engine.Outcome, cfg.bufferSize),
		done:    make(chan struct{}),
	}
	go d.worker()
	return d
}

// RecordOutcome queues an outcome. It never blocks: when the buffer is full
// or the dispatcher is closed the outcome is dropped and logged.
func (d *Dispatcher) RecordOutcome(o engine.Outcome) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Int("puzzle_id", o.PuzzleID).Msg("dispatcher closed, outcome dropped")
		return
	}
	select {
	case d.queue <- o:
	default:
		d.logger.Warn().
			Str("subject_id", o.SubjectID).
			Int("puzzle_id", o.PuzzleID).
			Msg("outcome buffer full, outcome dropped")
		d.dropped.Add(1)
	}
}

// Dropped reports how many outcomes were discarded because the buffer was full
func (d *Dispatcher) Dropped() int {
	return int(d.dropped.Load())
}

// Close stops accepting outcomes, delivers what is buffered and waits for
// the worker to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for o := range d.queue {
		d.deliver(o)
	}
}

func (d *Dispatcher) deliver(o engine.Outcome) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Record(ctx, o); err != nil {
		d.logger.Error().Err(err).
			Str("subject_id", o.SubjectID).
			Int("puzzle_id", o.PuzzleID).
			Bool("success", o.Success).
			Msg("failed to record outcome")
		return
	}
	d.logger.Debug().
		Str("subject_id", o.SubjectID).
		Int("puzzle_id", o.PuzzleID).
		Int("score", o.Score).
		Msg("outcome recorded")
}
