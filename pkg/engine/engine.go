package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/toolns/internal/observability"
	"github.com/harun/toolns/internal/tracing"
	"github.com/harun/toolns/pkg/toolerr"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 100

// ErrResetUnsupported is returned by Reset when the evaluator cannot clear
// its state.
var ErrResetUnsupported = errors.New("evaluator does not support reset")

// Options configures an Engine.
type Options struct {
	QueueSize int
	Logger    zerolog.Logger
}

// Request is one unit of work for the interpreter.
type Request struct {
	Script   string
	Bindings map[string]any
	// Label names the request in logs, e.g. the tool path.
	Label string
}

// Result is the outcome of a successful request.
type Result struct {
	Value    string
	Output   string
	Duration time.Duration
}

// Info describes the interpreter behind the engine.
type Info struct {
	Runtime      string   `json:"runtime"`
	Capabilities []string `json:"capabilities"`
	QueueSize    int      `json:"queue_size"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	QueueDepth int    `json:"queue_depth"`
	Processed  uint64 `json:"processed"`
	Faulted    bool   `json:"faulted"`
	Closed     bool   `json:"closed"`
}

type outcome struct {
	result Result
	err    error
}

type job struct {
	ctx   context.Context
	req   Request
	reset bool
	done  chan outcome
}

// Engine owns an Evaluator and runs every request on one worker goroutine.
type Engine struct {
	eval      Evaluator
	queue     chan *job
	queueSize int
	logger    zerolog.Logger

	// mu guards the lifecycle flags against concurrent sends on queue.
	mu      sync.RWMutex
	started bool
	closed  bool
	faulted bool

	processed atomic.Uint64
	wg        sync.WaitGroup
}

// New creates an engine around eval. Call Start before submitting.
func New(eval Evaluator, opts Options) *Engine {
	observability.EnsureRegistered()

	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Engine{
		eval:      eval,
		queue:     make(chan *job, size),
		queueSize: size,
		logger: opts.Logger.With().
			Str("component", "engine").
			Str("runtime", eval.Name()).
			Logger(),
	}
}

// Start launches the worker goroutine. Calling Start more than once has no
// effect.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.run()

	e.logger.Debug().Int("queue_size", e.queueSize).Msg("Engine started")
}

// Close stops accepting requests, lets the worker finish what is queued and
// waits for it to exit.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	close(e.queue)
	e.mu.Unlock()

	if started {
		e.wg.Wait()
	}

	e.logger.Debug().Uint64("processed", e.processed.Load()).Msg("Engine closed")
	return nil
}

// Submit queues req and waits for its result.
func (e *Engine) Submit(ctx context.Context, req Request) (Result, error) {
	return e.submit(ctx, &job{ctx: ctx, req: req, done: make(chan outcome, 1)})
}

// Reset clears interpreter state. It is queued like any other request, so
// it runs after everything accepted before it.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.submit(ctx, &job{ctx: ctx, reset: true, done: make(chan outcome, 1)})
	return err
}

func (e *Engine) submit(ctx context.Context, j *job) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
		j.ctx = ctx
	}
	if err := ctx.Err(); err != nil {
		observability.RecordEngineSubmission("cancelled")
		return Result{}, err
	}

	e.mu.RLock()
	switch {
	case e.faulted:
		e.mu.RUnlock()
		observability.RecordEngineSubmission("unavailable")
		return Result{}, toolerr.New(toolerr.KindEngineUnavailable, "execution engine has faulted")
	case e.closed:
		e.mu.RUnlock()
		observability.RecordEngineSubmission("unavailable")
		return Result{}, toolerr.New(toolerr.KindEngineUnavailable, "execution engine is closed")
	case !e.started:
		e.mu.RUnlock()
		observability.RecordEngineSubmission("unavailable")
		return Result{}, toolerr.New(toolerr.KindEngineUnavailable, "execution engine is not running")
	}

	select {
	case e.queue <- j:
	default:
		e.mu.RUnlock()
		observability.RecordEngineSubmission("busy")
		return Result{}, toolerr.New(toolerr.KindEngineBusy,
			"execution engine queue is full (%d pending)", e.queueSize)
	}
	depth := len(e.queue)
	e.mu.RUnlock()

	observability.SetEngineQueueDepth(depth)

	select {
	case out := <-j.done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	for j := range e.queue {
		observability.SetEngineQueueDepth(len(e.queue))

		if err := j.ctx.Err(); err != nil {
			observability.RecordEngineSubmission("cancelled")
			logger := tracing.LoggerFromContext(j.ctx, e.logger)
			logger.Debug().
				Str("label", j.req.Label).
				Msg("Dropping cancelled request")
			j.done <- outcome{err: err}
			continue
		}

		out, panicked := e.execute(j)
		j.done <- out
		if panicked {
			e.fault()
			return
		}
	}
}

// execute runs one job, converting an evaluator panic into a fault.
func (e *Engine) execute(j *job) (out outcome, panicked bool) {
	logger := tracing.LoggerFromContext(j.ctx, e.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("label", j.req.Label).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Evaluator panicked, engine is now unavailable")
			observability.RecordEngineSubmission("unavailable")
			out = outcome{err: toolerr.New(toolerr.KindEngineUnavailable,
				"execution engine faulted: %v", r)}
			panicked = true
		}
	}()

	if j.reset {
		resetter, ok := e.eval.(Resetter)
		if !ok {
			return outcome{err: ErrResetUnsupported}, false
		}
		if err := resetter.Reset(); err != nil {
			return outcome{err: fmt.Errorf("reset interpreter: %w", err)}, false
		}
		e.processed.Add(1)
		logger.Info().Msg("Interpreter state cleared")
		return outcome{}, false
	}

	value, err := e.eval.Eval(j.req.Script, j.req.Bindings)
	duration := time.Since(start)
	e.processed.Add(1)
	observability.RecordEngineEval(duration)

	if err != nil {
		observability.RecordEngineSubmission("script_error")
		logger.Debug().
			Str("label", j.req.Label).
			Dur("duration", duration).
			Err(err).
			Msg("Script failed")

		var te *toolerr.Error
		if errors.As(err, &te) {
			return outcome{err: err}, false
		}
		return outcome{err: toolerr.Wrap(toolerr.KindScriptError, err, "script error")}, false
	}

	observability.RecordEngineSubmission("ok")
	logger.Debug().
		Str("label", j.req.Label).
		Dur("duration", duration).
		Msg("Script completed")

	return outcome{result: Result{Value: value.Text, Output: value.Output, Duration: duration}}, false
}

// fault marks the engine unavailable and fails everything still queued.
func (e *Engine) fault() {
	e.mu.Lock()
	e.faulted = true
	e.mu.Unlock()

	observability.SetEngineFaulted(true)

	// No sends can start after faulted is set, so draining until empty
	// reaches every accepted request.
	failed := 0
	for {
		select {
		case j, ok := <-e.queue:
			if !ok {
				e.logger.Warn().Int("failed", failed).Msg("Queued requests failed after fault")
				return
			}
			j.done <- outcome{err: toolerr.New(toolerr.KindEngineUnavailable, "execution engine faulted")}
			observability.RecordEngineSubmission("unavailable")
			failed++
		default:
			e.logger.Warn().Int("failed", failed).Msg("Queued requests failed after fault")
			return
		}
	}
}

// Info reports the runtime name and the capabilities it exposes.
func (e *Engine) Info() Info {
	caps := make([]string, 0, len(KnownCapabilities))
	for _, c := range KnownCapabilities {
		if e.eval.HasCapability(c) {
			caps = append(caps, c)
		}
	}
	return Info{
		Runtime:      e.eval.Name(),
		Capabilities: caps,
		QueueSize:    e.queueSize,
	}
}

// Stats reports queue depth, processed count and lifecycle state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		QueueDepth: len(e.queue),
		Processed:  e.processed.Load(),
		Faulted:    e.faulted,
		Closed:     e.closed,
	}
}
