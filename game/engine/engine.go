package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine runs attempts of a single loaded puzzle. It owns one RunState and
// exposes queue-building operations plus an asynchronous, paced Run.
//
// Queue operations never fail: calls made in the wrong phase or at the
// queue bounds are ignored. Game failures are reported through Phase, not
// through errors.
type Engine struct {
	mu       sync.Mutex
	puzzle   *Puzzle
	state    RunState
	closed   bool
	runGen   uint64
	cancel   context.CancelFunc
	done     chan struct{}
	ownerCtx context.Context
	closeFn  context.CancelFunc

	recorder  OutcomeRecorder
	subject   string
	stepDelay time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	notifyMu     sync.Mutex
	observerMu   sync.Mutex
	observers    map[int]func(Snapshot)
	nextObserver int
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder sets the collaborator that receives terminal outcomes
func WithRecorder(r OutcomeRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithSubject sets the subject id stamped on every outcome
func WithSubject(id string) Option {
	return func(e *Engine) { e.subject = id }
}

// WithStepDelay sets the pacing delay before each executed step. Zero
// disables pacing.
func WithStepDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d < 0 {
			d = 0
		}
		e.stepDelay = d
	}
}

// WithClock overrides the clock used for outcome timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithContext ties the engine to an owning context. Cancelling it stops an
// in-flight run exactly like Close.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		if ctx != nil {
			e.ownerCtx = ctx
		}
	}
}

// New creates an engine with no puzzle loaded
func New(opts ...Option) *Engine {
	e := &Engine{
		stepDelay: DefaultStepDelay,
		now:       time.Now,
		logger:    log.Logger.With().Str("component", "engine").Logger(),
		ownerCtx:  context.Background(),
		observers: make(map[int]func(Snapshot)),
		state:     RunState{Phase: Idle},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ownerCtx, e.closeFn = context.WithCancel(e.ownerCtx)
	return e
}

// LoadPuzzle makes p the active puzzle. Loading a puzzle with a different id
// performs a full reset, zeroing attempts and score. Loading the same id is
// a no-op when skipIfSame is set; otherwise the reference is refreshed and
// the run state kept.
func (e *Engine) LoadPuzzle(p *Puzzle, skipIfSame bool) {
	if p == nil {
		return
	}

	e.mu.Lock()
	if e.puzzle != nil && e.puzzle.ID() == p.ID() {
		if skipIfSame {
			e.mu.Unlock()
			return
		}
		e.puzzle = p
		e.mu.Unlock()
		e.publish()
		return
	}

	e.stopRunLocked()
	e.puzzle = p
	e.state = freshState(p)
	e.mu.Unlock()

	e.logger.Debug().Int("puzzle_id", p.ID()).Msg("puzzle loaded")
	e.publish()
}

// Unload drops the active puzzle and all run state
func (e *Engine) Unload() {
	e.mu.Lock()
	if e.puzzle == nil {
		e.mu.Unlock()
		return
	}
	e.stopRunLocked()
	e.puzzle = nil
	e.state = RunState{Phase: Idle}
	e.mu.Unlock()
	e.publish()
}

// EnqueueCommand appends d to the queue iff a puzzle is loaded, the phase
// is Idle and the queue is below the move budget.
func (e *Engine) EnqueueCommand(d Direction) {
	if !d.Valid() {
		return
	}
	e.mu.Lock()
	if e.puzzle == nil || e.state.Phase != Idle || len(e.state.CommandQueue) >= e.puzzle.MaxCommands() {
		e.mu.Unlock()
		return
	}
	e.state.CommandQueue = append(e.state.CommandQueue, d)
	e.mu.Unlock()
	e.publish()
}

// DequeueLastCommand removes the last queued command iff the queue is not
// empty and no run is in flight.
func (e *Engine) DequeueLastCommand() {
	e.mu.Lock()
	if len(e.state.CommandQueue) == 0 || e.state.Phase == Running {
		e.mu.Unlock()
		return
	}
	e.state.CommandQueue = e.state.CommandQueue[:len(e.state.CommandQueue)-1]
	e.mu.Unlock()
	e.publish()
}

// ClearQueue empties the queue in Idle, Success and Failed. While Running
// the queue is the program being executed and is left as is, like every
// other queue edit. The phase is never changed.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	if len(e.state.CommandQueue) == 0 || e.state.Phase == Running {
		e.mu.Unlock()
		return
	}
	e.state.CommandQueue = []Direction{}
	e.mu.Unlock()
	e.publish()
}

// Run starts executing the queue asynchronously and reports whether the run
// was accepted. A run is accepted only with a puzzle loaded, phase Idle and
// a non-empty queue. Cancelling ctx stops the run at the next step without
// emitting an outcome.
func (e *Engine) Run(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed || e.puzzle == nil || e.state.Phase != Idle || len(e.state.CommandQueue) == 0 {
		e.mu.Unlock()
		return false
	}

	e.state.Attempts++
	e.state.Phase = Running
	e.resetAttemptLocked()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ownerCtx, cancel)
	e.runGen++
	gen := e.runGen
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	queue := append([]Direction(nil), e.state.CommandQueue...)
	attempts := e.state.Attempts
	puzzleID := e.puzzle.ID()
	e.mu.Unlock()

	e.logger.Debug().
		Int("puzzle_id", puzzleID).
		Int("attempts", attempts).
		Int("commands", len(queue)).
		Msg("run started")
	e.publish()

	go func() {
		defer close(done)
		defer stop()
		defer cancel()
		e.execute(runCtx, gen, queue)
	}()
	return true
}

// ResetAttempt returns the robot to the start, clears the queue and
// restores keys and traps. Attempts and score are kept. An in-flight run is
// cancelled.
func (e *Engine) ResetAttempt() {
	e.mu.Lock()
	if e.puzzle == nil {
		e.mu.Unlock()
		return
	}
	e.stopRunLocked()
	e.state.Phase = Idle
	e.state.CommandQueue = []Direction{}
	e.resetAttemptLocked()
	e.mu.Unlock()
	e.publish()
}

// Wait blocks until no run is in flight or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the owning context. An in-flight run stops without emitting
// an outcome and further runs are rejected.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	done := e.done
	e.mu.Unlock()

	e.closeFn()
	if done != nil {
		<-done
	}
}

// Snapshot returns a copy of every observable field
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Puzzle returns the loaded puzzle or nil
func (e *Engine) Puzzle() *Puzzle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.puzzle
}

// State returns a copy of the run state
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyState(e.state)
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a function that removes it. Observers run synchronously and must
// not call back into the engine's mutating operations.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.observerMu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.observerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.observerMu.Lock()
			delete(e.observers, id)
			e.observerMu.Unlock()
		})
	}
}

// execute is the body of the run goroutine
func (e *Engine) execute(ctx context.Context, gen uint64, queue []Direction) {
	for _, dir := range queue {
		if !pace(ctx, e.stepDelay) {
			e.abort(gen)
			return
		}

		e.mu.Lock()
		if e.runGen != gen || e.state.Phase != Running {
			e.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			e.mu.Unlock()
			e.abort(gen)
			return
		}
		terminal := e.step(dir)
		var outcome Outcome
		if terminal {
			outcome = e.outcomeLocked()
		}
		e.mu.Unlock()

		e.publish()
		if terminal {
			e.emit(outcome)
			return
		}
	}

	e.mu.Lock()
	if e.runGen != gen || e.state.Phase != Running {
		e.mu.Unlock()
		return
	}
	e.fail(ReasonQueueExhausted)
	outcome := e.outcomeLocked()
	e.mu.Unlock()

	e.publish()
	e.emit(outcome)
}

// abort restores the attempt after a cancellation. The queue is kept.
func (e *Engine) abort(gen uint64) {
	e.mu.Lock()
	if e.runGen != gen || e.state.Phase != Running {
		e.mu.Unlock()
		return
	}
	e.state.Phase = Idle
	e.resetAttemptLocked()
	e.mu.Unlock()

	e.logger.Debug().Msg("run cancelled")
	e.publish()
}

// emit hands an outcome to the recorder, isolating the engine from panics
func (e *Engine) emit(o Outcome) {
	l := e.logger.With().
		Int("puzzle_id", o.PuzzleID).
		Bool("success", o.Success).
		Int("attempts", o.Attempts).
		Int("score", o.Score).
		Logger()
	l.Info().Msg("attempt finished")

	if e.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("outcome recorder panicked")
		}
	}()
	e.recorder.RecordOutcome(o)
}

// publish sends the current snapshot to every observer
func (e *Engine) publish() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.observerMu.Lock()
	if len(e.observers) == 0 {
		e.observerMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.observerMu.Unlock()

	snap := e.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// stopRunLocked invalidates an in-flight run so it exits without touching
// the state. Caller holds e.mu.
func (e *Engine) stopRunLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.runGen++
}

// resetAttemptLocked puts robot, keys and traps back to their start values
func (e *Engine) resetAttemptLocked() {
	e.state.RobotPosition = e.puzzle.Start()
	e.state.RemainingKeys = e.puzzle.Keys()
	e.state.KeysCollected = 0
	e.state.TrapsArmed = false
	e.state.StepsExecuted = 0
	e.state.FailureReason = ReasonNone
}

func (e *Engine) outcomeLocked() Outcome {
	o := Outcome{
		SubjectID:   e.subject,
		PuzzleID:    e.puzzle.ID(),
		Level:       e.puzzle.Level(),
		PuzzleIndex: e.puzzle.Index(),
		Success:     e.state.Phase == Success,
		Attempts:    e.state.Attempts,
		Timestamp:   e.now(),
	}
	if o.Success {
		o.Score = e.state.Score
	}
	return o
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		RobotPosition: e.state.RobotPosition,
		Phase:         e.state.Phase,
		CommandQueue:  append([]Direction{}, e.state.CommandQueue...),
		RemainingKeys: append([]Position{}, e.state.RemainingKeys...),
		TrapsArmed:    e.state.TrapsArmed,
		KeysCollected: e.state.KeysCollected,
		Attempts:      e.state.Attempts,
		Score:         e.state.Score,
		StepsExecuted: e.state.StepsExecuted,
		FailureReason: e.state.FailureReason,
	}
	if e.puzzle != nil {
		s.Puzzle = e.puzzle.View()
		s.MaxCommands = e.puzzle.MaxCommands()
	}
	return s
}

func freshState(p *Puzzle) RunState {
	return RunState{
		PuzzleID:      p.ID(),
		RobotPosition: p.Start(),
		CommandQueue:  []Direction{},
		Phase:         Idle,
		RemainingKeys: p.Keys(),
	}
}

func copyState(s RunState) RunState {
	s.CommandQueue = append([]Direction{}, s.CommandQueue...)
	s.RemainingKeys = append([]Position{}, s.RemainingKeys...)
	return s
}

// pace waits d before a step and reports whether execution may continue
func pace(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
