// Package eventloop provides a goroutine-confined task queue. Any goroutine
// may enqueue work; only the bound owner goroutine runs it.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/danmuck/mcwire/internal/observability"
	"github.com/petermattis/goid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotOwner     = errors.New("eventloop: caller is not the owner goroutine")
	ErrAlreadyBound = errors.New("eventloop: loop already bound to another goroutine")
	ErrNilTask      = errors.New("eventloop: nil task")

	ErrNoGoroutineID = errors.New("eventloop: goroutine id unavailable")
)

// DefaultParkInterval bounds how long BlockUntil sleeps with nothing to do.
const DefaultParkInterval = 100 * time.Microsecond

// Task is one deferred unit of work. Ready, when set, gates the task during
// RunPending; BlockUntil ignores it.
type Task struct {
	Name  string
	Run   func() error
	Ready func() bool
}

func (t Task) ready() bool {
	return t.Ready == nil || t.Ready()
}

// TaskError wraps a failure raised by a queued task.
type TaskError struct {
	Loop  string
	Task  string
	Err   error
	Panic bool

	stack []byte
}

func (e *TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("eventloop: %s task %q panicked: %v", e.Loop, e.Task, e.Err)
	}
	return fmt.Sprintf("eventloop: %s task %q failed: %v", e.Loop, e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type Option func(*Loop)

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

func WithParkInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.park = d
		}
	}
}

// WithErrorHandler decides what Run does with a failed task. Returning nil
// keeps the loop running; any other error stops Run with that error. Without
// a handler Run logs and continues.
func WithErrorHandler(fn func(error) error) Option {
	return func(l *Loop) { l.onError = fn }
}

// Loop is a single-consumer task queue bound to one goroutine.
type Loop struct {
	name    string
	log     zerolog.Logger
	park    time.Duration
	onError func(error) error

	owner    atomic.Int64
	blocking atomic.Int32
	queue    *Queue[Task]
	wake     chan struct{}
}

func New(name string, opts ...Option) *Loop {
	l := &Loop{
		name:  name,
		log:   log.Logger,
		park:  DefaultParkInterval,
		queue: NewQueue[Task](),
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("loop", name).Logger()
	return l
}

func (l *Loop) Name() string { return l.name }

// Bind claims the calling goroutine as owner.
func (l *Loop) Bind() error {
	id := goid.Get()
	if id == 0 {
		return ErrNoGoroutineID
	}
	if l.owner.CompareAndSwap(0, id) || l.owner.Load() == id {
		return nil
	}
	return ErrAlreadyBound
}

// Unbind releases ownership. Only the owner may unbind.
func (l *Loop) Unbind() error {
	if !l.owner.CompareAndSwap(goid.Get(), 0) {
		return ErrNotOwner
	}
	return nil
}

// IsOwner reports whether the caller is the owner goroutine. An unbound
// loop has no owner.
func (l *Loop) IsOwner() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goid.Get()
}

// Pending reports the number of queued tasks.
func (l *Loop) Pending() int { return l.queue.Len() }

// Execute runs fn inline when called on the owner and returns its error.
// Otherwise fn is queued and Execute returns nil.
func (l *Loop) Execute(name string, fn func() error) error {
	if fn == nil {
		return ErrNilTask
	}
	task := Task{Name: name, Run: fn}
	if l.IsOwner() {
		return l.runTask(task)
	}
	l.Schedule(task)
	return nil
}

// Submit is Execute with a result channel that receives fn's error once it
// has run, inline or on the owner.
func (l *Loop) Submit(name string, fn func() error) <-chan error {
	done := make(chan error, 1)
	if fn == nil {
		done <- ErrNilTask
		return done
	}
	if l.IsOwner() {
		done <- l.runTask(Task{Name: name, Run: fn})
		return done
	}
	l.Schedule(Task{Name: name, Run: func() error {
		err := l.protect(name, fn)
		done <- err
		return err
	}})
	return done
}

// Schedule always enqueues t, even on the owner.
func (l *Loop) Schedule(t Task) {
	if t.Run == nil {
		l.log.Warn().Str("task", t.Name).Msg("dropped nil task")
		return
	}
	l.queue.Push(t)
	l.poke()
}

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunPending runs queued tasks on the owner until the queue is empty,
// shouldStop reports true or the head task is not ready. The first task
// failure stops the pass and is returned; later tasks stay queued.
func (l *Loop) RunPending(shouldStop func() bool) (int, error) {
	if !l.IsOwner() {
		return 0, ErrNotOwner
	}
	ran := 0
	for {
		if shouldStop != nil && shouldStop() {
			return ran, nil
		}
		head, ok := l.queue.Peek()
		if !ok {
			return ran, nil
		}
		if l.blocking.Load() == 0 && !head.ready() {
			return ran, nil
		}
		if _, ok := l.queue.Pop(); !ok {
			return ran, nil
		}
		ran++
		if err := l.runTask(head); err != nil {
			return ran, err
		}
	}
}

// BlockUntil runs tasks on the owner while done reports false, ignoring
// Ready predicates. When idle it parks for at most the park interval before
// checking again.
func (l *Loop) BlockUntil(done func() bool) error {
	if !l.IsOwner() {
		return ErrNotOwner
	}
	l.blocking.Add(1)
	defer l.blocking.Add(-1)

	timer := time.NewTimer(l.park)
	defer timer.Stop()
	for !done() {
		n, err := l.RunPending(done)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		timer.Reset(l.park)
		select {
		case <-l.wake:
		case <-timer.C:
		}
	}
	return nil
}

// Run binds the caller and serves tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}
	defer l.Unbind()
	l.log.Debug().Msg("event loop running")

	for {
		if _, err := l.RunPending(func() bool { return ctx.Err() != nil }); err != nil {
			if l.onError != nil {
				if err := l.onError(err); err != nil {
					return err
				}
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if l.queue.Len() > 0 {
			// Head task is not ready yet; recheck after a short park.
			l.parkFor(ctx)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) parkFor(ctx context.Context) {
	timer := time.NewTimer(l.park)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-l.wake:
	case <-timer.C:
	}
}

func (l *Loop) runTask(t Task) error {
	err := l.protect(t.Name, t.Run)
	observability.RecordLoopTask(l.name, err)
	if err == nil {
		return nil
	}
	var taskErr *TaskError
	if errors.As(err, &taskErr) && taskErr.Panic {
		l.log.Error().Err(err).Str("task", t.Name).Bytes("stack", taskErr.stack).Msg("task panicked")
		return err
	}
	l.log.Error().Err(err).Str("task", t.Name).Msg("task failed")
	return err
}

func (l *Loop) protect(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Loop: l.name, Task: name, Err: fmt.Errorf("%v", r), Panic: true, stack: debug.Stack()}
		}
	}()
	if err := fn(); err != nil {
		var taskErr *TaskError
		if errors.As(err, &taskErr) {
			return err
		}
		return &TaskError{Loop: l.name, Task: name, Err: err}
	}
	return nil
}
