package mailbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrRejected   = errors.New("mailbox: dispatcher rejected work")
	ErrPoolClosed = errors.New("mailbox: worker pool closed")
)

// Dispatcher runs a drain routine somewhere other than the caller's stack,
// or reports why it cannot.
type Dispatcher interface {
	Dispatch(name string, fn func()) error
}

// DispatcherFunc adapts a function into a Dispatcher.
type DispatcherFunc func(name string, fn func()) error

func (f DispatcherFunc) Dispatch(name string, fn func()) error {
	return f(name, fn)
}

// Inline runs every drain on the calling goroutine.
var Inline Dispatcher = DispatcherFunc(func(_ string, fn func()) error {
	fn()
	return nil
})

type job struct {
	name string
	fn   func()
}

// WorkerPool is a fixed set of goroutines fed by a bounded backlog.
type WorkerPool struct {
	name string
	log  zerolog.Logger
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type PoolOption func(*WorkerPool)

func WithPoolLogger(logger zerolog.Logger) PoolOption {
	return func(p *WorkerPool) { p.log = logger }
}

// NewWorkerPool starts workers goroutines. Dispatch fails with ErrRejected
// once backlog jobs are waiting.
func NewWorkerPool(name string, workers, backlog int, opts ...PoolOption) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	p := &WorkerPool{
		name: name,
		log:  log.Logger,
		jobs: make(chan job, backlog),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("pool", name).Logger()
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) Dispatch(name string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("%w: %s backlog full", ErrRejected, p.name)
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *WorkerPool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("job", j.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker job panicked")
		}
	}()
	j.fn()
}

// Shutdown stops accepting work and waits for queued jobs to finish.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
