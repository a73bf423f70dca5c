// Package mailbox drives a queue of work through a shared dispatcher while
// guaranteeing at most one drain routine per mailbox at any instant.
package mailbox

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/danmuck/mcwire/internal/eventloop"
	"github.com/danmuck/mcwire/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusClosed    int32 = 1 << 1
	statusScheduled int32 = 1 << 2
)

var (
	ErrClosed = errors.New("mailbox: closed")
	ErrPanic  = errors.New("mailbox: item panicked")
)

// DefaultPriorities is the number of priority levels when none is set.
const DefaultPriorities = 1

// Item is one queued unit of work.
type Item struct {
	Name string
	Run  func() error
}

// ItemError reports a failed item.
type ItemError struct {
	Mailbox string
	Item    string
	Err     error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("mailbox: %s item %q failed: %v", e.Mailbox, e.Item, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

type Option func(*Mailbox)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mailbox) { m.log = logger }
}

// WithMaxBatch bounds how many items one drain runs before yielding the
// worker. Zero drains until empty.
func WithMaxBatch(n int) Option {
	return func(m *Mailbox) {
		if n >= 0 {
			m.maxBatch = n
		}
	}
}

// WithPriorities sets the number of priority levels. Level 0 runs first.
func WithPriorities(levels int) Option {
	return func(m *Mailbox) {
		if levels > 0 {
			m.levels = levels
		}
	}
}

// WithErrorHandler observes every failed item after it has been logged.
func WithErrorHandler(fn func(*ItemError)) Option {
	return func(m *Mailbox) { m.onError = fn }
}

// Mailbox is a single-flight actor queue.
type Mailbox struct {
	name       string
	dispatcher Dispatcher
	log        zerolog.Logger
	maxBatch   int
	levels     int
	onError    func(*ItemError)

	status atomic.Int32
	queue  *eventloop.PriorityQueue[Item]

	active atomic.Int32
	peak   atomic.Int32
}

func New(name string, dispatcher Dispatcher, opts ...Option) *Mailbox {
	m := &Mailbox{
		name:       name,
		dispatcher: dispatcher,
		log:        log.Logger,
		levels:     DefaultPriorities,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.dispatcher = Inline
	}
	m.queue = eventloop.NewPriorityQueue[Item](m.levels)
	m.log = m.log.With().Str("mailbox", name).Logger()
	return m
}

func (m *Mailbox) Name() string { return m.name }

// Pending reports queued items.
func (m *Mailbox) Pending() int { return m.queue.Len() }

func (m *Mailbox) Closed() bool { return m.status.Load()&statusClosed != 0 }

func (m *Mailbox) Scheduled() bool { return m.status.Load()&statusScheduled != 0 }

// Tell enqueues fn at the lowest priority and schedules a drain if none is
// active. Scheduling failures are logged, never returned.
func (m *Mailbox) Tell(name string, fn func() error) {
	m.TellPriority(m.levels-1, name, fn)
}

// TellPriority enqueues fn at level.
func (m *Mailbox) TellPriority(level int, name string, fn func() error) {
	if fn == nil {
		m.log.Warn().Str("item", name).Msg("dropped nil item")
		return
	}
	m.queue.PushAt(level, Item{Name: name, Run: fn})
	m.registerForExecution()
}

// Close stops future scheduling. A drain already in flight finishes.
func (m *Mailbox) Close() {
	for {
		cur := m.status.Load()
		if cur&statusClosed != 0 {
			return
		}
		if m.status.CompareAndSwap(cur, cur|statusClosed) {
			m.log.Debug().Int("pending", m.Pending()).Msg("mailbox closed")
			return
		}
	}
}

// RunAll drains every queued item on the caller once no other drain is
// active. It ignores the closed bit and the batch limit.
func (m *Mailbox) RunAll() int {
	for !m.acquire(true) {
		runtime.Gosched()
	}
	n := 0
	m.enter()
	for {
		item, ok := m.queue.Pop()
		if !ok {
			break
		}
		m.runItem(item)
		n++
	}
	m.active.Add(-1)
	m.setIdle()
	m.registerForExecution()
	return n
}

// acquire sets the scheduled bit if it is clear. Unless force is set a
// closed or empty mailbox is not acquired.
func (m *Mailbox) acquire(force bool) bool {
	for {
		cur := m.status.Load()
		if cur&statusScheduled != 0 {
			return false
		}
		if !force && (cur&statusClosed != 0 || m.queue.Empty()) {
			return false
		}
		if m.status.CompareAndSwap(cur, cur|statusScheduled) {
			return true
		}
	}
}

func (m *Mailbox) setIdle() {
	for {
		cur := m.status.Load()
		if m.status.CompareAndSwap(cur, cur&^statusScheduled) {
			return
		}
	}
}

func (m *Mailbox) registerForExecution() bool {
	if !m.acquire(false) {
		return false
	}
	err := m.dispatcher.Dispatch(m.name, m.drain)
	if err != nil {
		observability.RecordMailboxSchedule("retry")
		err = m.dispatcher.Dispatch(m.name, m.drain)
	}
	if err != nil {
		observability.RecordMailboxSchedule("dropped")
		m.log.Error().Err(err).
			Int("pending", m.Pending()).
			Msg("could not schedule mailbox, items stay queued")
		m.setIdle()
		return false
	}
	observability.RecordMailboxSchedule("scheduled")
	return true
}

func (m *Mailbox) enter() {
	n := m.active.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// drain runs while the scheduled bit is held, then releases it and
// re-registers so an item queued during the pass is not stranded.
func (m *Mailbox) drain() {
	m.enter()
	processed := 0
	for m.maxBatch == 0 || processed < m.maxBatch {
		item, ok := m.queue.Pop()
		if !ok {
			break
		}
		m.runItem(item)
		processed++
	}
	m.active.Add(-1)
	m.setIdle()
	m.registerForExecution()
}

func (m *Mailbox) runItem(item Item) {
	err := m.protect(item)
	observability.RecordMailboxItem(err)
	if err == nil {
		return
	}
	itemErr := &ItemError{Mailbox: m.name, Item: item.Name, Err: err}
	m.log.Error().Err(err).Str("item", item.Name).Msg("mailbox item failed")
	if m.onError != nil {
		m.onError(itemErr)
	}
}

func (m *Mailbox) protect(item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("item", item.Name).
				Bytes("stack", debug.Stack()).
				Msg("mailbox item panicked")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return item.Run()
}
