package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 10000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

// Keyed events are delivered to each handler one at a time and in publish order per key.
// Events without a key are handled concurrently.
type Keyed interface {
	Event
	Key() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus.
type Bus struct {
	pool     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler

	qmu    sync.Mutex
	queues map[string]*queue
}

type queue struct {
	jobs []func()
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
		queues:   make(map[string]*queue),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	k, keyed := e.(Keyed)
	for i, h := range b.handlers[e.Name()] {
		if keyed {
			b.enqueue(ctx, fmt.Sprintf("%s/%d/%s", e.Name(), i, k.Key()), h, e)
			continue
		}

		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		defer func() {
			<-b.pool
			b.wg.Done()
		}()

		b.handle(ctx, h, e)
	}()
}

// enqueue appends to the queue of one handler and key, starting a drainer if none is running.
func (b *Bus) enqueue(ctx context.Context, qk string, h Handler, e Event) {
	b.wg.Add(1)

	job := func() {
		defer b.wg.Done()
		b.handle(ctx, h, e)
	}

	b.qmu.Lock()
	q, running := b.queues[qk]
	if !running {
		q = &queue{}
		b.queues[qk] = q
	}
	q.jobs = append(q.jobs, job)
	b.qmu.Unlock()

	if running {
		return
	}

	b.pool <- struct{}{}
	go func() {
		defer func() { <-b.pool }()

		for {
			b.qmu.Lock()
			if len(q.jobs) == 0 {
				delete(b.queues, qk)
				b.qmu.Unlock()
				return
			}
			next := q.jobs[0]
			q.jobs = q.jobs[1:]
			b.qmu.Unlock()

			next()
		}
	}()
}

func (b *Bus) handle(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
