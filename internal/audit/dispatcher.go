package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultEmitTimeout = 5 * time.Second

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the queue is full instead of waiting
	// for room or for the caller's context to end.
	DropIfFull bool
	// EmitTimeout bounds one sink call. Zero means 5s.
	EmitTimeout time.Duration
}

// Dispatcher moves events off the request goroutine and hands them to one
// sink in arrival order. A nil Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink        Sink
	queue       chan Event
	dropIfFull  bool
	emitTimeout time.Duration

	stop     chan struct{}
	finished chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = defaultEmitTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:        sink,
		queue:       make(chan Event, cfg.BufferSize),
		dropIfFull:  cfg.DropIfFull,
		emitTimeout: cfg.EmitTimeout,
		stop:        make(chan struct{}),
		finished:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.finished)
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			// Drain whatever was queued before Close.
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.emitTimeout)
	defer cancel()
	d.sink.Emit(ctx, event)
}

// Emit queues event, filling in ID and Timestamp when unset. Events that
// never reach the queue are counted in Dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.stop:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Pending reports how many events are queued but not yet delivered.
func (d *Dispatcher) Pending() int {
	if d == nil {
		return 0
	}
	return len(d.queue)
}

// Close stops accepting events and returns once the queue is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
	})
	<-d.finished
}

// Dropped counts events discarded by backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
