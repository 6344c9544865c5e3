package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// dropLogEvery throttles the drop warning so a saturated sink does not
// flood the log.
const dropLogEvery = 1000

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. Emit never
// blocks the authentication path when DropIfFull is set.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    zerolog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is
// disabled; a nil *Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink, logger zerolog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("event", event.EventType).Msg("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), event)
}

func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			if n := d.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
				d.logger.Warn().Uint64("dropped_total", n).Msg("audit buffer full, dropping events")
			}
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer into the sink and waits
// for the relay goroutine. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
