package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives appended entries for transport to operators (alerting,
// SIEM forwarding). Delivery is asynchronous and best-effort; the chain
// itself is always written synchronously before dispatch.
type Sink interface {
	Emit(ctx context.Context, e Entry)
}

// NoOpSink drops entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Entry) {}

// ChannelSink buffers entries into a channel for test assertions or custom
// consumers.
type ChannelSink struct {
	entries chan Entry
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{entries: make(chan Entry, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, e Entry) {
	select {
	case s.entries <- e:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

// DispatcherConfig controls dispatcher buffering behavior. DrainTimeout
// bounds how long Close waits on the sink for buffered entries; a sink that
// honors its context cannot hold shutdown hostage.
type DispatcherConfig struct {
	BufferSize   int
	DropIfFull   bool
	DrainTimeout time.Duration
}

// Dispatcher forwards entries to a sink from a single background goroutine,
// keeping sink latency out of request paths. A full buffer either blocks the
// caller or drops (counted), per config.
type Dispatcher struct {
	cfg       DispatcherConfig
	sink      Sink
	ch        chan Entry
	done      chan struct{}
	deliver   context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	deliver, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		ch:      make(chan Entry, cfg.BufferSize),
		done:    make(chan struct{}),
		deliver: deliver,
		stop:    stop,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		// Shutdown wins over further buffered work.
		select {
		case <-d.done:
			d.drain()
			return
		default:
		}

		select {
		case e := <-d.ch:
			d.sink.Emit(d.deliver, e)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain flushes buffered entries. Close cancels the delivery context after
// DrainTimeout, so a stuck sink cannot block shutdown; whatever remains
// undeliverable is counted as dropped.
func (d *Dispatcher) drain() {
	for {
		if d.deliver.Err() != nil {
			d.dropped.Add(uint64(len(d.ch)))
			return
		}
		select {
		case e := <-d.ch:
			d.sink.Emit(d.deliver, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) Emit(ctx context.Context, e Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- e:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- e:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close flushes buffered entries, waiting at most DrainTimeout on the sink,
// and stops the background goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		// The deadline also unblocks a delivery already in flight.
		timer := time.AfterFunc(d.cfg.DrainTimeout, d.stop)
		d.wg.Wait()
		timer.Stop()
		d.stop()
	})
}

// Dropped reports entries discarded under backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
