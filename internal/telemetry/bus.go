// internal/telemetry/bus.go
package telemetry

import (
	"sync"

	"go.uber.org/zap"
)

// Sink consumes telemetry events.
type Sink interface {
	Emit(event Event)
}

// NopSink discards everything. Useful default for tests.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ZapSink writes events to the structured log.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink that logs each event at info level.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("telemetry")}
}

func (s *ZapSink) Emit(event Event) {
	s.logger.Info("Telemetry event", zap.String("event", event.Name()), zap.Any("payload", event))
}

// Bus fans events out to registered sinks on a background goroutine so the
// agent's single logical thread never blocks on a slow sink. When the
// buffer is full the event is dropped; telemetry must not apply
// backpressure to the run loop.
type Bus struct {
	logger *zap.Logger
	events chan Event

	mu    sync.RWMutex
	sinks []Sink

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewBus starts the dispatch goroutine.
func NewBus(logger *zap.Logger, bufferSize int, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &Bus{
		logger: logger.Named("telemetry_bus"),
		events: make(chan Event, bufferSize),
		sinks:  sinks,
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Register adds a sink. Safe to call while the bus is running.
func (b *Bus) Register(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish enqueues an event without blocking. Events published after
// Close, or while the buffer is full, are dropped.
func (b *Bus) Publish(event Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- event:
	default:
		b.logger.Debug("Telemetry buffer full, dropping event", zap.String("event", event.Name()))
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case ev := <-b.events:
					b.fanOut(ev)
				default:
					return
				}
			}
		case ev := <-b.events:
			b.fanOut(ev)
		}
	}
}

func (b *Bus) fanOut(event Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, sink := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("Telemetry sink panicked", zap.Any("panic", r))
				}
			}()
			sink.Emit(event)
		}()
	}
}

// Close stops the dispatch loop after draining buffered events. Idempotent.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}
