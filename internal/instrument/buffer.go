package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "portal_events_dropped_total",
	Help: "Access events lost because the sink rejected a batch.",
})

// Sink persists batches of events.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// EventBuffer collects events in memory and flushes them to the sink on a
// timer or when maxSize events are pending.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	sink    Sink
	maxSize int
	timeout time.Duration
	logger  *zap.Logger

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventBuffer starts a buffer that flushes every flushInterval.
func NewEventBuffer(sink Sink, maxSize int, flushInterval time.Duration, logger *zap.Logger) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	eb := &EventBuffer{
		sink:    sink,
		maxSize: maxSize,
		timeout: 5 * time.Second,
		logger:  logger.Named("events"),
		ticker:  time.NewTicker(flushInterval),
		done:    make(chan struct{}),
	}
	eb.wg.Add(1)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event. A full buffer triggers an asynchronous flush.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	full := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if full {
		go eb.Flush()
	}
}

// Pending returns the number of events not yet flushed.
func (eb *EventBuffer) Pending() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all pending events in a single batch. A failed batch is
// dropped and counted.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), eb.timeout)
	defer cancel()
	if err := eb.sink.WriteEvents(ctx, batch); err != nil {
		eventsDroppedTotal.Add(float64(len(batch)))
		eb.logger.Error("flush events", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// Stop halts the ticker and flushes what is left. Safe to call more than once.
func (eb *EventBuffer) Stop() {
	eb.stopOnce.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.wg.Wait()
		eb.Flush()
	})
}
