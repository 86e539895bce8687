package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func (p *fakePruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestCleanupOldEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := &fakePruner{}

	CleanupOldEvents(context.Background(), p, 24*time.Hour, zap.New(core))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), p.cutoffs[0], time.Second)
	assert.Equal(t, 1, logs.FilterField(zap.Int64("deleted", 3)).Len())

	p.err = errors.New("db down")
	CleanupOldEvents(context.Background(), p, time.Hour, zap.New(core))
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestRunCleanup_StopsWithContext(t *testing.T) {
	p := &fakePruner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCleanup(ctx, p, time.Hour, 5*time.Millisecond, nil)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after cancel")
	}
}

func TestLogSink_WritesAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.WriteEvents(context.Background(), []Event{
		{TraceID: "t", Kind: KindDecision, Source: "access", Component: "evaluator", Action: "access.denied", Route: strPtr("/users")},
	})
	assert.NoError(t, err)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "access.evaluator", entries[0].Message)
		assert.Equal(t, "/users", entries[0].ContextMap()["route"])
	}
}
