package runtimectx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GoRunsSubmittedWork(t *testing.T) {
	p := New(4, nil)
	defer func() { require.NoError(t, p.Close()) }()

	var n atomic.Int32

	done := make(chan struct{})
	p.Go(func() {
		n.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled work")
	}

	assert.Equal(t, int32(1), n.Load())
}

func TestPool_ScheduleStopsOnFalse(t *testing.T) {
	p := New(4, nil)
	defer func() { require.NoError(t, p.Close()) }()

	var n atomic.Int32
	done := make(chan struct{})

	cancel := p.Schedule(5*time.Millisecond, func() bool {
		count := n.Add(1)
		if count >= 3 {
			close(done)
			return false
		}

		return true
	})
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule never reached its stop condition")
	}
}

func TestInline_GoRunsSynchronously(t *testing.T) {
	var i Inline

	ran := false
	i.Go(func() { ran = true })

	assert.True(t, ran)
}

func TestInline_TickFiresUntilFalse(t *testing.T) {
	var i Inline

	calls := 0
	cancel := i.Schedule(time.Second, func() bool {
		calls++
		return calls < 2
	})
	defer cancel()

	i.Tick()
	i.Tick()
	i.Tick()

	assert.Equal(t, 2, calls, "schedule should stop firing once fn returns false")
}

func TestInline_CancelStopsFutureTicks(t *testing.T) {
	var i Inline

	calls := 0
	cancel := i.Schedule(time.Second, func() bool {
		calls++
		return true
	})

	i.Tick()
	cancel()
	i.Tick()

	assert.Equal(t, 1, calls)
}
