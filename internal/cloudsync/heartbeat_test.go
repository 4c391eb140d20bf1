package cloudsync

import (
	"context"
	"testing"
	"time"

	"github.com/distributeddb/cloudsync/internal/refcloud"
	"github.com/distributeddb/cloudsync/internal/runtimectx"
)

func TestHeartbeat_LockStartsTimerAndTicksSucceed(t *testing.T) {
	cloud := refcloud.New(3000, 50)
	rt := &runtimectx.Inline{}

	var failedID TaskID
	var failedErr error
	h := newHeartbeatState(cloud, rt, func(id TaskID, err error) {
		failedID, failedErr = id, err
	})

	if err := h.lockCloud(context.Background(), TaskID(1)); err != nil {
		t.Fatalf("lockCloud: %v", err)
	}

	rt.Tick()
	rt.Tick()

	if cloud.HeartbeatCount() != 2 {
		t.Fatalf("want 2 heartbeats recorded, got %d", cloud.HeartbeatCount())
	}

	if failedErr != nil {
		t.Fatalf("want no failure recorded, got id=%v err=%v", failedID, failedErr)
	}

	if err := h.unlockCloud(context.Background()); err != nil {
		t.Fatalf("unlockCloud: %v", err)
	}
}

func TestHeartbeat_LockFailurePropagates(t *testing.T) {
	cloud := refcloud.New(3000, 50)
	cloud.FailNextLock()
	rt := &runtimectx.Inline{}

	h := newHeartbeatState(cloud, rt, func(TaskID, error) {})

	if err := h.lockCloud(context.Background(), TaskID(1)); err == nil {
		t.Fatal("want lockCloud to propagate the cloud's lock failure")
	}
}

func TestHeartbeat_TwoConsecutiveFailuresFailsTask(t *testing.T) {
	cloud := &failingHeartbeatCloud{Double: refcloud.New(3000, 50)}
	rt := &runtimectx.Inline{}

	var failedID TaskID
	failCount := 0
	h := newHeartbeatState(cloud, rt, func(id TaskID, err error) {
		failedID = id
		failCount++
	})

	if err := h.lockCloud(context.Background(), TaskID(42)); err != nil {
		t.Fatalf("lockCloud: %v", err)
	}

	rt.Tick()
	rt.Tick()

	if failCount != 1 {
		t.Fatalf("want exactly one failure callback after 2 consecutive failures, got %d", failCount)
	}

	if failedID != TaskID(42) {
		t.Fatalf("want failed task id 42, got %v", failedID)
	}
}

func TestHeartbeat_UnlockWaitsForInFlightTicks(t *testing.T) {
	cloud := refcloud.New(3000, 50)
	rt := &runtimectx.Inline{}

	h := newHeartbeatState(cloud, rt, func(TaskID, error) {})

	if err := h.lockCloud(context.Background(), TaskID(1)); err != nil {
		t.Fatalf("lockCloud: %v", err)
	}

	rt.Tick()

	done := make(chan struct{})
	go func() {
		h.unlockCloud(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unlockCloud did not return after in-flight tick completed")
	}
}

// failingHeartbeatCloud wraps refcloud.Double to force every Heartbeat call
// to fail, for exercising heartbeatState's failure-threshold logic.
type failingHeartbeatCloud struct {
	*refcloud.Double
}

func (f *failingHeartbeatCloud) Heartbeat(ctx context.Context) Status {
	return StatusCloudError
}
