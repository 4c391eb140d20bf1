package cloudsync

import (
	"context"
	"sync"
	"time"
)

// maxHeartbeatFailedLimit is the number of consecutive heartbeat failures
// that fail the task.
const maxHeartbeatFailedLimit = 2

// heartbeatPeriodDivisor: the lock lease is divided by this to get the tick
// period.
const heartbeatPeriodDivisor = 3

// heartbeatInFlightLimit: if ticks queue up faster than they complete and
// the in-flight counter reaches this many, the task is failed — ticks are
// queuing faster than they run.
const heartbeatInFlightLimit = 3

// heartbeatState implements the lock/heartbeat/unlock protocol against
// CloudDB, scheduled via the RuntimeContext handle instead of a process-wide
// timer singleton. One heartbeatState instance is reused
// across tasks; lockCloud/unlockCloud bracket a single task's lifetime.
type heartbeatState struct {
	cloud      CloudDB
	rt         RuntimeContext
	setFailed  func(TaskID, error)

	mu            sync.Mutex
	cancelTimer   func()
	failedCount   int
	inFlight      int
	inFlightCond  *sync.Cond
}

func newHeartbeatState(cloud CloudDB, rt RuntimeContext, setFailed func(TaskID, error)) *heartbeatState {
	h := &heartbeatState{cloud: cloud, rt: rt, setFailed: setFailed}
	h.inFlightCond = sync.NewCond(&h.mu)

	return h
}

// lockCloud acquires the cloud-side distributed lock and starts the
// heartbeat timer at leaseMs/3 (one second if that rounds to zero). The lock
// stays held until unlockCloud.
func (h *heartbeatState) lockCloud(ctx context.Context, taskID TaskID) error {
	info, status := h.cloud.Lock(ctx)
	if status != StatusOK {
		return wrapStatus(status, "cloud lock failed", nil)
	}

	period := time.Duration(info.LeaseMs) * time.Millisecond / heartbeatPeriodDivisor
	if period <= 0 {
		period = time.Second
	}

	h.mu.Lock()
	h.failedCount = 0
	h.mu.Unlock()

	h.cancelTimer = h.rt.Schedule(period, func() bool {
		h.tick(ctx, taskID)
		return true
	})

	return nil
}

// unlockCloud cancels the timer, releases the lock, and waits for all
// scheduled ticks to drain.
func (h *heartbeatState) unlockCloud(ctx context.Context) error {
	if h.cancelTimer != nil {
		h.cancelTimer()
		h.cancelTimer = nil
	}

	h.waitAllTicksDone()

	if status := h.cloud.Unlock(ctx); status != StatusOK {
		return wrapStatus(status, "cloud unlock failed", nil)
	}

	return nil
}

func (h *heartbeatState) waitAllTicksDone() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.inFlight > 0 {
		h.inFlightCond.Wait()
	}
}

// tick runs one heartbeat attempt on the runtime handle. If ticks are
// queuing faster than they complete (inFlight reaches the limit before this
// one even starts its cloud call), the task fails outright — the cloud
// connection or worker pool can no longer keep up.
func (h *heartbeatState) tick(ctx context.Context, taskID TaskID) {
	h.mu.Lock()
	h.inFlight++
	overrun := h.inFlight >= heartbeatInFlightLimit
	h.mu.Unlock()

	h.rt.Go(func() {
		defer h.finishTick()

		if overrun {
			h.setFailed(taskID, ErrCloudError)
			return
		}

		if status := h.cloud.Heartbeat(ctx); status != StatusOK {
			h.onFailure(taskID)
		} else {
			h.onSuccess()
		}
	})
}

func (h *heartbeatState) finishTick() {
	h.mu.Lock()
	h.inFlight--
	if h.inFlight <= 0 {
		h.inFlightCond.Broadcast()
	}
	h.mu.Unlock()
}

func (h *heartbeatState) onSuccess() {
	h.mu.Lock()
	h.failedCount = 0
	h.mu.Unlock()
}

// onFailure bumps the consecutive-failure counter; two in a row fails the
// task and stops the timer.
func (h *heartbeatState) onFailure(taskID TaskID) {
	h.mu.Lock()
	h.failedCount++
	failed := h.failedCount >= maxHeartbeatFailedLimit
	h.mu.Unlock()

	if !failed {
		return
	}

	if h.cancelTimer != nil {
		h.cancelTimer()
		h.cancelTimer = nil
	}

	h.setFailed(taskID, ErrCloudError)
}
