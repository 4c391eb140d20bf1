package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// defaultQueuedSyncLimit is the default queue depth.
const defaultQueuedSyncLimit = 32

// maxDeviceLen bounds a single device identifier's length.
const maxDeviceLen = 256

// Syncer is the per-store cloud sync engine. At most one task is Processing
// at any instant; Syncer enforces that via the queue/context/sync mutexes,
// each guarding exactly the state it owns.
type Syncer struct {
	storage StorageProxy
	cloud   CloudDB
	rt      RuntimeContext
	logger  *slog.Logger

	queuedSyncLimit int

	// Queue mutex: guards the ordered queue and taskId -> task map.
	queueMu sync.Mutex
	queue   []TaskID
	tasks   map[TaskID]*TaskInfo
	nextID  TaskID
	closed  bool

	// Context mutex + condvar: guards the live task context, signaled when
	// a task finishes so Close() can proceed.
	ctxMu         sync.Mutex
	ctxCond       *sync.Cond
	currentTaskID TaskID
	current       *taskContext

	// Sync mutex: serializes runTask against CleanCloudData.
	syncMu sync.Mutex

	heartbeat *heartbeatState
	inflight  *inflightCounter // callback delivery counter (Callback mutex equivalent)

	// retryCap bounds consecutive empty-page cursor-rotation retries
	// in the download pipeline.
	retryCap int
}

// NewSyncer constructs a Syncer. rt is the background-execution handle the
// syncer schedules driver runs, heartbeat ticks, and callback delivery onto.
func NewSyncer(storage StorageProxy, cloud CloudDB, rt RuntimeContext, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		storage:         storage,
		cloud:           cloud,
		rt:              rt,
		logger:          logger,
		queuedSyncLimit: defaultQueuedSyncLimit,
		tasks:           make(map[TaskID]*TaskInfo),
		inflight:        newInflightCounter(),
		retryCap:        16,
	}
	s.ctxCond = sync.NewCond(&s.ctxMu)
	s.heartbeat = newHeartbeatState(cloud, rt, s.setTaskFailed)

	return s
}

// SetQueuedSyncLimit overrides the default queue depth (32).
func (s *Syncer) SetQueuedSyncLimit(n int) {
	if n > 0 {
		s.queuedSyncLimit = n
	}
}

// SetRetryCap overrides the cursor-rotation retry cap (default 16).
func (s *Syncer) SetRetryCap(n int) {
	if n > 0 {
		s.retryCap = n
	}
}

// Sync validates and enqueues a TaskInfo, returning its assigned TaskID.
// Returns ErrBusy if the queue is at capacity, ErrInvalidArgs if devices or
// mode are malformed, and ErrDbClosed if the syncer has been closed.
func (s *Syncer) Sync(info TaskInfo) (TaskID, error) {
	if err := validateTaskInfo(&info); err != nil {
		return 0, err
	}

	info.Tables = normalizeKeys(info.Tables)
	info.Devices = normalizeKeys(info.Devices)

	s.queueMu.Lock()

	if s.closed {
		s.queueMu.Unlock()
		return 0, wrapStatus(StatusDbClosed, "syncer is closed", nil)
	}

	if len(s.queue) >= s.queuedSyncLimit {
		s.queueMu.Unlock()
		return 0, ErrBusy
	}

	id := s.nextTaskIDLocked()
	info.TaskID = id
	info.status = TaskPrepared

	task := info
	s.tasks[id] = &task
	s.queue = append(s.queue, id)
	shouldRun := len(s.queue) == 1

	s.queueMu.Unlock()

	if shouldRun {
		s.rt.Go(s.driverLoop)
	}

	return id, nil
}

// nextTaskIDLocked assigns the next non-zero task id, wrapping past zero.
// Must be called with queueMu held.
func (s *Syncer) nextTaskIDLocked() TaskID {
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}

	return s.nextID
}

func validateTaskInfo(info *TaskInfo) error {
	if len(info.Devices) != 1 || info.Devices[0] == "" {
		return wrapStatus(StatusInvalidArgs, "exactly one non-empty device id required", nil)
	}

	if len(info.Devices[0]) > maxDeviceLen {
		return wrapStatus(StatusInvalidArgs, "device id too long", nil)
	}

	if len(info.Tables) == 0 {
		return wrapStatus(StatusInvalidArgs, "at least one table required", nil)
	}

	if !info.Mode.valid() {
		return wrapStatus(StatusInvalidArgs, "mode out of range", nil)
	}

	return nil
}

// driverLoop pops the head task, promotes it to current, runs it to
// completion, tears it down, and re-schedules itself while the queue is
// non-empty. Scheduled via rt.Go, so at most one instance
// should be live at a time in practice (Sync() only schedules one when the
// queue transitions empty -> non-empty; this loop keeps draining until
// empty again).
func (s *Syncer) driverLoop() {
	for {
		task, ok := s.dequeue()
		if !ok {
			return
		}

		s.runTaskGuarded(task)
	}
}

// dequeue pops the head of the queue and promotes it to current.
func (s *Syncer) dequeue() (*TaskInfo, bool) {
	s.queueMu.Lock()

	if len(s.queue) == 0 {
		s.queueMu.Unlock()
		return nil, false
	}

	id := s.queue[0]
	s.queue = s.queue[1:]
	task := s.tasks[id]

	s.queueMu.Unlock()

	s.ctxMu.Lock()
	s.currentTaskID = id
	s.current = newTaskContext()
	s.current.currentTaskID = id
	s.current.strategy = newStrategy(task.Mode)
	s.current.notifier = newProcessNotifier(task.Tables, task.Devices, s.rt, s.inflight)
	s.ctxMu.Unlock()

	return task, true
}

// runTaskGuarded runs one task then tears down the context, regardless of
// outcome, and removes it from the task map.
func (s *Syncer) runTaskGuarded(task *TaskInfo) {
	ctx := context.Background()
	taskCtx, cancel := task.deadline(ctx)

	defer cancel()

	s.runTask(taskCtx, task)

	s.ctxMu.Lock()
	notifier := s.current.notifier
	s.currentTaskID = 0
	s.current = nil
	s.ctxCond.Broadcast()
	s.ctxMu.Unlock()

	notifier.finish(task)

	s.queueMu.Lock()
	delete(s.tasks, task.TaskID)
	s.queueMu.Unlock()
}

// setTaskFailed records err as the task's first non-OK error, ignoring
// subsequent failures. Called from the driver at batch boundaries and
// asynchronously from heartbeat failures.
func (s *Syncer) setTaskFailed(id TaskID, err error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.errCode != nil {
		return
	}

	task.errCode = err
}

// checkTaskValid reports the task's first recorded error (including one set
// asynchronously by the heartbeat) or ErrDbClosed if the syncer has been
// closed. Read at every batch boundary so a task aborts promptly.
func (s *Syncer) checkTaskValid(id TaskID) error {
	s.queueMu.Lock()
	closed := s.closed
	task, ok := s.tasks[id]
	s.queueMu.Unlock()

	if closed {
		return ErrDbClosed
	}

	if !ok {
		return wrapStatus(StatusInternalError, "task vanished from task map", nil)
	}

	return task.errCode
}

// Close stops accepting new tasks, closes the cloud DB, waits for the
// current task to drain, fails every still-queued task with DbClosed, closes
// the storage proxy, and waits for all outstanding callback deliveries, in
// that order.
func (s *Syncer) Close() error {
	s.queueMu.Lock()
	s.closed = true
	s.queueMu.Unlock()

	s.cloud.Close()

	s.ctxMu.Lock()
	for s.currentTaskID != 0 {
		s.ctxCond.Wait()
	}
	s.ctxMu.Unlock()

	s.queueMu.Lock()
	remaining := make([]*TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		remaining = append(remaining, t)
	}
	s.queue = nil
	s.tasks = make(map[TaskID]*TaskInfo)
	s.queueMu.Unlock()

	for _, t := range remaining {
		t.errCode = ErrDbClosed
		notifier := newProcessNotifier(t.Tables, t.Devices, s.rt, s.inflight)
		notifier.finish(t)
	}

	if err := s.storage.Close(); err != nil {
		s.logger.Error("cloudsync: storage proxy close failed", slog.String("error", err.Error()))
	}

	s.inflight.wait()

	return nil
}

// CleanCloudData clears local cloud-linkage flags for the given tables; in
// CleanFlagAndData mode it additionally removes any cloud-side assets those
// rows referenced. Serialized against runTask via syncMu.
func (s *Syncer) CleanCloudData(ctx context.Context, mode CleanMode, tables []string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	tables = normalizeKeys(tables)

	assets, err := s.storage.CleanCloudData(ctx, mode, tables)
	if err != nil {
		return fmt.Errorf("cloudsync: clean cloud data: %w", err)
	}

	if mode == CleanFlagAndData && len(assets) > 0 {
		if st := s.cloud.RemoveLocalAssets(ctx, assets); st != StatusOK {
			return wrapStatus(st, "remove local assets", nil)
		}
	}

	return nil
}
