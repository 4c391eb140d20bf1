package cloudsync

import (
	"sync"

	"github.com/dustin/go-humanize"
)

// ProcessStatus is the lifecycle status reported to users for a task or a
// single table within it.
type ProcessStatus int

const (
	ProcessPrepared ProcessStatus = iota
	ProcessProcessing
	ProcessFinished
)

// DirectionInfo carries batch counters for one direction (download or
// upload) of one table. BatchIndex is monotonic per direction so callers
// can detect reordered or duplicate deliveries.
type DirectionInfo struct {
	BatchIndex   int
	Total        int
	SuccessCount int
	FailCount    int
}

func (d *DirectionInfo) merge(delta DirectionInfo) {
	if delta.BatchIndex > d.BatchIndex {
		d.BatchIndex = delta.BatchIndex
	}

	d.Total += delta.Total
	d.SuccessCount += delta.SuccessCount
	d.FailCount += delta.FailCount
}

// TableProcessInfo is the per-table progress folded into SyncProcess.
type TableProcessInfo struct {
	Status       ProcessStatus
	DownloadInfo DirectionInfo
	UploadInfo   DirectionInfo
}

// SyncProcess is the accumulator delivered to the user callback.
type SyncProcess struct {
	ErrCode       error
	OverallStatus ProcessStatus
	TableProcess  map[string]TableProcessInfo
}

// tableUpdate is the delta a pipeline stage reports for a single table.
type tableUpdate struct {
	table      string
	status     ProcessStatus
	isDownload bool
	delta      DirectionInfo
}

// processNotifier accumulates per-table progress for one task and schedules
// delivery of the accumulated SyncProcess to the user callback. It holds a
// runtime handle rather than reaching through a global scheduler, and no
// pointer back to the syncer: it shares only the syncer's in-flight counter,
// which Close() waits on, so the notifier needs no lifetime of its own.
type processNotifier struct {
	mu      sync.Mutex
	process SyncProcess
	devices []string

	rt       RuntimeContext
	inflight *inflightCounter
}

func newProcessNotifier(tables, devices []string, rt RuntimeContext, inflight *inflightCounter) *processNotifier {
	tp := make(map[string]TableProcessInfo, len(tables))
	for _, t := range tables {
		tp[t] = TableProcessInfo{Status: ProcessPrepared}
	}

	return &processNotifier{
		process: SyncProcess{
			OverallStatus: ProcessProcessing,
			TableProcess:  tp,
		},
		devices:  append([]string(nil), devices...),
		rt:       rt,
		inflight: inflight,
	}
}

// update merges a single-table delta into the accumulator under the lock.
func (n *processNotifier) update(u tableUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()

	info := n.process.TableProcess[u.table]
	info.Status = u.status

	if u.isDownload {
		info.DownloadInfo.merge(u.delta)
	} else {
		info.UploadInfo.merge(u.delta)
	}

	n.process.TableProcess[u.table] = info
}

// notify folds u into the accumulator, then — unless the task already
// recorded an error and notifyWhenError is false — schedules delivery of a
// snapshot to the user callback on the runtime handle.
func (n *processNotifier) notify(task *TaskInfo, u tableUpdate, notifyWhenError bool) {
	n.update(u)

	if task.errCode != nil && !notifyWhenError {
		return
	}

	n.deliver(task)
}

// finish marks the overall process Finished with the task's first recorded
// error and always delivers, regardless of notifyWhenError — every task
// lifecycle ends with exactly one such notification.
func (n *processNotifier) finish(task *TaskInfo) {
	n.mu.Lock()
	n.process.OverallStatus = ProcessFinished
	n.process.ErrCode = task.errCode
	n.mu.Unlock()

	n.deliver(task)
}

func (n *processNotifier) deliver(task *TaskInfo) {
	if task.Callback == nil {
		return
	}

	n.mu.Lock()
	snapshot := n.snapshotLocked()
	n.mu.Unlock()

	n.inflight.add(1)
	n.rt.Go(func() {
		defer n.inflight.add(-1)
		task.Callback(snapshot)
	})
}

func (n *processNotifier) snapshotLocked() map[string]SyncProcess {
	tp := make(map[string]TableProcessInfo, len(n.process.TableProcess))
	for k, v := range n.process.TableProcess {
		tp[k] = v
	}

	proc := SyncProcess{
		ErrCode:       n.process.ErrCode,
		OverallStatus: n.process.OverallStatus,
		TableProcess:  tp,
	}

	out := make(map[string]SyncProcess, len(n.devices))
	for _, d := range n.devices {
		out[d] = proc
	}

	return out
}

// summaryLine renders a one-line human-readable progress summary, used by
// the demo CLI and debug logging — not part of the wire contract.
func (n *processNotifier) summaryLine(table string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	info := n.process.TableProcess[table]

	return humanize.Comma(int64(info.DownloadInfo.SuccessCount)) + " downloaded, " +
		humanize.Comma(int64(info.UploadInfo.SuccessCount)) + " uploaded"
}

// inflightCounter tracks outstanding callback deliveries so Close() can
// wait for drainage: a WaitGroup-like counter paired with a condvar.
type inflightCounter struct {
	mu    sync.Mutex
	count int
	cond  *sync.Cond
}

func newInflightCounter() *inflightCounter {
	c := &inflightCounter{}
	c.cond = sync.NewCond(&c.mu)

	return c
}

func (c *inflightCounter) add(delta int) {
	c.mu.Lock()
	c.count += delta
	if c.count <= 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *inflightCounter) wait() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count > 0 {
		c.cond.Wait()
	}
}
