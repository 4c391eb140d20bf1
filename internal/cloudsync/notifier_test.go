package cloudsync

import (
	"testing"
	"time"

	"github.com/distributeddb/cloudsync/internal/runtimectx"
)

func TestDirectionInfo_MergeAccumulatesAndTakesMaxBatchIndex(t *testing.T) {
	d := DirectionInfo{BatchIndex: 2, Total: 10, SuccessCount: 8, FailCount: 2}

	d.merge(DirectionInfo{BatchIndex: 1, Total: 5, SuccessCount: 5})
	if d.BatchIndex != 2 {
		t.Fatalf("want BatchIndex to stay at max(2,1)=2, got %d", d.BatchIndex)
	}

	d.merge(DirectionInfo{BatchIndex: 5, Total: 3, SuccessCount: 1, FailCount: 2})
	if d.BatchIndex != 5 || d.Total != 18 || d.SuccessCount != 14 || d.FailCount != 4 {
		t.Fatalf("unexpected merged state: %+v", d)
	}
}

func TestProcessNotifier_NotifyDeliversSnapshotToEveryDevice(t *testing.T) {
	rt := &runtimectx.Inline{}
	inflight := newInflightCounter()

	n := newProcessNotifier([]string{"notes"}, []string{"dev1", "dev2"}, rt, inflight)

	var got map[string]SyncProcess
	task := &TaskInfo{Callback: func(p map[string]SyncProcess) { got = p }}

	n.notify(task, tableUpdate{
		table:      "notes",
		status:     ProcessProcessing,
		isDownload: true,
		delta:      DirectionInfo{Total: 3, SuccessCount: 3},
	}, true)

	if len(got) != 2 {
		t.Fatalf("want a snapshot entry per device, got %d", len(got))
	}

	for _, dev := range []string{"dev1", "dev2"} {
		p, ok := got[dev]
		if !ok {
			t.Fatalf("missing snapshot for device %q", dev)
		}

		info := p.TableProcess["notes"]
		if info.DownloadInfo.SuccessCount != 3 {
			t.Fatalf("want download success count 3 for %q, got %d", dev, info.DownloadInfo.SuccessCount)
		}
	}
}

func TestProcessNotifier_NotifySuppressedAfterErrorUnlessForced(t *testing.T) {
	rt := &runtimectx.Inline{}
	inflight := newInflightCounter()

	n := newProcessNotifier([]string{"notes"}, []string{"dev1"}, rt, inflight)

	calls := 0
	task := &TaskInfo{Callback: func(map[string]SyncProcess) { calls++ }, errCode: ErrCloudError}

	n.notify(task, tableUpdate{table: "notes", status: ProcessProcessing}, false)
	if calls != 0 {
		t.Fatalf("want no delivery when task already failed and notifyWhenError=false, got %d calls", calls)
	}

	n.notify(task, tableUpdate{table: "notes", status: ProcessProcessing}, true)
	if calls != 1 {
		t.Fatalf("want delivery when notifyWhenError=true even after failure, got %d calls", calls)
	}
}

func TestProcessNotifier_FinishAlwaysDeliversWithOverallFinished(t *testing.T) {
	rt := &runtimectx.Inline{}
	inflight := newInflightCounter()

	n := newProcessNotifier([]string{"notes"}, []string{"dev1"}, rt, inflight)

	var got map[string]SyncProcess
	task := &TaskInfo{Callback: func(p map[string]SyncProcess) { got = p }}

	n.finish(task)

	if got["dev1"].OverallStatus != ProcessFinished {
		t.Fatalf("want OverallStatus Finished, got %v", got["dev1"].OverallStatus)
	}
}

func TestInflightCounter_WaitBlocksUntilDrained(t *testing.T) {
	c := newInflightCounter()
	c.add(2)

	done := make(chan struct{})
	go func() {
		c.wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before counter drained")
	case <-time.After(50 * time.Millisecond):
	}

	c.add(-1)
	c.add(-1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after counter drained to zero")
	}
}
