// Package refcloud is an in-memory reference implementation of
// cloudsync.CloudDB for tests and the demo CLI, emulating cursor pagination,
// the lock/heartbeat/unlock protocol, and asset transfer without a real
// network round trip.
package refcloud

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/distributeddb/cloudsync/internal/cloudsync"
)

// cloudRow is one record as the cloud backend sees it.
type cloudRow struct {
	gid       string
	seq       int64 // monotonic write sequence, doubles as the cursor and #_modifyTime source
	createSeq int64
	data      *cloudsync.VBucket
	deleted   bool
	assets    map[string][]cloudsync.Asset
}

// Double is an in-memory CloudDB. Safe for concurrent use.
type Double struct {
	mu      sync.Mutex
	rows    map[string]map[string]*cloudRow // table -> gid -> row
	seq     int64
	leaseMs int64

	locked       atomic.Bool
	heartbeats   atomic.Int64
	failNextLock bool
	pageSize     int
}

// New returns an empty Double with the given lock lease and query page size.
func New(leaseMs int64, pageSize int) *Double {
	if pageSize <= 0 {
		pageSize = 50
	}

	return &Double{
		rows:     make(map[string]map[string]*cloudRow),
		leaseMs:  leaseMs,
		pageSize: pageSize,
	}
}

// FailNextLock makes the next Lock call return StatusCloudError once, for
// heartbeat-failure test scenarios.
func (d *Double) FailNextLock() {
	d.mu.Lock()
	d.failNextLock = true
	d.mu.Unlock()
}

// HeartbeatCount reports how many successful Heartbeat calls were observed.
func (d *Double) HeartbeatCount() int64 {
	return d.heartbeats.Load()
}

func (d *Double) nextSeq() int64 {
	d.seq++
	return d.seq
}

func (d *Double) table(name string) map[string]*cloudRow {
	t, ok := d.rows[name]
	if !ok {
		t = make(map[string]*cloudRow)
		d.rows[name] = t
	}

	return t
}

// --- Mutation ---------------------------------------------------------

func (d *Double) BatchInsert(ctx context.Context, table string, records []*cloudsync.VBucket, extends []map[string]cloudsync.Value) (cloudsync.BatchResult, cloudsync.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.table(table)

	for i, rec := range records {
		gid := uuid.NewString()
		seq := d.nextSeq()

		t[gid] = &cloudRow{gid: gid, seq: seq, createSeq: seq, data: rec.Clone(), assets: collectAssets(rec)}

		extends[i][cloudsync.FieldGid] = cloudsync.StringValue(gid)
		extends[i][cloudsync.FieldCursor] = cloudsync.StringValue(cursorFor(seq))
		extends[i][cloudsync.FieldDeleted] = cloudsync.BoolValue(false)
	}

	return cloudsync.BatchResult{SuccessCount: len(records)}, cloudsync.StatusOK
}

func (d *Double) BatchUpdate(ctx context.Context, table string, records []*cloudsync.VBucket, extends []map[string]cloudsync.Value) (cloudsync.BatchResult, cloudsync.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.table(table)
	success := 0

	for i, rec := range records {
		gidVal, ok := extends[i][cloudsync.FieldGid]
		if !ok || gidVal.Kind != cloudsync.KindString {
			return cloudsync.BatchResult{SuccessCount: success}, cloudsync.StatusInvalidArgs
		}

		row, exists := t[gidVal.Str]
		if !exists {
			continue
		}

		seq := d.nextSeq()
		row.seq = seq
		row.data = rec.Clone()
		row.assets = collectAssets(rec)
		row.deleted = false

		extends[i][cloudsync.FieldCursor] = cloudsync.StringValue(cursorFor(seq))
		extends[i][cloudsync.FieldDeleted] = cloudsync.BoolValue(false)
		success++
	}

	return cloudsync.BatchResult{SuccessCount: success}, cloudsync.StatusOK
}

func (d *Double) BatchDelete(ctx context.Context, table string, extends []map[string]cloudsync.Value) (cloudsync.BatchResult, cloudsync.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.table(table)
	success := 0

	for i, extend := range extends {
		gidVal, ok := extend[cloudsync.FieldGid]
		if !ok || gidVal.Kind != cloudsync.KindString {
			return cloudsync.BatchResult{SuccessCount: success}, cloudsync.StatusInvalidArgs
		}

		row, exists := t[gidVal.Str]
		if !exists {
			continue
		}

		seq := d.nextSeq()
		row.seq = seq
		row.deleted = true

		extends[i][cloudsync.FieldCursor] = cloudsync.StringValue(cursorFor(seq))
		extends[i][cloudsync.FieldDeleted] = cloudsync.BoolValue(true)
		success++
	}

	return cloudsync.BatchResult{SuccessCount: success}, cloudsync.StatusOK
}

// --- Query / download -----------------------------------------------------

// Query returns rows with seq strictly greater than extend["cursor"], up to
// pageSize, ordered by seq. On an empty result it rotates the cursor forward
// to the newest known seq so a caller polling an idle table doesn't spin on
// the same empty cursor value forever.
func (d *Double) Query(ctx context.Context, table string, extend map[string]cloudsync.Value) ([]*cloudsync.VBucket, cloudsync.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	after := int64(0)
	if v, ok := extend[cloudsync.FieldCursor]; ok && v.Kind == cloudsync.KindString && v.Str != "" {
		after = seqFromCursor(v.Str)
	}

	t := d.table(table)

	rows := make([]*cloudRow, 0, len(t))
	for _, r := range t {
		if r.seq > after {
			rows = append(rows, r)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	if len(rows) == 0 {
		extend[cloudsync.FieldCursor] = cloudsync.StringValue(cursorFor(d.seq))
		return nil, cloudsync.StatusOK
	}

	page := rows
	status := cloudsync.StatusQueryEnd

	if len(rows) > d.pageSize {
		page = rows[:d.pageSize]
		status = cloudsync.StatusOK
	}

	out := make([]*cloudsync.VBucket, len(page))
	for i, r := range page {
		out[i] = wireRecord(r)
	}

	return out, status
}

// Download marks every requested asset Normal, simulating a successful
// transfer with no actual byte movement.
func (d *Double) Download(ctx context.Context, table, gid string, primaryKey map[string]cloudsync.Value, assets map[string][]cloudsync.Asset) cloudsync.Status {
	for field, list := range assets {
		for i := range list {
			list[i].Status = cloudsync.AssetStatusNormal
		}

		assets[field] = list
	}

	return cloudsync.StatusOK
}

// --- Lock / heartbeat -------------------------------------------------

func (d *Double) Lock(ctx context.Context) (cloudsync.LockInfo, cloudsync.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNextLock {
		d.failNextLock = false
		return cloudsync.LockInfo{}, cloudsync.StatusCloudError
	}

	if d.locked.Load() {
		return cloudsync.LockInfo{}, cloudsync.StatusBusy
	}

	d.locked.Store(true)

	return cloudsync.LockInfo{LeaseMs: d.leaseMs}, cloudsync.StatusOK
}

func (d *Double) Heartbeat(ctx context.Context) cloudsync.Status {
	if !d.locked.Load() {
		return cloudsync.StatusInvalidArgs
	}

	d.heartbeats.Add(1)

	return cloudsync.StatusOK
}

func (d *Double) Unlock(ctx context.Context) cloudsync.Status {
	d.locked.Store(false)
	return cloudsync.StatusOK
}

func (d *Double) RemoveLocalAssets(ctx context.Context, assets []cloudsync.Asset) cloudsync.Status {
	return cloudsync.StatusOK
}

func (d *Double) Close() cloudsync.Status {
	return cloudsync.StatusOK
}

// --- helpers ----------------------------------------------------------

func cursorFor(seq int64) string {
	return fmt.Sprintf("seq:%d", seq)
}

func seqFromCursor(cursor string) int64 {
	var seq int64

	_, _ = fmt.Sscanf(cursor, "seq:%d", &seq)

	return seq
}

func wireRecord(r *cloudRow) *cloudsync.VBucket {
	out := r.data.Clone()
	out.Set(cloudsync.FieldGid, cloudsync.StringValue(r.gid))
	out.Set(cloudsync.FieldCreateTime, cloudsync.Int64Value(r.createSeq*10000))
	out.Set(cloudsync.FieldModifyTime, cloudsync.Int64Value(r.seq*10000))
	out.Set(cloudsync.FieldDeleted, cloudsync.BoolValue(r.deleted))
	out.Set(cloudsync.FieldCursor, cloudsync.StringValue(cursorFor(r.seq)))

	for field, list := range r.assets {
		if len(list) == 1 {
			out.Set(field, cloudsync.AssetValue(list[0]))
		} else {
			out.Set(field, cloudsync.AssetsValue(list))
		}
	}

	return out
}

func collectAssets(rec *cloudsync.VBucket) map[string][]cloudsync.Asset {
	out := make(map[string][]cloudsync.Asset)

	for _, c := range rec.Cols() {
		v, _ := rec.Get(c)

		switch v.Kind {
		case cloudsync.KindAsset:
			out[c] = []cloudsync.Asset{v.Asset}
		case cloudsync.KindAssets:
			out[c] = v.Assets
		}
	}

	return out
}
