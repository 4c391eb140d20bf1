// Package cloudsync implements the cloud syncer: a per-store engine that
// bidirectionally reconciles local tables against a remote cloud backend,
// record by record, including per-column binary asset payloads. It owns the
// task queue, the download/upload loop, the asset diff algorithm, the
// pluggable merge-strategy layer, the heartbeat/lock protocol, and the
// schema checker. Everything else — language bindings, the on-disk storage
// engine, the cloud transport, device trust — is an external collaborator
// reached only through the CloudDB and StorageProxy interfaces.
package cloudsync

import (
	"context"
	"time"
)

// --- Record value model -----------------------------------------------

// ValueKind tags the variant stored in a Value.
type ValueKind int

// Value variants. A record column holds exactly one of these.
const (
	KindNil ValueKind = iota
	KindInt64
	KindDouble
	KindBool
	KindString
	KindBytes
	KindAsset
	KindAssets
)

// Value is a tagged union over the wire value types a VBucket column can
// hold. Exactly one of the typed fields is meaningful, selected by Kind.
// Validating code must pattern-match exhaustively over Kind and reject any
// value outside this closed set at the boundary.
type Value struct {
	Kind   ValueKind
	Int    int64
	Double float64
	Bool   bool
	Str    string
	Bytes  []byte
	Asset  Asset
	Assets []Asset
}

// NilValue, Int64Value, ... construct tagged Values. Kept as free functions
// (not a Value method set) since Value is a plain data carrier.
func NilValue() Value                { return Value{Kind: KindNil} }
func Int64Value(v int64) Value       { return Value{Kind: KindInt64, Int: v} }
func DoubleValue(v float64) Value    { return Value{Kind: KindDouble, Double: v} }
func BoolValue(v bool) Value         { return Value{Kind: KindBool, Bool: v} }
func StringValue(v string) Value     { return Value{Kind: KindString, Str: v} }
func BytesValue(v []byte) Value      { return Value{Kind: KindBytes, Bytes: v} }
func AssetValue(v Asset) Value       { return Value{Kind: KindAsset, Asset: v} }
func AssetsValue(v []Asset) Value    { return Value{Kind: KindAssets, Assets: v} }

// VBucket is an ordered column-name to tagged-value mapping representing one
// record on the wire. Insertion order is not semantically significant, but
// Cols preserves it for deterministic serialization in tests and logs.
type VBucket struct {
	values map[string]Value
	cols   []string
}

// NewVBucket returns an empty bucket.
func NewVBucket() *VBucket {
	return &VBucket{values: make(map[string]Value)}
}

// Set assigns a column, appending it to insertion order the first time it
// is seen.
func (b *VBucket) Set(col string, v Value) {
	if _, exists := b.values[col]; !exists {
		b.cols = append(b.cols, col)
	}

	b.values[col] = v
}

// Get returns the column's value and whether it is present.
func (b *VBucket) Get(col string) (Value, bool) {
	v, ok := b.values[col]
	return v, ok
}

// Cols returns column names in insertion order.
func (b *VBucket) Cols() []string {
	return b.cols
}

// Clone performs a shallow copy sufficient for in-place asset mutation
// during tagging (the tagger replaces whole Asset/Assets values, never
// mutates Bytes/Str contents in place).
func (b *VBucket) Clone() *VBucket {
	out := NewVBucket()
	for _, c := range b.cols {
		out.Set(c, b.values[c])
	}

	return out
}

// --- Assets --------------------------------------------------------------

// AssetFlag describes the desired operation on an asset.
type AssetFlag int

const (
	AssetFlagNoChange AssetFlag = iota
	AssetFlagInsert
	AssetFlagUpdate
	AssetFlagDelete
)

// AssetStatus describes the transfer state of an asset.
type AssetStatus int

const (
	AssetStatusNormal AssetStatus = iota
	AssetStatusDownloading
	AssetStatusAbnormal
	AssetStatusInsert
	AssetStatusUpdate
	AssetStatusDelete
)

// Asset is a blob attached to a column, referenced by name+hash and
// transferred independently of the record it lives on.
type Asset struct {
	Name      string
	URI       string
	Hash      string
	Flag      AssetFlag
	Status    AssetStatus
	Timestamp int64
}

// FieldKind distinguishes a single-Asset column from a list-of-Assets column.
type FieldKind int

const (
	FieldKindAsset FieldKind = iota
	FieldKindAssets
)

// AssetField describes one asset-bearing column of a table, as reported by
// StorageProxy.GetPrimaryColNamesWithAssetsFields.
type AssetField struct {
	ColName string
	Kind    FieldKind
}

// --- Log info --------------------------------------------------------------

// LogFlag bits for LogInfo.Flag.
const (
	LogFlagDeleted = 1 << 0
)

// LogInfo is the per-row bookkeeping record, local or cloud, used by the
// strategy to decide an operation.
type LogInfo struct {
	Timestamp  int64 // local: last-write time; cloud: modifyTime
	WTimestamp int64 // creation time
	Flag       int
	DataKey    int64  // local row id, meaningless for cloud-side LogInfo
	CloudGid   string // empty if the row has never synced to the cloud
}

// Deleted reports whether the deleted bit is set.
func (l LogInfo) Deleted() bool {
	return l.Flag&LogFlagDeleted != 0
}

// --- Op types ---------------------------------------------------------------

// OpType is the per-record action decided by the strategy.
type OpType int

const (
	OpInsert OpType = iota
	OpUpdate
	OpDelete
	OpNotHandle
	OpOnlyUpdateGid
	OpClearGidFlag
)

func (o OpType) String() string {
	switch o {
	case OpInsert:
		return "Insert"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	case OpNotHandle:
		return "NotHandle"
	case OpOnlyUpdateGid:
		return "OnlyUpdateGid"
	case OpClearGidFlag:
		return "ClearGidFlag"
	default:
		return "Unknown"
	}
}

// ChangeType buckets an OpType for change notification purposes.
type ChangeType int

const (
	ChangeInsert ChangeType = iota
	ChangeUpdate
	ChangeDelete
)

// OpTypeToChangeType maps an applied OpType to its notification bucket.
// NotHandle/OnlyUpdateGid/ClearGidFlag never reach the caller as changes.
func OpTypeToChangeType(op OpType) (ChangeType, bool) {
	switch op {
	case OpInsert:
		return ChangeInsert, true
	case OpUpdate:
		return ChangeUpdate, true
	case OpDelete:
		return ChangeDelete, true
	default:
		return 0, false
	}
}

// --- Download/upload batches -------------------------------------------

// DownloadRecord is a single tagged record from a download batch, carrying
// the record data, its decided operation, and its cloud gid/cursor
// together instead of as parallel slices.
type DownloadRecord struct {
	Data   *VBucket
	Op     OpType
	Cursor string // this record's #_cursor, used to advance the watermark
	Gid    string
}

// DownloadBatch is one page returned by CloudDB.Query, tagged by the
// strategy.
type DownloadBatch struct {
	Records []DownloadRecord
}

// ExtendedRecord pairs a record with its reserved-field extend map, the
// wire shape CloudDB.batchInsert/batchUpdate/batchDelete expect.
type ExtendedRecord struct {
	Record *VBucket
	Extend map[string]Value
}

// UploadBatch groups pending local changes by operation for one round-trip.
// Invariant: len(Ins.Record) == len(Ins.Extend), and likewise for Upd/Del.
type UploadBatch struct {
	TableName string
	Ins       struct {
		Record []*VBucket
		Extend []map[string]Value
	}
	Upd struct {
		Record []*VBucket
		Extend []map[string]Value
	}
	Del struct {
		Record []*VBucket
		Extend []map[string]Value
	}
}

func (b *UploadBatch) totalRecords() int {
	return len(b.Ins.Record) + len(b.Upd.Record) + len(b.Del.Record)
}

// --- Task model --------------------------------------------------------

// TaskID is a monotonically increasing, non-zero task identifier.
type TaskID uint64

// Mode selects the sync strategy and direction.
type Mode int

const (
	ModePushOnly Mode = iota
	ModePullOnly
	ModePushPull
	ModeForcePush
	ModeForcePull
	ModeMerge
)

func (m Mode) valid() bool {
	return m >= ModePushOnly && m <= ModeMerge
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus int

const (
	TaskPrepared TaskStatus = iota
	TaskProcessing
	TaskFinished
)

// ProcessCallback receives the per-device sync progress. Delivered on an
// internal worker, never on the submitting goroutine.
type ProcessCallback func(map[string]SyncProcess)

// TaskInfo describes a unit of sync work as submitted by a caller.
type TaskInfo struct {
	TaskID    TaskID
	Mode      Mode
	Tables    []string
	Devices   []string
	Callback  ProcessCallback
	TimeoutMs int64

	status  TaskStatus
	errCode error // first recorded error, nil while OK
}

// Status returns the task's current lifecycle status.
func (t *TaskInfo) Status() TaskStatus { return t.status }

// Err returns the task's first recorded error, or nil.
func (t *TaskInfo) Err() error { return t.errCode }

// deadline builds a context carrying the task's advisory timeout.
func (t *TaskInfo) deadline(parent context.Context) (context.Context, context.CancelFunc) {
	if t.TimeoutMs <= 0 {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, time.Duration(t.TimeoutMs)*time.Millisecond)
}

// CleanMode controls how CleanCloudData treats previously-synced rows.
type CleanMode int

const (
	// CleanFlagOnly clears local cloud-linkage flags/gids without touching
	// the cloud or removing any asset payload.
	CleanFlagOnly CleanMode = iota
	// CleanFlagAndData additionally calls CloudDB.RemoveLocalAssets for any
	// assets referenced by the cleared rows.
	CleanFlagAndData
)
