package cloudsync

import (
	"context"
	"time"
)

// --- RuntimeContext -----------------------------------------------------

// RuntimeContext is the background-execution handle the syncer schedules
// heartbeat ticks, callback deliveries, and driver runs onto. Passed in at
// construction instead of reached through a process-wide singleton, so a
// syncer's scheduled work is scoped and testable.
type RuntimeContext interface {
	// Go schedules fn to run on some worker, returning immediately.
	Go(fn func())
	// Schedule runs fn every interval d until fn returns false or the
	// returned cancel func is called. fn is invoked on a worker, not
	// inline on the scheduler's own goroutine.
	Schedule(d time.Duration, fn func() bool) (cancel func())
}

// --- CloudDB --------------------------------------------------------------

// LockInfo is returned by CloudDB.Lock.
type LockInfo struct {
	LeaseMs int64
}

// BatchResult reports how many rows in a batch call succeeded.
type BatchResult struct {
	SuccessCount int
}

// CloudDB is the plugin interface the core consumes for all cloud-side
// operations. Implementations must fill Extend entries as documented per
// method; the core never guesses a gid or cursor.
type CloudDB interface {
	// BatchInsert fills each extend with gid, cursor, and deleted=false;
	// returns the number of rows actually inserted.
	BatchInsert(ctx context.Context, table string, records []*VBucket, extends []map[string]Value) (BatchResult, Status)
	// BatchUpdate requires gid present in each extend; updates cursor and
	// deleted=false.
	BatchUpdate(ctx context.Context, table string, records []*VBucket, extends []map[string]Value) (BatchResult, Status)
	// BatchDelete requires gid in each extend; sets deleted=true and a new
	// cursor.
	BatchDelete(ctx context.Context, table string, extends []map[string]Value) (BatchResult, Status)
	// Query returns records strictly newer than extend["cursor"], up to an
	// implementation-defined page size. extend is mutated in place so the
	// caller can read back a rotated cursor on an empty page.
	Query(ctx context.Context, table string, extend map[string]Value) ([]*VBucket, Status)
	// Download transfers asset bytes for the named fields and updates each
	// asset's Status in place.
	Download(ctx context.Context, table, gid string, primaryKey map[string]Value, assets map[string][]Asset) Status
	Lock(ctx context.Context) (LockInfo, Status)
	Heartbeat(ctx context.Context) Status
	Unlock(ctx context.Context) Status
	// RemoveLocalAssets is used only by CleanCloudData in CleanFlagAndData
	// mode.
	RemoveLocalAssets(ctx context.Context, assets []Asset) Status
	Close() Status
}

// --- StorageProxy -----------------------------------------------------

// FieldType is the broad, cloud-portable type of a schema field.
type FieldType int

const (
	FieldInt FieldType = iota
	FieldFloat
	FieldString
	FieldBytes
	FieldBool
	FieldAsset
	FieldAssets
)

// SchemaField describes one column for schema-compatibility checking.
type SchemaField struct {
	Name     string
	Type     FieldType
	Primary  bool
	Nullable bool
}

// RelationalSchemaObject is the local table schema, as the storage engine
// reports it.
type RelationalSchemaObject struct {
	TableName string
	Fields    []SchemaField
}

// DatabaseSchema is the cached cloud-side schema for a table.
type DatabaseSchema struct {
	TableName string
	Fields    []SchemaField
	Exists    bool
}

// RecordInfo is what the storage proxy returns for a local lookup by
// primary key or gid.
type RecordInfo struct {
	Exists     bool
	Log        LogInfo
	PrimaryKey map[string]Value
	Assets     map[string][]Asset // snapshot for upload-path asset tagging
}

// ChangedData is the per-table, per-ChangeType accumulation of affected
// primary keys, used for the change-notification data plane.
type ChangedData struct {
	Table       string
	PrimaryData map[ChangeType][][]Value
}

// ContinueToken opaquely threads GetCloudData pagination state.
type ContinueToken struct {
	Table string
	Data  any
}

// StorageProxy is the local DB interface the core consumes. All mutating
// calls happen on the driver goroutine within a single task's lifetime; the
// core never holds two of its own mutexes while calling into it.
type StorageProxy interface {
	StartTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	CheckSchema(ctx context.Context, table string) (RelationalSchemaObject, DatabaseSchema, error)

	GetPrimaryColNamesWithAssetsFields(ctx context.Context, table string) ([]string, []AssetField, error)

	GetCloudWaterMark(ctx context.Context, table string) (string, error)
	SetCloudWaterMark(ctx context.Context, table, mark string) error

	GetLocalWaterMark(ctx context.Context, table string) (uint64, error)
	PutLocalWaterMark(ctx context.Context, table string, mark uint64) error

	GetInfoByPrimaryKeyOrGid(ctx context.Context, table string, gid string, primaryKey map[string]Value) (RecordInfo, error)

	PutCloudSyncData(ctx context.Context, table string, batch DownloadBatch) (insertedKeys map[int][]Value, err error)

	GetUploadCount(ctx context.Context, table string, waterMark uint64) (int64, error)
	GetCloudData(ctx context.Context, table string, waterMark uint64) (UploadBatch, Status, *ContinueToken, error)
	GetCloudDataNext(ctx context.Context, token *ContinueToken) (UploadBatch, Status, error)
	ReleaseContinueToken(ctx context.Context, token *ContinueToken) error

	FillCloudGidAndAsset(ctx context.Context, op OpType, batch UploadBatch) error
	FillCloudAssetForDownload(ctx context.Context, table string, gid string, normalAssets, failedAssets map[string][]Asset) error

	NotifyChangedData(ctx context.Context, changed ChangedData) error

	// CleanCloudData clears gid/cloud-linkage for every row in tables. In
	// CleanFlagAndData mode it additionally returns the assets those rows
	// referenced, for the caller to remove cloud-side via
	// CloudDB.RemoveLocalAssets; in CleanFlagOnly mode it returns nil.
	CleanCloudData(ctx context.Context, mode CleanMode, tables []string) ([]Asset, error)

	Close() error
}
