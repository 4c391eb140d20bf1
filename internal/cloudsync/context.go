package cloudsync

import "sync"

// taskContext holds the at-most-one-live-per-syncer state for the task
// currently being processed, guarded by a single mutex — one owning
// structure per concern. Created at task start, cleared at task end.
type taskContext struct {
	mu sync.Mutex

	currentTaskID TaskID
	strategy      strategy
	notifier      *processNotifier

	currentTableName string

	assetFieldsByTable map[string][]AssetField
	// assetsInfoByTable[table][gid] snapshots a record's asset state for
	// NotHandle/OnlyUpdateGid/ClearGidFlag rows, consumed by upload tagging.
	assetsInfoByTable map[string]map[string]map[string][]Asset
	// assetDownloadList[table][gid] accumulates per-field asset diffs that
	// still need CloudDB.Download, split by whether the owning op needs a
	// full download (Insert/Update) or only bookkeeping (any other op).
	assetDownloadList map[string]map[string]map[string][]Asset
	completeDownload  map[string]map[string]map[string][]Asset

	cloudWaterMarksByTable map[string]string
}

func newTaskContext() *taskContext {
	return &taskContext{
		assetFieldsByTable:     make(map[string][]AssetField),
		assetsInfoByTable:      make(map[string]map[string]map[string][]Asset),
		assetDownloadList:      make(map[string]map[string]map[string][]Asset),
		completeDownload:       make(map[string]map[string]map[string][]Asset),
		cloudWaterMarksByTable: make(map[string]string),
	}
}

func (c *taskContext) setCurrentTable(table string) {
	c.mu.Lock()
	c.currentTableName = table
	c.mu.Unlock()
}

func (c *taskContext) recordAssetFields(table string, fields []AssetField) {
	c.mu.Lock()
	c.assetFieldsByTable[table] = fields
	c.mu.Unlock()
}

func (c *taskContext) snapshotAssets(table, gid string, assets map[string][]Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byGid, ok := c.assetsInfoByTable[table]
	if !ok {
		byGid = make(map[string]map[string][]Asset)
		c.assetsInfoByTable[table] = byGid
	}

	byGid[gid] = assets
}

func (c *taskContext) assetsFor(table, gid string) map[string][]Asset {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.assetsInfoByTable[table][gid]
}

// addDownload records a field->assets diff for gid, bucketed by whether the
// owning op needs a real transfer (Insert/Update) or is bookkeeping only
// (any other op).
func (c *taskContext) addDownload(table, gid string, diff map[string][]Asset, needsTransfer bool) {
	if len(diff) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.assetDownloadList
	if !needsTransfer {
		target = c.completeDownload
	}

	byGid, ok := target[table]
	if !ok {
		byGid = make(map[string]map[string][]Asset)
		target[table] = byGid
	}

	existing := byGid[gid]
	if existing == nil {
		existing = make(map[string][]Asset)
	}

	for field, assets := range diff {
		existing[field] = append(existing[field], assets...)
	}

	byGid[gid] = existing
}

func (c *taskContext) downloadsFor(table string) map[string]map[string][]Asset {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.assetDownloadList[table]
}

func (c *taskContext) completeDownloadsFor(table string) map[string]map[string][]Asset {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completeDownload[table]
}

func (c *taskContext) setCloudWaterMark(table, mark string) {
	c.mu.Lock()
	c.cloudWaterMarksByTable[table] = mark
	c.mu.Unlock()
}

func (c *taskContext) getCloudWaterMark(table string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.cloudWaterMarksByTable[table]

	return m, ok
}
