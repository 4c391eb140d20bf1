package cloudsync

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// errEmptyCloudPage marks a StatusOK-but-empty page as retryable so
// queryNonEmptyPage's go-retry backoff knows to rotate the cursor and try
// again rather than stopping.
var errEmptyCloudPage = errors.New("cloudsync: cloud returned an empty page with a rotated cursor")

// downloadTable runs the download pipeline for the current table: batch
// query, then in one storage transaction validate, tag, and save, then
// notify and advance the cursor.
func (s *Syncer) downloadTable(ctx context.Context, task *TaskInfo, table string) error {
	pkCols, assetFields, err := s.storage.GetPrimaryColNamesWithAssetsFields(ctx, table)
	if err != nil {
		return wrapStatus(StatusInternalError, "get primary columns and asset fields", err)
	}

	s.current.recordAssetFields(table, assetFields)

	mark, err := s.storage.GetCloudWaterMark(ctx, table)
	if err != nil {
		return wrapStatus(StatusInternalError, "get cloud watermark", err)
	}

	for {
		records, status, err := s.queryNonEmptyPage(ctx, table, &mark)
		if err != nil {
			return err
		}

		switch status {
		case StatusOK:
			if err := s.applyDownloadBatch(ctx, task, table, records, pkCols, assetFields); err != nil {
				return err
			}

		case StatusQueryEnd:
			if len(records) == 0 {
				s.notifyDownloadEmpty(task, table)
				return nil
			}

			if err := s.applyDownloadBatch(ctx, task, table, records, pkCols, assetFields); err != nil {
				return err
			}

			return nil

		default:
			return wrapStatus(status, "cloud query failed", nil)
		}
	}
}

// queryNonEmptyPage queries the cloud, retrying with go-retry's backoff
// whenever the cloud reports StatusOK with zero records — an empty page
// just means the cursor rotated forward with nothing new yet, not an
// error, up to s.retryCap retries after the first query. mark is updated in place to
// the rotated cursor on every empty page, whether or not the cap is
// eventually hit.
func (s *Syncer) queryNonEmptyPage(ctx context.Context, table string, mark *string) ([]*VBucket, Status, error) {
	base, err := retry.NewConstant(time.Millisecond)
	if err != nil {
		return nil, StatusInternalError, wrapStatus(StatusInternalError, "build retry backoff", err)
	}

	backoff := retry.WithMaxRetries(uint64(s.retryCap), base)

	var records []*VBucket
	var status Status

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		extend := map[string]Value{FieldCursor: StringValue(*mark)}

		recs, st := s.cloud.Query(ctx, table, extend)
		records, status = recs, st

		if st == StatusOK && len(recs) == 0 {
			if v, ok := extend[FieldCursor]; ok && v.Kind == KindString {
				*mark = v.Str
			}

			return retry.RetryableError(errEmptyCloudPage)
		}

		return nil
	})
	if err != nil {
		return nil, status, wrapStatus(StatusCloudError,
			"cloud repeatedly returned empty pages with rotated cursors", err)
	}

	return records, status, nil
}

func (s *Syncer) notifyDownloadEmpty(task *TaskInfo, table string) {
	s.current.notifier.notify(task, tableUpdate{
		table: table, status: ProcessProcessing, isDownload: true,
		delta: DirectionInfo{Total: 0, SuccessCount: 0},
	}, false)
}

// taggedRecord bundles one record's tagging result for the save/notify
// passes that follow batch-wide tagging.
type taggedRecord struct {
	rec        *VBucket
	op         OpType
	gid        string
	cursor     string
	primaryKey map[string]Value
	deferredPK bool // primary key is the synthetic rowId, resolved post-save
	assetDiff  map[string][]Asset
}

func (s *Syncer) applyDownloadBatch(
	ctx context.Context, task *TaskInfo, table string, records []*VBucket, pkCols []string, assetFields []AssetField,
) error {
	if err := s.storage.StartTransaction(ctx); err != nil {
		return wrapStatus(StatusInternalError, "begin download transaction", err)
	}

	tagged, rf, err := s.tagDownloadBatch(ctx, table, records, pkCols, assetFields)
	if err != nil {
		_ = s.storage.Rollback(ctx)

		s.current.notifier.notify(task, tableUpdate{
			table: table, status: ProcessProcessing, isDownload: true,
			delta: DirectionInfo{Total: len(records), FailCount: len(records)},
		}, true)

		return err
	}

	batch := DownloadBatch{Records: make([]DownloadRecord, len(tagged))}
	for i, t := range tagged {
		batch.Records[i] = DownloadRecord{Data: t.rec, Op: t.op, Cursor: t.cursor, Gid: t.gid}
	}

	insertedKeys, err := s.storage.PutCloudSyncData(ctx, table, batch)
	if err != nil {
		_ = s.storage.Rollback(ctx)

		s.current.notifier.notify(task, tableUpdate{
			table: table, status: ProcessProcessing, isDownload: true,
			delta: DirectionInfo{Total: len(tagged), FailCount: len(tagged)},
		}, true)

		return wrapStatus(StatusInternalError, "put cloud sync data", err)
	}

	if err := s.storage.Commit(ctx); err != nil {
		return wrapStatus(StatusInternalError, "commit download transaction", err)
	}

	changed := s.buildChangedData(table, tagged, insertedKeys)
	if err := s.storage.NotifyChangedData(ctx, changed); err != nil {
		return wrapStatus(StatusInternalError, "notify changed data", err)
	}

	s.current.notifier.notify(task, tableUpdate{
		table: table, status: ProcessProcessing, isDownload: true,
		delta: DirectionInfo{Total: len(tagged), SuccessCount: len(tagged)},
	}, false)

	s.resolveAssetDownloads(ctx, task, table)

	if s.current.strategy.judgeUpdateCursor() && len(tagged) > 0 {
		last := tagged[len(tagged)-1].cursor
		s.current.setCloudWaterMark(table, last)

		if err := s.storage.SetCloudWaterMark(ctx, table, last); err != nil {
			return wrapStatus(StatusInternalError, "persist cloud watermark", err)
		}
	}

	_ = rf // rf retained for symmetry with upload-side signature; no further use here.

	return nil
}

// tagDownloadBatch validates and tags every record in a page, looking up
// each record's local counterpart and accumulating per-record asset diffs
// into the task context. Runs inside the caller's storage transaction so a
// validation failure rolls back cleanly with the rest of the batch.
func (s *Syncer) tagDownloadBatch(
	ctx context.Context, table string, records []*VBucket, pkCols []string, assetFields []AssetField,
) ([]taggedRecord, []reservedFields, error) {
	out := make([]taggedRecord, 0, len(records))
	rfs := make([]reservedFields, 0, len(records))

	for _, rec := range records {
		rf, err := extractReserved(rec)
		if err != nil {
			return nil, nil, err
		}

		if err := validateNoDuplicateAssetNames(rec, assetFields); err != nil {
			return nil, nil, err
		}

		primaryKey := extractPrimaryKey(rec, pkCols)

		info, err := s.storage.GetInfoByPrimaryKeyOrGid(ctx, table, rf.Gid, primaryKey)
		if err != nil {
			return nil, nil, wrapStatus(StatusInternalError, "lookup local record", err)
		}

		cloudLog := LogInfo{
			Timestamp:  rf.ModifyTimeUs,
			WTimestamp: rf.CreateTimeUs,
			CloudGid:   rf.Gid,
		}
		if rf.Deleted {
			cloudLog.Flag |= LogFlagDeleted
		}

		op := s.current.strategy.tag(info.Exists, info.Log, cloudLog)

		tr := taggedRecord{rec: rec, op: op, gid: rf.Gid, cursor: rf.Cursor, primaryKey: primaryKey}

		if !rf.Deleted && len(assetFields) > 0 {
			s.tagRecordAssets(table, rf.Gid, rec, info, op, &tr)
		}

		switch op {
		case OpNotHandle, OpOnlyUpdateGid, OpClearGidFlag:
			s.current.snapshotAssets(table, rf.Gid, collectAssets(rec, assetFields))
		}

		if len(primaryKey) == 0 {
			tr.deferredPK = true
		}

		out = append(out, tr)
		rfs = append(rfs, rf)
	}

	return out, rfs, nil
}

// tagRecordAssets runs the asset tagger for one download record (cloud
// record covers, local snapshot is beCovered — absent if this is a fresh
// insert) and files the diff into the task context's download lists.
func (s *Syncer) tagRecordAssets(table, gid string, rec *VBucket, info RecordInfo, op OpType, tr *taggedRecord) {
	localAssets := info.Assets
	beCovered := assetsToBucket(localAssets)

	fields := s.current.assetFieldsByTable[table]

	diff := tagAssetsInSingleRecord(rec, beCovered, fields, false)
	tr.assetDiff = diff

	needsTransfer := op == OpInsert || op == OpUpdate
	s.current.addDownload(table, gid, diff, needsTransfer)
}

// assetsToBucket wraps a plain asset snapshot in a VBucket so it can be fed
// to the tagger as the "beCovered" side.
func assetsToBucket(assets map[string][]Asset) *VBucket {
	b := NewVBucket()
	for field, list := range assets {
		if len(list) == 1 {
			b.Set(field, AssetValue(list[0]))
		} else {
			b.Set(field, AssetsValue(list))
		}
	}

	return b
}

// collectAssets extracts the current asset state of rec for every declared
// asset field, used to snapshot context.assetsInfo for later upload tagging.
func collectAssets(rec *VBucket, fields []AssetField) map[string][]Asset {
	out := make(map[string][]Asset, len(fields))

	for _, f := range fields {
		v, ok := rec.Get(f.ColName)
		if !ok {
			continue
		}

		switch v.Kind {
		case KindAsset:
			out[f.ColName] = []Asset{v.Asset}
		case KindAssets:
			out[f.ColName] = v.Assets
		}
	}

	return out
}

func extractPrimaryKey(rec *VBucket, pkCols []string) map[string]Value {
	if len(pkCols) == 0 {
		return nil
	}

	pk := make(map[string]Value, len(pkCols))

	for _, col := range pkCols {
		if v, ok := rec.Get(col); ok {
			pk[col] = v
		}
	}

	return pk
}

// buildChangedData accumulates a ChangedData entry keyed by each tagged
// record's ChangeType, using the resolved primary key — filling in deferred
// rowId-only keys from insertedKeys.
func (s *Syncer) buildChangedData(table string, tagged []taggedRecord, insertedKeys map[int][]Value) ChangedData {
	changed := ChangedData{Table: table, PrimaryData: make(map[ChangeType][][]Value)}

	for i, t := range tagged {
		ct, ok := OpTypeToChangeType(t.op)
		if !ok {
			continue
		}

		var keyValues []Value
		if t.deferredPK {
			keyValues = insertedKeys[i]
		} else {
			keyValues = mapToOrderedValues(t.primaryKey)
		}

		changed.PrimaryData[ct] = append(changed.PrimaryData[ct], keyValues)
	}

	return changed
}

func mapToOrderedValues(pk map[string]Value) []Value {
	out := make([]Value, 0, len(pk))
	for _, v := range pk {
		out = append(out, v)
	}

	return out
}

// resolveAssetDownloads calls CloudDB.Download for every entry accumulated
// in the task context's download lists, then reports the outcome to the
// storage proxy and emits the asset-change notification.
func (s *Syncer) resolveAssetDownloads(ctx context.Context, task *TaskInfo, table string) {
	pending := s.current.downloadsFor(table)
	complete := s.current.completeDownloadsFor(table)

	total := len(pending) + len(complete)
	if total == 0 {
		return
	}

	success, fail := 0, 0

	for gid, fields := range pending {
		if s.downloadOneRecordAssets(ctx, table, gid, fields) {
			success++
		} else {
			fail++
		}
	}

	for gid, fields := range complete {
		// Ops other than Insert/Update: no transfer needed, report directly.
		if err := s.storage.FillCloudAssetForDownload(ctx, table, gid, nil, flattenAssets(fields)); err == nil {
			success++
		} else {
			fail++
		}
	}

	s.current.notifier.notify(task, tableUpdate{
		table: table, status: ProcessProcessing, isDownload: true,
		delta: DirectionInfo{Total: total, SuccessCount: success, FailCount: fail},
	}, false)
}

func (s *Syncer) downloadOneRecordAssets(ctx context.Context, table, gid string, fields map[string][]Asset) bool {
	assets := make(map[string][]Asset, len(fields))
	for k, v := range fields {
		assets[k] = append([]Asset(nil), v...)
	}

	status := s.cloud.Download(ctx, table, gid, nil, assets)
	if status != StatusOK && status != StatusCloudError {
		s.logger.Warn("cloudsync: unexpected download status", "table", table, "gid", gid, "status", status.String())
	}

	normal := make(map[string][]Asset)
	failed := make(map[string][]Asset)

	for field, list := range assets {
		for _, a := range list {
			switch a.Status {
			case AssetStatusNormal:
				normal[field] = append(normal[field], a)
			case AssetStatusAbnormal:
				failed[field] = append(failed[field], a)
			case AssetStatusDownloading:
				s.logger.Error("cloudsync: asset still Downloading after Download() returned; logic error", "table", table, "gid", gid, "asset", a.Name)
			}
		}
	}

	if err := s.storage.FillCloudAssetForDownload(ctx, table, gid, normal, failed); err != nil {
		s.logger.Error("cloudsync: fill cloud asset for download failed", "error", err.Error())
		return false
	}

	return len(failed) == 0
}

func flattenAssets(fields map[string][]Asset) map[string][]Asset {
	return fields
}
