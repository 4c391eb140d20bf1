package cloudsync

import "context"

// uploadTable runs the upload pipeline for the current table: page through
// locally-changed rows since the local watermark, tag their assets, push
// inserts/updates/deletes to the cloud, and fill back the gids and asset
// status the cloud assigned.
func (s *Syncer) uploadTable(ctx context.Context, task *TaskInfo, table string) error {
	_, assetFields, err := s.storage.GetPrimaryColNamesWithAssetsFields(ctx, table)
	if err != nil {
		return wrapStatus(StatusInternalError, "get primary columns and asset fields", err)
	}

	s.current.recordAssetFields(table, assetFields)

	forceFull := s.current.strategy.forceFullReupload()

	waterMark := uint64(0)
	if !forceFull {
		waterMark, err = s.storage.GetLocalWaterMark(ctx, table)
		if err != nil {
			return wrapStatus(StatusInternalError, "get local watermark", err)
		}
	}

	count, err := s.storage.GetUploadCount(ctx, table, waterMark)
	if err != nil {
		return wrapStatus(StatusInternalError, "get upload count", err)
	}

	if count == 0 {
		s.current.notifier.notify(task, tableUpdate{
			table: table, status: ProcessFinished, isDownload: false,
			delta: DirectionInfo{Total: 0, SuccessCount: 0},
		}, false)

		return nil
	}

	batch, status, token, err := s.storage.GetCloudData(ctx, table, waterMark)
	if err != nil {
		return wrapStatus(StatusInternalError, "get cloud data", err)
	}

	for {
		if err := s.processUploadBatch(ctx, task, table, batch, assetFields, forceFull); err != nil {
			if token != nil {
				_ = s.storage.ReleaseContinueToken(ctx, token)
			}

			return err
		}

		if status == StatusQueryEnd || token == nil {
			break
		}

		batch, status, err = s.storage.GetCloudDataNext(ctx, token)
		if err != nil {
			_ = s.storage.ReleaseContinueToken(ctx, token)
			return wrapStatus(StatusInternalError, "get cloud data next", err)
		}
	}

	if token != nil {
		if err := s.storage.ReleaseContinueToken(ctx, token); err != nil {
			return wrapStatus(StatusInternalError, "release continue token", err)
		}
	}

	s.current.notifier.notify(task, tableUpdate{
		table: table, status: ProcessFinished, isDownload: false,
		delta: DirectionInfo{},
	}, false)

	return nil
}

// processUploadBatch validates, tags, and pushes one UploadBatch page, then
// fills back cloud-assigned gids/assets and advances the scratch local
// watermark.
func (s *Syncer) processUploadBatch(
	ctx context.Context, task *TaskInfo, table string, batch UploadBatch, assetFields []AssetField, forceFull bool,
) error {
	if err := validateUploadAssets(batch, assetFields); err != nil {
		return err
	}

	s.tagUploadAssets(table, &batch, assetFields)

	maxWaterMark := rescaleUploadTimes(batch.Ins.Extend)
	if m := rescaleUploadTimes(batch.Upd.Extend); m > maxWaterMark {
		maxWaterMark = m
	}

	total := batch.totalRecords()
	success := 0

	if len(batch.Del.Record) > 0 {
		if res, status := s.cloud.BatchDelete(ctx, table, batch.Del.Extend); status == StatusOK {
			success += res.SuccessCount
		} else {
			return wrapStatus(status, "cloud batch delete failed", nil)
		}
	}

	if len(batch.Ins.Record) > 0 {
		res, status := s.cloud.BatchInsert(ctx, table, batch.Ins.Record, batch.Ins.Extend)
		if status != StatusOK {
			return wrapStatus(status, "cloud batch insert failed", nil)
		}

		success += res.SuccessCount

		if err := s.storage.FillCloudGidAndAsset(ctx, OpInsert, UploadBatch{TableName: table, Ins: batch.Ins}); err != nil {
			return wrapStatus(StatusInternalError, "fill cloud gid and asset after insert", err)
		}
	}

	if len(batch.Upd.Record) > 0 {
		res, status := s.cloud.BatchUpdate(ctx, table, batch.Upd.Record, batch.Upd.Extend)
		if status != StatusOK {
			return wrapStatus(status, "cloud batch update failed", nil)
		}

		success += res.SuccessCount

		if err := s.storage.FillCloudGidAndAsset(ctx, OpUpdate, UploadBatch{TableName: table, Upd: batch.Upd}); err != nil {
			return wrapStatus(StatusInternalError, "fill cloud gid and asset after update", err)
		}
	}

	if !forceFull && maxWaterMark > 0 {
		if err := s.storage.PutLocalWaterMark(ctx, table, uint64(maxWaterMark)); err != nil {
			return wrapStatus(StatusInternalError, "persist local watermark", err)
		}
	}

	s.current.notifier.notify(task, tableUpdate{
		table: table, status: ProcessProcessing, isDownload: false,
		delta: DirectionInfo{Total: total, SuccessCount: success, FailCount: total - success},
	}, true)

	return nil
}

// validateUploadAssets rejects any insert/update record carrying an asset
// already flagged for deletion: asset deletion is only valid via the
// download/local-apply path or a whole-record delete, never folded into an
// upload of surviving data.
func validateUploadAssets(batch UploadBatch, assetFields []AssetField) error {
	for _, rec := range batch.Ins.Record {
		if err := checkNoDeleteFlaggedAsset(rec, assetFields); err != nil {
			return err
		}
	}

	for _, rec := range batch.Upd.Record {
		if err := checkNoDeleteFlaggedAsset(rec, assetFields); err != nil {
			return err
		}
	}

	return nil
}

func checkNoDeleteFlaggedAsset(rec *VBucket, fields []AssetField) error {
	for _, f := range fields {
		v, ok := rec.Get(f.ColName)
		if !ok {
			continue
		}

		switch v.Kind {
		case KindAsset:
			if v.Asset.Flag == AssetFlagDelete {
				return wrapStatus(StatusInvalidArgs,
					"upload record carries a delete-flagged asset in field "+f.ColName, nil)
			}
		case KindAssets:
			for _, a := range v.Assets {
				if a.Flag == AssetFlagDelete {
					return wrapStatus(StatusInvalidArgs,
						"upload record carries a delete-flagged asset in field "+f.ColName, nil)
				}
			}
		}
	}

	return nil
}

// tagUploadAssets runs the asset tagger for every insert/update record in the
// batch with setNormalStatus=true, using the gid
// recorded in the matching extend entry to look up the last known cloud
// asset snapshot as beCovered. Fresh inserts have no snapshot and tag as a
// pure insert.
func (s *Syncer) tagUploadAssets(table string, batch *UploadBatch, assetFields []AssetField) {
	if len(assetFields) == 0 {
		return
	}

	for i, rec := range batch.Ins.Record {
		beCovered := NewVBucket()
		if gid := gidFromExtend(batch.Ins.Extend, i); gid != "" {
			beCovered = assetsToBucket(s.current.assetsFor(table, gid))
		}

		tagAssetsInSingleRecord(rec, beCovered, assetFields, true)
	}

	for i, rec := range batch.Upd.Record {
		gid := gidFromExtend(batch.Upd.Extend, i)
		beCovered := assetsToBucket(s.current.assetsFor(table, gid))

		tagAssetsInSingleRecord(rec, beCovered, assetFields, true)
	}
}

func gidFromExtend(extends []map[string]Value, i int) string {
	if i >= len(extends) {
		return ""
	}

	if v, ok := extends[i][FieldGid]; ok && v.Kind == KindString {
		return v.Str
	}

	return ""
}

// rescaleUploadTimes converts each extend's local-scale modify/create time
// to the cloud's wire scale in place, returning the maximum local-scale
// modify time seen (the candidate next local watermark).
func rescaleUploadTimes(extends []map[string]Value) int64 {
	var maxLocal int64

	for _, extend := range extends {
		if v, ok := extend[FieldModifyTime]; ok && v.Kind == KindInt64 {
			if v.Int > maxLocal {
				maxLocal = v.Int
			}

			extend[FieldModifyTime] = Int64Value(toWireTime(v.Int))
		}

		if v, ok := extend[FieldCreateTime]; ok && v.Kind == KindInt64 {
			extend[FieldCreateTime] = Int64Value(toWireTime(v.Int))
		}
	}

	return maxLocal
}
