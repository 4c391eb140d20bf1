package cloudsync

// Asset tagger: diffs one side's asset state against the other and emits
// Insert/Update/Delete flags, one function per case instead of
// output-parameter threading. "covered" is the side whose operation
// dominates (cloud on download, local on upload); "beCovered" is the other
// side.

// tagAssetStatus returns the status to assign a newly-tagged asset: Normal
// on the upload path (setNormalStatus), Downloading on the download path
// (to be reconciled once the transfer completes).
func tagAssetStatus(setNormalStatus bool) AssetStatus {
	if setNormalStatus {
		return AssetStatusNormal
	}

	return AssetStatusDownloading
}

// applyAssetTag mutates asset's Flag/Status in place and appends it to res,
// unless asset already carries Status == AssetStatusDelete, in which case
// its Flag is forced to AssetFlagDelete regardless of the caller's intent.
func applyAssetTag(flag AssetFlag, setNormalStatus bool, asset *Asset, res *[]Asset) {
	if asset.Status == AssetStatusDelete {
		asset.Flag = AssetFlagDelete
	} else {
		asset.Flag = flag
		asset.Status = tagAssetStatus(setNormalStatus)
	}

	*res = append(*res, *asset)
}

// tagSingleAsset handles a FieldKindAsset column: covered and beCovered each
// hold at most one Asset value for the field (absence represented by a nil
// pointer). It mutates *covered in place (the record literally carried in
// coveredData) and returns the diff entries for the field, or nil if there
// is no change.
func tagSingleAsset(covered, beCovered *Asset, setNormalStatus bool) []Asset {
	var res []Asset

	switch {
	case covered == nil && beCovered == nil:
		return nil
	case covered != nil && beCovered == nil:
		applyAssetTag(AssetFlagInsert, setNormalStatus, covered, &res)
	case covered == nil && beCovered != nil:
		applyAssetTag(AssetFlagDelete, setNormalStatus, beCovered, &res)
	case covered.Name == beCovered.Name && covered.Hash == beCovered.Hash:
		return nil
	case covered.Name == beCovered.Name:
		applyAssetTag(AssetFlagUpdate, setNormalStatus, covered, &res)
	default:
		// Different names: insert the new, delete the old.
		applyAssetTag(AssetFlagInsert, setNormalStatus, covered, &res)
		applyAssetTag(AssetFlagDelete, setNormalStatus, beCovered, &res)
	}

	return res
}

// tagAssetsList handles a FieldKindAssets column.: build an
// index of covered by name, walk beCovered, then emit Insert for whatever
// remains in the index.
func tagAssetsList(covered *[]Asset, beCovered []Asset, setNormalStatus bool) []Asset {
	var res []Asset

	index := make(map[string]int, len(*covered))
	for i := range *covered {
		index[(*covered)[i].Name] = i
	}

	for i := range beCovered {
		beAsset := beCovered[i]

		pos, ok := index[beAsset.Name]
		if !ok {
			// Absent in covered: tombstone it by appending to covered so
			// the downstream save can record the deletion, then emit.
			deleted := beAsset
			applyAssetTag(AssetFlagDelete, setNormalStatus, &deleted, &res)
			*covered = append(*covered, deleted)

			continue
		}

		delete(index, beAsset.Name)

		coveredAsset := &(*covered)[pos]
		if coveredAsset.Hash != beAsset.Hash {
			applyAssetTag(AssetFlagUpdate, setNormalStatus, coveredAsset, &res)
		} else {
			// Same hash: no operational change, but still recorded for
			// status tracking.
			coveredAsset.Status = tagAssetStatus(setNormalStatus)
			res = append(res, *coveredAsset)
		}
	}

	for _, pos := range index {
		applyAssetTag(AssetFlagInsert, setNormalStatus, &(*covered)[pos], &res)
	}

	return res
}

// tagAssetsInSingleCol dispatches a single asset-bearing column to the
// single-Asset or Assets-list tagger, reading/writing it in coveredData and
// reading it from beCoveredData.
func tagAssetsInSingleCol(coveredData, beCoveredData *VBucket, field AssetField, setNormalStatus bool) []Asset {
	switch field.Kind {
	case FieldKindAsset:
		var coveredPtr, beCoveredPtr *Asset

		if v, ok := coveredData.Get(field.ColName); ok && v.Kind == KindAsset {
			a := v.Asset
			coveredPtr = &a
		}

		if v, ok := beCoveredData.Get(field.ColName); ok && v.Kind == KindAsset {
			a := v.Asset
			beCoveredPtr = &a
		}

		res := tagSingleAsset(coveredPtr, beCoveredPtr, setNormalStatus)
		if coveredPtr != nil {
			coveredData.Set(field.ColName, AssetValue(*coveredPtr))
		}

		return res

	case FieldKindAssets:
		var list []Asset

		if v, ok := coveredData.Get(field.ColName); ok && v.Kind == KindAssets {
			list = append(list, v.Assets...)
		}

		var beList []Asset

		if v, ok := beCoveredData.Get(field.ColName); ok && v.Kind == KindAssets {
			beList = v.Assets
		}

		res := tagAssetsList(&list, beList, setNormalStatus)
		coveredData.Set(field.ColName, AssetsValue(list))

		return res

	default:
		return nil
	}
}

// tagAssetsInSingleRecord walks every declared asset field for one record
// pair and returns the field -> diff-entries map, mutating coveredData's
// asset columns in place.
func tagAssetsInSingleRecord(coveredData, beCoveredData *VBucket, fields []AssetField, setNormalStatus bool) map[string][]Asset {
	out := make(map[string][]Asset)

	for _, f := range fields {
		if diff := tagAssetsInSingleCol(coveredData, beCoveredData, f, setNormalStatus); len(diff) > 0 {
			out[f.ColName] = diff
		}
	}

	return out
}
