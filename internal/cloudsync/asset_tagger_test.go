package cloudsync

import "testing"

func asset(name, hash string) Asset {
	return Asset{Name: name, Hash: hash}
}

func TestTagSingleAsset_InsertWhenOnlyCoveredPresent(t *testing.T) {
	covered := asset("photo", "h1")

	diff := tagSingleAsset(&covered, nil, true)

	if len(diff) != 1 || diff[0].Flag != AssetFlagInsert {
		t.Fatalf("want single Insert diff, got %+v", diff)
	}

	if covered.Status != AssetStatusNormal {
		t.Fatalf("want Status Normal with setNormalStatus=true, got %v", covered.Status)
	}
}

func TestTagSingleAsset_DeleteWhenOnlyBeCoveredPresent(t *testing.T) {
	beCovered := asset("photo", "h1")

	diff := tagSingleAsset(nil, &beCovered, false)

	if len(diff) != 1 || diff[0].Flag != AssetFlagDelete {
		t.Fatalf("want single Delete diff, got %+v", diff)
	}

	if diff[0].Status != AssetStatusDownloading {
		t.Fatalf("want Status Downloading with setNormalStatus=false, got %v", diff[0].Status)
	}
}

func TestTagSingleAsset_NoChangeWhenHashesMatch(t *testing.T) {
	covered := asset("photo", "h1")
	beCovered := asset("photo", "h1")

	if diff := tagSingleAsset(&covered, &beCovered, true); diff != nil {
		t.Fatalf("want no diff for identical asset, got %+v", diff)
	}
}

func TestTagSingleAsset_UpdateWhenHashChanges(t *testing.T) {
	covered := asset("photo", "h2")
	beCovered := asset("photo", "h1")

	diff := tagSingleAsset(&covered, &beCovered, true)
	if len(diff) != 1 || diff[0].Flag != AssetFlagUpdate {
		t.Fatalf("want single Update diff, got %+v", diff)
	}
}

func TestTagSingleAsset_RenameInsertsNewDeletesOld(t *testing.T) {
	covered := asset("new-name", "h2")
	beCovered := asset("old-name", "h1")

	diff := tagSingleAsset(&covered, &beCovered, true)
	if len(diff) != 2 {
		t.Fatalf("want 2 diff entries for a rename, got %d", len(diff))
	}

	if diff[0].Flag != AssetFlagInsert || diff[1].Flag != AssetFlagDelete {
		t.Fatalf("want [Insert, Delete] order, got [%v, %v]", diff[0].Flag, diff[1].Flag)
	}
}

func TestApplyAssetTag_StatusDeleteOverridesFlag(t *testing.T) {
	a := asset("photo", "h1")
	a.Status = AssetStatusDelete

	var res []Asset
	applyAssetTag(AssetFlagInsert, true, &a, &res)

	if len(res) != 1 || res[0].Flag != AssetFlagDelete {
		t.Fatalf("want Status=Delete to force Flag=Delete regardless of requested flag, got %+v", res)
	}
}

func TestTagAssetsList_InsertsNewDeletesMissingKeepsUnchanged(t *testing.T) {
	covered := []Asset{asset("a", "h1"), asset("b", "h2-new")}
	beCovered := []Asset{asset("b", "h2-old"), asset("c", "h3")}

	diff := tagAssetsList(&covered, beCovered, true)

	byName := make(map[string]AssetFlag)
	for _, d := range diff {
		byName[d.Name] = d.Flag
	}

	if byName["a"] != AssetFlagInsert {
		t.Errorf("want a=Insert, got %v", byName["a"])
	}

	if byName["b"] != AssetFlagUpdate {
		t.Errorf("want b=Update, got %v", byName["b"])
	}

	if byName["c"] != AssetFlagDelete {
		t.Errorf("want c=Delete, got %v", byName["c"])
	}

	found := false
	for _, a := range covered {
		if a.Name == "c" {
			found = true
		}
	}

	if !found {
		t.Fatal("want deleted asset 'c' appended to covered for downstream persistence")
	}
}

func TestTagAssetsInSingleRecord_OnlyNonEmptyFieldsReported(t *testing.T) {
	rec := NewVBucket()
	rec.Set("avatar", AssetValue(asset("a1", "h1")))

	before := NewVBucket()

	fields := []AssetField{{ColName: "avatar", Kind: FieldKindAsset}}

	diff := tagAssetsInSingleRecord(rec, before, fields, true)

	if len(diff) != 1 {
		t.Fatalf("want exactly one field in diff map, got %d", len(diff))
	}

	if _, ok := diff["avatar"]; !ok {
		t.Fatalf("want diff keyed by column name, got %+v", diff)
	}
}
