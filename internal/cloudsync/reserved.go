package cloudsync

import "fmt"

// Reserved cloud record field names, bit-exact. Every cloud
// record (batch result, query result) must carry exactly these five fields
// with exactly these types.
const (
	FieldGid        = "#_gid"
	FieldCreateTime = "#_createTime"
	FieldModifyTime = "#_modifyTime"
	FieldDeleted    = "#_deleted"
	FieldCursor     = "#_cursor"
)

// timeScale is the wire multiplier: the cloud stores times at 10000x the
// local (microsecond) unit; the core converts at both boundaries.
const timeScale = 10000

func toWireTime(local int64) int64 {
	return local * timeScale
}

func fromWireTime(wire int64) int64 {
	return wire / timeScale
}

// reservedFields holds the five reserved values extracted and validated
// from a cloud record, plus the local-scale converted times.
type reservedFields struct {
	Gid          string
	CreateTimeUs int64
	ModifyTimeUs int64
	Deleted      bool
	Cursor       string
}

// extractReserved validates the five reserved fields' presence and exact
// types, converting times from the cloud's 10000x wire
// scale back to the local unscaled form.
func extractReserved(rec *VBucket) (reservedFields, error) {
	var rf reservedFields

	gid, err := requireString(rec, FieldGid)
	if err != nil {
		return rf, err
	}

	rf.Gid = gid

	createTime, err := requireInt64(rec, FieldCreateTime)
	if err != nil {
		return rf, err
	}

	rf.CreateTimeUs = fromWireTime(createTime)

	modifyTime, err := requireInt64(rec, FieldModifyTime)
	if err != nil {
		return rf, err
	}

	rf.ModifyTimeUs = fromWireTime(modifyTime)

	deleted, err := requireBool(rec, FieldDeleted)
	if err != nil {
		return rf, err
	}

	rf.Deleted = deleted

	cursor, err := requireString(rec, FieldCursor)
	if err != nil {
		return rf, err
	}

	rf.Cursor = cursor

	return rf, nil
}

func requireString(rec *VBucket, field string) (string, error) {
	v, ok := rec.Get(field)
	if !ok || v.Kind != KindString {
		return "", wrapStatus(StatusCloudError,
			fmt.Sprintf("reserved field %q missing or not a string", field), nil)
	}

	return v.Str, nil
}

func requireInt64(rec *VBucket, field string) (int64, error) {
	v, ok := rec.Get(field)
	if !ok || v.Kind != KindInt64 {
		return 0, wrapStatus(StatusCloudError,
			fmt.Sprintf("reserved field %q missing or not an int64", field), nil)
	}

	return v.Int, nil
}

func requireBool(rec *VBucket, field string) (bool, error) {
	v, ok := rec.Get(field)
	if !ok || v.Kind != KindBool {
		return false, wrapStatus(StatusCloudError,
			fmt.Sprintf("reserved field %q missing or not a bool", field), nil)
	}

	return v.Bool, nil
}

// validateNoDuplicateAssetNames rejects an Assets list containing two
// entries with the same name, a hard per-record validation error per the
// original.
func validateNoDuplicateAssetNames(rec *VBucket, fields []AssetField) error {
	for _, f := range fields {
		if f.Kind != FieldKindAssets {
			continue
		}

		v, ok := rec.Get(f.ColName)
		if !ok || v.Kind != KindAssets {
			continue
		}

		seen := make(map[string]struct{}, len(v.Assets))
		for _, a := range v.Assets {
			if _, dup := seen[a.Name]; dup {
				return wrapStatus(StatusCloudError,
					fmt.Sprintf("duplicate asset name %q in field %q", a.Name, f.ColName), nil)
			}

			seen[a.Name] = struct{}{}
		}
	}

	return nil
}
