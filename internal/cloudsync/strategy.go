package cloudsync

// strategy is the pluggable policy object selected at task start by Mode.
// It tags records and decides upload direction and cursor advancement.
type strategy interface {
	// tag decides the OpType for one record pair. isExist reports whether
	// a matching local row was found at all.
	tag(isExist bool, local, cloud LogInfo) OpType
	// judgeUpload reports whether the upload pipeline should run at all
	// for this task.
	judgeUpload() bool
	// judgeUpdateCursor reports whether the download pipeline should
	// persist the advanced cloud watermark.
	judgeUpdateCursor() bool
	// forceFullReupload reports whether the upload pipeline should treat
	// the local watermark as zero, re-pushing every row regardless of
	// what was previously uploaded (ForcePush only).
	forceFullReupload() bool
}

func newStrategy(mode Mode) strategy {
	switch mode {
	case ModeForcePull:
		return forcePullStrategy{}
	case ModeForcePush:
		return forcePushStrategy{}
	case ModePushOnly, ModePullOnly, ModePushPull, ModeMerge:
		return mergeStrategy{}
	default:
		return mergeStrategy{}
	}
}

// mergeStrategy implements the three-way merge tagging rule
type mergeStrategy struct{}

func (mergeStrategy) tag(isExist bool, local, cloud LogInfo) OpType {
	if !isExist {
		return OpInsert
	}

	localDeleted := local.Deleted()
	cloudDeleted := cloud.Deleted()

	switch {
	case localDeleted && !cloudDeleted:
		return OpUpdate
	case !localDeleted && cloudDeleted:
		return OpDelete
	case localDeleted && cloudDeleted:
		return OpOnlyUpdateGid
	}

	if local.Timestamp == cloud.Timestamp &&
		local.WTimestamp == cloud.WTimestamp &&
		local.CloudGid == cloud.CloudGid {
		return OpNotHandle
	}

	return OpUpdate
}

func (mergeStrategy) judgeUpload() bool         { return true }
func (mergeStrategy) judgeUpdateCursor() bool   { return true }
func (mergeStrategy) forceFullReupload() bool   { return false }

// forcePullStrategy behaves like merge for tagging but never uploads.
type forcePullStrategy struct{ mergeStrategy }

func (forcePullStrategy) judgeUpload() bool { return false }

// forcePushStrategy always uploads, persists no cloud cursor, and tags every
// downloaded record OpNotHandle. The download pipeline still queries every
// page; NotHandle rows change no local row data and produce no change
// notification.
type forcePushStrategy struct{}

func (forcePushStrategy) tag(bool, LogInfo, LogInfo) OpType { return OpNotHandle }
func (forcePushStrategy) judgeUpload() bool                 { return true }
func (forcePushStrategy) judgeUpdateCursor() bool           { return false }
func (forcePushStrategy) forceFullReupload() bool           { return true }
