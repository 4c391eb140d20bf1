package cloudsync

import "testing"

func TestMergeStrategy_TagNewRecordInserts(t *testing.T) {
	s := mergeStrategy{}

	if op := s.tag(false, LogInfo{}, LogInfo{}); op != OpInsert {
		t.Fatalf("want OpInsert, got %s", op)
	}
}

func TestMergeStrategy_TagLocalDeletedCloudAliveUpdates(t *testing.T) {
	s := mergeStrategy{}
	local := LogInfo{Flag: LogFlagDeleted}
	cloud := LogInfo{}

	if op := s.tag(true, local, cloud); op != OpUpdate {
		t.Fatalf("want OpUpdate (resurrect locally-deleted row), got %s", op)
	}
}

func TestMergeStrategy_TagCloudDeletedLocalAliveDeletes(t *testing.T) {
	s := mergeStrategy{}
	local := LogInfo{}
	cloud := LogInfo{Flag: LogFlagDeleted}

	if op := s.tag(true, local, cloud); op != OpDelete {
		t.Fatalf("want OpDelete, got %s", op)
	}
}

func TestMergeStrategy_TagBothDeletedOnlyUpdatesGid(t *testing.T) {
	s := mergeStrategy{}
	local := LogInfo{Flag: LogFlagDeleted}
	cloud := LogInfo{Flag: LogFlagDeleted}

	if op := s.tag(true, local, cloud); op != OpOnlyUpdateGid {
		t.Fatalf("want OpOnlyUpdateGid, got %s", op)
	}
}

func TestMergeStrategy_TagIdenticalIsNotHandled(t *testing.T) {
	s := mergeStrategy{}
	log := LogInfo{Timestamp: 10, WTimestamp: 5, CloudGid: "g1"}

	if op := s.tag(true, log, log); op != OpNotHandle {
		t.Fatalf("want OpNotHandle for identical logs, got %s", op)
	}
}

func TestMergeStrategy_TagDivergedTimestampUpdates(t *testing.T) {
	s := mergeStrategy{}
	local := LogInfo{Timestamp: 10, CloudGid: "g1"}
	cloud := LogInfo{Timestamp: 20, CloudGid: "g1"}

	if op := s.tag(true, local, cloud); op != OpUpdate {
		t.Fatalf("want OpUpdate, got %s", op)
	}
}

func TestStrategyFlags_PerMode(t *testing.T) {
	cases := []struct {
		mode               Mode
		wantUpload         bool
		wantUpdateCursor   bool
		wantForceReupload  bool
	}{
		{ModeMerge, true, true, false},
		{ModePushOnly, true, true, false},
		{ModeForcePull, false, true, false},
		{ModeForcePush, true, false, true},
	}

	for _, tc := range cases {
		s := newStrategy(tc.mode)

		if got := s.judgeUpload(); got != tc.wantUpload {
			t.Errorf("mode %v: judgeUpload() = %v, want %v", tc.mode, got, tc.wantUpload)
		}

		if got := s.judgeUpdateCursor(); got != tc.wantUpdateCursor {
			t.Errorf("mode %v: judgeUpdateCursor() = %v, want %v", tc.mode, got, tc.wantUpdateCursor)
		}

		if got := s.forceFullReupload(); got != tc.wantForceReupload {
			t.Errorf("mode %v: forceFullReupload() = %v, want %v", tc.mode, got, tc.wantForceReupload)
		}
	}
}

func TestForcePushStrategy_TagsEverythingNotHandle(t *testing.T) {
	s := forcePushStrategy{}

	if op := s.tag(true, LogInfo{}, LogInfo{}); op != OpNotHandle {
		t.Fatalf("want OpNotHandle, got %s", op)
	}
}
