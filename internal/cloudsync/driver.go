package cloudsync

import "context"

// runTask orchestrates one task end to end: lock -> download all tables ->
// (maybe) upload all tables -> unlock. Errors are recorded on
// the task via setTaskFailed and observed at the next batch boundary by
// checkTaskValid; runTask itself always returns, leaving task.errCode as
// the authoritative result for the final notification.
func (s *Syncer) runTask(ctx context.Context, task *TaskInfo) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	task.status = TaskProcessing

	if err := s.heartbeat.lockCloud(ctx, task.TaskID); err != nil {
		s.setTaskFailed(task.TaskID, err)
		task.status = TaskFinished

		return
	}

	needUpload := s.current.strategy.judgeUpload()

	s.downloadAllTables(ctx, task)

	if needUpload && task.errCode == nil {
		s.uploadAllTables(ctx, task)
	}

	if err := s.heartbeat.unlockCloud(ctx); err != nil {
		s.setTaskFailed(task.TaskID, err)
	}

	task.status = TaskFinished
}

// downloadAllTables runs the download pipeline for each table in
// declaration order, aborting the remaining tables as soon as
// checkTaskValid reports a recorded error (task killed, heartbeat failure,
// or DbClosed).
func (s *Syncer) downloadAllTables(ctx context.Context, task *TaskInfo) {
	for _, table := range task.Tables {
		if err := s.checkTaskValid(task.TaskID); err != nil {
			s.setTaskFailed(task.TaskID, err)
			return
		}

		s.current.setCurrentTable(table)

		if err := s.downloadTable(ctx, task, table); err != nil {
			s.setTaskFailed(task.TaskID, err)
			return
		}
	}
}

// uploadAllTables wraps the per-table upload loop in a single storage
// transaction: any error rolls back and stops, success commits.
func (s *Syncer) uploadAllTables(ctx context.Context, task *TaskInfo) {
	if err := s.storage.StartTransaction(ctx); err != nil {
		s.setTaskFailed(task.TaskID, wrapStatus(StatusInternalError, "begin upload transaction", err))
		return
	}

	for _, table := range task.Tables {
		if err := s.checkTaskValid(task.TaskID); err != nil {
			s.setTaskFailed(task.TaskID, err)
			_ = s.storage.Rollback(ctx)

			return
		}

		s.current.setCurrentTable(table)

		if err := s.uploadTable(ctx, task, table); err != nil {
			s.setTaskFailed(task.TaskID, err)
			_ = s.storage.Rollback(ctx)

			return
		}
	}

	if err := s.storage.Commit(ctx); err != nil {
		s.setTaskFailed(task.TaskID, wrapStatus(StatusInternalError, "commit upload transaction", err))
	}
}
