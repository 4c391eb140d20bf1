package cloudsync

import (
	"errors"
	"fmt"
)

// Status is the error taxonomy shared by every collaborator contract
// (CloudDB, StorageProxy) and by the syncer itself. Zero value is StatusOK.
type Status int

// Status values. Callers should treat anything other than StatusOK,
// StatusQueryEnd, and StatusUnfinished as a failure.
const (
	StatusOK Status = iota
	StatusInvalidArgs
	StatusBusy
	StatusNotSupport
	StatusNotFound
	StatusInternalError
	StatusCloudError
	StatusCloudSchemaMismatch
	StatusDbClosed
	StatusQueryEnd
	StatusUnfinished
	StatusSecurityError
)

//nolint:gochecknoglobals // status->string lookup table, read-only
var statusNames = map[Status]string{
	StatusOK:                  "OK",
	StatusInvalidArgs:         "InvalidArgs",
	StatusBusy:                "Busy",
	StatusNotSupport:          "NotSupport",
	StatusNotFound:            "NotFound",
	StatusInternalError:       "InternalError",
	StatusCloudError:          "CloudError",
	StatusCloudSchemaMismatch: "CloudSchemaMismatch",
	StatusDbClosed:            "DbClosed",
	StatusQueryEnd:            "QueryEnd",
	StatusUnfinished:          "Unfinished",
	StatusSecurityError:       "SecurityError",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// SyncError wraps a Status with context, supporting errors.Is against the
// sentinel errors below (matched by Status, ignoring message/cause) and
// errors.As against *SyncError.
type SyncError struct {
	Status Status
	Msg    string
	Cause  error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cloudsync: %s: %s: %v", e.Status, e.Msg, e.Cause)
	}

	return fmt.Sprintf("cloudsync: %s: %s", e.Status, e.Msg)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is: a *SyncError matches another *SyncError when
// their Status fields agree, regardless of Msg/Cause. This lets callers
// write errors.Is(err, cloudsync.ErrCloudError).
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if !errors.As(target, &t) {
		return false
	}

	return e.Status == t.Status
}

func newErr(status Status, msg string, cause error) *SyncError {
	return &SyncError{Status: status, Msg: msg, Cause: cause}
}

// wrapStatus builds a *SyncError as a plain error for call sites that don't
// need the concrete type.
func wrapStatus(status Status, msg string, cause error) error {
	return newErr(status, msg, cause)
}

// Sentinel errors for errors.Is comparisons against well-known statuses.
//
//nolint:gochecknoglobals // sentinel errors, the idiomatic Go pattern
var (
	ErrInvalidArgs         = &SyncError{Status: StatusInvalidArgs}
	ErrBusy                = &SyncError{Status: StatusBusy}
	ErrNotSupport          = &SyncError{Status: StatusNotSupport}
	ErrNotFound            = &SyncError{Status: StatusNotFound}
	ErrInternalError       = &SyncError{Status: StatusInternalError}
	ErrCloudError          = &SyncError{Status: StatusCloudError}
	ErrCloudSchemaMismatch = &SyncError{Status: StatusCloudSchemaMismatch}
	ErrDbClosed            = &SyncError{Status: StatusDbClosed}
	ErrSecurityError       = &SyncError{Status: StatusSecurityError}
)

// StatusOf extracts the Status carried by err, defaulting to
// StatusInternalError if err is not a *SyncError (and StatusOK for nil).
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.Status
	}

	return StatusInternalError
}
