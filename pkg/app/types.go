package app

import (
	"errors"
	"fmt"
	"time"
)

// DriveTarget identifies one destination drive a restore can write MFS
// partitions onto: a block device path plus however many sectors of
// free space internal/restore.PlanLayout should treat as available on
// it.
//
// Grounded on the teacher's VolumeTarget (volume-id/volume-name/
// snapshot selection), generalized from APFS's volume-within-container
// addressing to mfstools' drive-within-pair addressing — the CLI
// passes each target's FreeSectors to PlanLayout as its freeA/freeB
// arguments.
type DriveTarget struct {
	DevicePath  string
	FreeSectors uint64
}

// Validate ensures the target names a device.
func (dt DriveTarget) Validate() error {
	if dt.DevicePath == "" {
		return errors.New("drive target requires a device path")
	}
	return nil
}

// IsEmpty returns true if no drive was specified.
func (dt DriveTarget) IsEmpty() bool {
	return dt.DevicePath == ""
}

// String returns a human-readable description of the target.
func (dt DriveTarget) String() string {
	if dt.DevicePath == "" {
		return "(unset)"
	}
	return fmt.Sprintf("%s (%d sectors free)", dt.DevicePath, dt.FreeSectors)
}

// ProgressUpdate represents progress information for a running backup
// or restore, in sectors rather than generic "items".
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// Rate calculates sectors per second
func (p *ProgressUpdate) Rate() float64 {
	if p.ElapsedTime == 0 {
		return 0
	}
	return float64(p.Completed) / p.ElapsedTime.Seconds()
}

// ETA estimates time to completion
func (p *ProgressUpdate) ETA() time.Duration {
	if p.Completed == 0 || p.Total == 0 {
		return 0
	}
	rate := p.Rate()
	if rate == 0 {
		return 0
	}
	remaining := p.Total - p.Completed
	return time.Duration(float64(remaining)/rate) * time.Second
}

// CommonError represents a CLI-level error: something the user's
// invocation got wrong, as opposed to the data-plane faults
// internal/errors.Error classifies.
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common CLI-level error codes.
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeDeviceAccess   = "DEVICE_ACCESS"
	ErrCodeTargetNotFound = "TARGET_NOT_FOUND"
	ErrCodePermission     = "PERMISSION_DENIED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
