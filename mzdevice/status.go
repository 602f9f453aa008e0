package mzdevice

import (
	"errors"
	"fmt"
)

// Status is a native device status code.
// The numeric values follow OpenCL so that codes reported
// by an OpenCL-backed device can be passed through unchanged.
type Status int32

const (
	StatusSuccess                            Status = 0
	StatusDeviceNotFound                     Status = -1
	StatusMemObjectAllocationFailure         Status = -4
	StatusOutOfResources                     Status = -5
	StatusOutOfHostMemory                    Status = -6
	StatusProfilingInfoNotAvailable          Status = -7
	StatusExecStatusErrorForEventsInWaitList Status = -14
	StatusInvalidValue                       Status = -30
	StatusInvalidMemObject                   Status = -38
	StatusInvalidKernel                      Status = -48
	StatusInvalidKernelArgs                  Status = -52
	StatusInvalidWorkGroupSize               Status = -54
	StatusInvalidEventWaitList               Status = -57
	StatusInvalidEvent                       Status = -58
)

var statusNames = map[Status]string{
	StatusSuccess:                            "SUCCESS",
	StatusDeviceNotFound:                     "DEVICE_NOT_FOUND",
	StatusMemObjectAllocationFailure:         "MEM_OBJECT_ALLOCATION_FAILURE",
	StatusOutOfResources:                     "OUT_OF_RESOURCES",
	StatusOutOfHostMemory:                    "OUT_OF_HOST_MEMORY",
	StatusProfilingInfoNotAvailable:          "PROFILING_INFO_NOT_AVAILABLE",
	StatusExecStatusErrorForEventsInWaitList: "EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	StatusInvalidValue:                       "INVALID_VALUE",
	StatusInvalidMemObject:                   "INVALID_MEM_OBJECT",
	StatusInvalidKernel:                      "INVALID_KERNEL",
	StatusInvalidKernelArgs:                  "INVALID_KERNEL_ARGS",
	StatusInvalidWorkGroupSize:               "INVALID_WORK_GROUP_SIZE",
	StatusInvalidEventWaitList:               "INVALID_EVENT_WAIT_LIST",
	StatusInvalidEvent:                       "INVALID_EVENT",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// StatusError is the error type devices return for failed operations.
type StatusError struct {
	// The device operation that failed, such as "alloc" or "dispatch".
	Op string

	Status Status

	// Cause is an optional underlying error.
	// For StatusExecStatusErrorForEventsInWaitList,
	// Cause is the error of the failed dependency.
	Cause error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// StatusOf returns the status of the first [*StatusError] in err's chain,
// [StatusSuccess] for a nil error,
// or [StatusOutOfResources] if err carries no status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusOutOfResources
}

// IsDependencyFailure reports whether err only indicates
// that a command did not run because a dependency failed.
func IsDependencyFailure(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == StatusExecStatusErrorForEventsInWaitList
}
