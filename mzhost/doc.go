// Package mzhost is an in-process implementation of [mzdevice.Device].
//
// The device memory is ordinary Go memory,
// and the command queue is out-of-order:
// each enqueued command gets its own goroutine,
// which begins executing as soon as every event in its wait list has completed.
// Dispatches split their work items into work groups
// that run concurrently, bounded by [DeviceConfig.Workers].
//
// Besides serving as the default accelerator when no hardware device is present,
// the Device tracks every live buffer and event
// and supports injecting faults at chosen commands,
// which makes it the fixture for exercising the orchestrator's failure paths.
package mzhost
