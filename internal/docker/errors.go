package docker

import "errors"

// Sentinel errors exposed by the adapter. Callers handle these instead of
// engine-specific error types.
var (
	// ErrRuntimeUnavailable means the container engine itself is unreachable.
	// Fatal for the current request, never retried automatically.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrImageNotFound means the image is absent locally and the single
	// pull-and-retry attempt did not resolve it.
	ErrImageNotFound = errors.New("image not found")

	// ErrNotRunning means the target container is not in a runnable state.
	ErrNotRunning = errors.New("container not running")

	// ErrResourceExhausted means the engine refused creation for lack of
	// resources.
	ErrResourceExhausted = errors.New("runtime resources exhausted")
)
