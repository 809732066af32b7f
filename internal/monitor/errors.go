package monitor

import "errors"

var (
	// ErrNoActiveCameras is returned by Start when no camera source
	// could be opened; no resources are held when it is returned.
	ErrNoActiveCameras = errors.New("no active cameras available")

	// ErrAllCamerasLost ends a session when every camera has been
	// dropped after repeated read failures.
	ErrAllCamerasLost = errors.New("all cameras lost")

	// ErrWorkloadRunning is returned when starting a workload that
	// already has an active session.
	ErrWorkloadRunning = errors.New("workload already running")

	// ErrWorkloadNotRunning is returned when stopping a workload that
	// has no active session.
	ErrWorkloadNotRunning = errors.New("workload not running")

	// ErrUnknownWorkload is returned for a kind with no registered
	// configuration.
	ErrUnknownWorkload = errors.New("unknown workload")
)
