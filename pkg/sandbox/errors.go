package sandbox

import "errors"

// Limit breach messages. Callers match on these substrings.
const (
	MsgCPULimitExceeded       = "CPU limit exceeded"
	MsgMemoryLimitExceeded    = "Memory limit exceeded"
	MsgBandwidthLimitExceeded = "Bandwidth limit exceeded"
)

var (
	// ErrInvalidCPULimit is returned when the CPU limit is negative
	ErrInvalidCPULimit = errors.New("invalid CPU limit (must be >= 0)")

	// ErrInvalidMemoryLimit is returned when the memory limit is negative
	ErrInvalidMemoryLimit = errors.New("invalid memory limit (must be >= 0)")

	// ErrInvalidBandwidthLimit is returned when the bandwidth limit is negative
	ErrInvalidBandwidthLimit = errors.New("invalid bandwidth limit (must be >= 0)")

	// ErrInvalidMonitorInterval is returned when the monitor interval is not positive
	ErrInvalidMonitorInterval = errors.New("invalid monitor interval (must be > 0)")

	// ErrInvalidPermission is returned when a permission set is malformed
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrNilHandler is returned when Execute is given no handler
	ErrNilHandler = errors.New("handler is nil")

	// ErrNoExecutionContext is returned when a capability is used outside a sandboxed call
	ErrNoExecutionContext = errors.New("no sandbox execution context")

	// ErrCapabilityDenied is returned when a capability class is not granted
	ErrCapabilityDenied = errors.New("capability not granted")

	// ErrFilesystemAccessDenied is returned when filesystem access is denied
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")

	// ErrNetworkAccessDenied is returned when network access is denied
	ErrNetworkAccessDenied = errors.New("network access denied")

	// ErrEnvironmentAccessDenied is returned when an environment variable is not allow-listed
	ErrEnvironmentAccessDenied = errors.New("environment access denied")

	// ErrProcessAccessDenied is returned when an executable is not allow-listed
	ErrProcessAccessDenied = errors.New("process execution denied")
)
