package metrics

import "errors"

// Errors returned when reading values back from the registry.
var (
	ErrObserveFailed = errors.New("metrics observe failed")
	ErrNotFound      = errors.New("metric not found")
)
