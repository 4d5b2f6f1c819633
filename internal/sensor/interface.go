package sensor

import "context"

// Backend acquires one reading per call. Implementations must not assume
// anything about how often, or from which goroutine, Read is called.
type Backend interface {
	// Name identifies the variant in logs
	Name() string
	// Read returns the current field values for the given iteration, or a
	// backend_read_failed error
	Read(ctx context.Context, iteration int) (map[string]any, error)
	// Close releases any resources held by the backend
	Close() error
}

// Kind selects a Backend variant
type Kind string

const (
	KindAuto      Kind = "auto"
	KindVCGenCmd  Kind = "vcgencmd"
	KindNVML      Kind = "nvml"
	KindSimulated Kind = "simulated"
)
