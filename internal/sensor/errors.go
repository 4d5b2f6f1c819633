package sensor

import (
	"codeberg.org/mutker/sensorstream/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	ErrUnknownBackend = errors.ErrorCode("sensor_unknown_backend")
	ErrCommandFailed  = errors.ErrorCode("sensor_command_failed")
	ErrParseFailed    = errors.ErrorCode("sensor_parse_failed")
	ErrNVMLInitFailed = errors.ErrorCode("sensor_nvml_init_failed")
	ErrNVMLShutdown   = errors.ErrorCode("sensor_nvml_shutdown_failed")
	ErrDeviceNotFound = errors.ErrorCode("sensor_device_not_found")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}
