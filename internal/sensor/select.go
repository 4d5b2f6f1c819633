package sensor

import (
	"os"
	"runtime"
	"strings"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
)

// hostname is replaced in tests
var hostname = os.Hostname

// IsRaspberryPi reports whether the process runs on a Raspberry Pi, judged
// the way Raspberry Pi OS names its hosts.
func IsRaspberryPi() bool {
	if runtime.GOOS != "linux" {
		return false
	}

	name, err := hostname()
	if err != nil {
		return false
	}

	return strings.Contains(strings.ToLower(name), "raspberrypi")
}

// Select builds the backend for kind. KindAuto picks vcgencmd on a
// Raspberry Pi and simulated readings everywhere else.
func Select(kind Kind, log logger.Logger) (Backend, error) {
	if kind == KindAuto {
		kind = KindSimulated
		if IsRaspberryPi() {
			kind = KindVCGenCmd
		}
		log.Debug().Str("backend", string(kind)).Msg("Auto-selected sensor backend")
	}

	switch kind {
	case KindVCGenCmd:
		return NewVCGenCmd(nil), nil
	case KindSimulated:
		return NewSimulated(), nil
	case KindNVML:
		backend, err := NewNVML(log)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, errors.New().WithData(ErrUnknownBackend, string(kind))
	}
}
