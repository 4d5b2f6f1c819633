package sensor

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000.0

// NVML reads the first NVIDIA GPU through the management library
type NVML struct {
	device nvml.Device
	mu     sync.Mutex
	closed bool
}

// NewNVML initializes NVML and binds the device at index 0
func NewNVML(log logger.Logger) (*NVML, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}
	if count == 0 {
		nvml.Shutdown()
		return nil, errFactory.WithMessage(ErrDeviceNotFound, "no NVIDIA GPU present")
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		log.Info().Msgf("Detected GPU: %v", name)
	} else {
		log.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	return &NVML{device: device}, nil
}

func (*NVML) Name() string { return string(KindNVML) }

func (n *NVML) Read(_ context.Context, _ int) (map[string]any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, errors.New().WithMessage(errors.ErrBackendRead, "nvml backend closed")
	}

	temp, ret := n.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if err := readErr("temperature", ret); err != nil {
		return nil, err
	}

	power, ret := n.device.GetPowerUsage()
	if err := readErr("power usage", ret); err != nil {
		return nil, err
	}

	clockSM, ret := n.device.GetClockInfo(nvml.CLOCK_SM)
	if err := readErr("sm clock", ret); err != nil {
		return nil, err
	}

	clockMem, ret := n.device.GetClockInfo(nvml.CLOCK_MEM)
	if err := readErr("memory clock", ret); err != nil {
		return nil, err
	}

	reasons, ret := n.device.GetCurrentClocksThrottleReasons()
	if err := readErr("throttle reasons", ret); err != nil {
		return nil, err
	}

	// Clock strings mirror vcgencmd's frequency(<id>)=<hz> output
	return map[string]any{
		record.FieldCoreTemp:  float64(temp),
		record.FieldPower:     float64(power) / milliWattsToWatts,
		record.FieldClockSM:   fmt.Sprintf("frequency(sm)=%d", uint64(clockSM)*1_000_000),
		record.FieldClockMem:  fmt.Sprintf("frequency(mem)=%d", uint64(clockMem)*1_000_000),
		record.FieldThrottled: fmt.Sprintf("throttled=0x%x", reasons),
	}, nil
}

func (n *NVML) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return errors.New().Wrap(ErrNVMLShutdown, newNVMLError(ret))
	}

	return nil
}

func readErr(what string, ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}

	return errors.New().
		Wrap(errors.ErrBackendRead, newNVMLError(ret)).
		WithMessage("failed to read GPU " + what)
}
