package sensor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/record"
	"github.com/shopspring/decimal"
)

const (
	vcgencmdBinary = "vcgencmd"
	tempPlaces     = 1
	voltPlaces     = 2
)

// CommandRunner runs an external command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, errors.New().WithData(ErrCommandFailed, strings.TrimSpace(stderr.String()))
	}

	return out, err
}

// VCGenCmd reads the Raspberry Pi firmware sensors through vcgencmd
type VCGenCmd struct {
	run CommandRunner
}

// NewVCGenCmd returns a native backend; a nil runner uses ExecRunner
func NewVCGenCmd(run CommandRunner) *VCGenCmd {
	if run == nil {
		run = ExecRunner
	}

	return &VCGenCmd{run: run}
}

func (*VCGenCmd) Name() string { return string(KindVCGenCmd) }

func (v *VCGenCmd) Read(ctx context.Context, _ int) (map[string]any, error) {
	errFactory := errors.New()

	tempRaw, err := v.query(ctx, "measure_temp")
	if err != nil {
		return nil, err
	}
	voltRaw, err := v.query(ctx, "measure_volts")
	if err != nil {
		return nil, err
	}
	clockArm, err := v.query(ctx, "measure_clock", "arm")
	if err != nil {
		return nil, err
	}
	clockCore, err := v.query(ctx, "measure_clock", "core")
	if err != nil {
		return nil, err
	}
	throttled, err := v.query(ctx, "get_throttled")
	if err != nil {
		return nil, err
	}

	// temp=48.3'C
	temp, err := parseRounded(tempRaw, "temp=", "'C", tempPlaces)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBackendRead, err)
	}

	// volt=0.8438V
	volts, err := parseRounded(voltRaw, "volt=", "V", voltPlaces)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBackendRead, err)
	}

	return map[string]any{
		record.FieldCoreTemp:  temp,
		record.FieldVoltage:   volts,
		record.FieldClockArm:  clockArm,
		record.FieldClockCore: clockCore,
		record.FieldThrottled: throttled,
	}, nil
}

func (*VCGenCmd) Close() error { return nil }

func (v *VCGenCmd) query(ctx context.Context, args ...string) (string, error) {
	out, err := v.run(ctx, vcgencmdBinary, args...)
	if err != nil {
		return "", errors.New().Wrap(errors.ErrBackendRead, err)
	}

	return strings.TrimSpace(string(out)), nil
}

func parseRounded(raw, prefix, suffix string, places int32) (float64, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(raw, prefix), suffix)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.New().WithData(ErrParseFailed, raw)
	}

	return d.Round(places).InexactFloat64(), nil
}
