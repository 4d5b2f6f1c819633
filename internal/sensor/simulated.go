package sensor

import (
	"context"

	"codeberg.org/mutker/sensorstream/internal/record"
)

const simulatedNote = "Simulated values - not running on a Raspberry Pi"

// Simulated returns fixed plausible readings. It is the fallback on hosts
// without vcgencmd.
type Simulated struct{}

func NewSimulated() *Simulated {
	return &Simulated{}
}

func (*Simulated) Name() string { return string(KindSimulated) }

func (*Simulated) Read(_ context.Context, _ int) (map[string]any, error) {
	return map[string]any{
		record.FieldCoreTemp:  42.0,
		record.FieldVoltage:   1.20,
		record.FieldClockArm:  "frequency(45)=1500000000",
		record.FieldClockCore: "frequency(1)=500000000",
		record.FieldThrottled: "throttled=0x0",
		record.FieldNote:      simulatedNote,
	}, nil
}

func (*Simulated) Close() error { return nil }
