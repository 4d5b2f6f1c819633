package sink

import (
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/sensorstream/internal/record"
	"github.com/charmbracelet/lipgloss"
)

const (
	ledOn       = "🟢"
	ledOff      = "🔴"
	placeholder = "--"
	labelWidth  = 12
)

type panelRow struct {
	field string
	label string
}

var panelRows = []panelRow{
	{record.FieldIteration, "Iteration"},
	{record.FieldCoreTemp, "Core Temp"},
	{record.FieldVoltage, "Voltage"},
	{record.FieldClockArm, "ARM Clock"},
	{record.FieldClockCore, "Core Clock"},
	{record.FieldThrottled, "Throttled"},
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true)
	labelStyle = lipgloss.NewStyle().
			Width(labelWidth).
			Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// Display renders a status panel with the latest value of each known field
// and an activity LED that flips on every record. It is not safe for
// concurrent use; drive it from a Dispatcher.
type Display struct {
	w      io.Writer
	title  string
	values map[string]string
	errMsg string
	led    bool
}

func NewDisplay(w io.Writer, title string) *Display {
	return &Display{
		w:      w,
		title:  title,
		values: make(map[string]string, len(panelRows)),
	}
}

func (d *Display) Present(r record.Record) {
	d.values[record.FieldIteration] = fmt.Sprint(r.Sequence)

	if r.IsError() {
		d.errMsg = r.Err
	} else {
		d.errMsg = ""
		for _, row := range panelRows[1:] {
			if v, ok := r.Get(row.field); ok {
				d.values[row.field] = fmt.Sprint(v)
			}
		}
	}

	d.led = !d.led
	fmt.Fprintln(d.w, d.Render())
}

// Render returns the panel for the current state
func (d *Display) Render() string {
	lines := make([]string, 0, len(panelRows)+3)
	lines = append(lines, titleStyle.Render(d.title)+" "+d.LEDIcon())

	for _, row := range panelRows {
		value, ok := d.values[row.field]
		if !ok {
			value = placeholder
		}
		lines = append(lines, labelStyle.Render(row.label+":")+value)
	}

	if d.errMsg != "" {
		lines = append(lines, errorStyle.Render("Error: "+d.errMsg))
	}

	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (d *Display) LED() bool {
	return d.led
}

func (d *Display) LEDIcon() string {
	if d.led {
		return ledOn
	}
	return ledOff
}
