package sink_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/sensorstream/internal/collector"
	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"codeberg.org/mutker/sensorstream/internal/sink"
	"codeberg.org/mutker/sensorstream/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu      sync.Mutex
	records []record.Record
}

func (c *collectingSink) Present(r record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *collectingSink) sequences() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seqs := make([]int, 0, len(c.records))
	for _, r := range c.records {
		seqs = append(seqs, r.Sequence)
	}
	return seqs
}

type fakeArchive struct {
	entries []*store.Entry
	err     error
}

func (f *fakeArchive) Record(_ context.Context, e *store.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (*fakeArchive) Close() error { return nil }

func sample(seq int) record.Record {
	return record.Data(seq, map[string]any{
		record.FieldCoreTemp:  48.3,
		record.FieldVoltage:   1.2,
		record.FieldClockArm:  1500000000.0,
		record.FieldClockCore: 500000000.0,
		record.FieldThrottled: "0x0",
	})
}

func TestMulti(t *testing.T) {
	a, b := &collectingSink{}, &collectingSink{}
	var s collector.Sink = sink.Multi{a, b}

	s.Present(sample(1))
	s.Present(sample(2))

	assert.Equal(t, []int{1, 2}, a.sequences())
	assert.Equal(t, []int{1, 2}, b.sequences())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := sink.NewLog(logger.New(&buf))

	l.Present(sample(2))
	assert.Contains(t, buf.String(), `"iteration":2`)
	assert.Contains(t, buf.String(), `"core_temp_C":48.3`)
	assert.Contains(t, buf.String(), `"level":"info"`)

	buf.Reset()
	l.Present(record.Failure(3, "vcgencmd: not found"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"error":"vcgencmd: not found"`)
}

func TestStore(t *testing.T) {
	archive := &fakeArchive{}
	s := sink.NewStore(archive, "abc", logger.Nop())

	s.Present(sample(0))
	s.Present(record.Failure(1, "boom"))

	require.Len(t, archive.entries, 2)
	assert.Equal(t, "abc", archive.entries[0].SessionID)
	assert.False(t, archive.entries[0].ReceivedAt.IsZero())
	assert.Equal(t, 1, archive.entries[1].Record.Sequence)
	assert.True(t, archive.entries[1].Record.IsError())
}

func TestStoreLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	archive := &fakeArchive{err: errors.New().New(store.ErrRecordFailed)}
	s := sink.NewStore(archive, "abc", logger.New(&buf))

	assert.NotPanics(t, func() { s.Present(sample(4)) })
	assert.Contains(t, buf.String(), "Failed to archive record")
	assert.Contains(t, buf.String(), `"iteration":4`)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	target := &collectingSink{}
	d := sink.NewDispatcher(target, 1, logger.Nop())

	d.Present(sample(0))
	d.Present(sample(1))
	d.Present(sample(2))
	assert.Equal(t, int64(2), d.Dropped())
	assert.Empty(t, target.sequences())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Equal(t, []int{0}, target.sequences())
}

func TestDispatcherRun(t *testing.T) {
	target := &collectingSink{}
	d := sink.NewDispatcher(target, 0, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		d.Present(sample(i))
	}

	assert.Eventually(t, func() bool {
		return len(target.sequences()) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, target.sequences())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Zero(t, d.Dropped())
}

func TestDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := sink.NewDisplay(&buf, "Collector")

	initial := d.Render()
	assert.Contains(t, initial, "Collector")
	assert.Contains(t, initial, "--")
	assert.False(t, d.LED())
	assert.Equal(t, "🔴", d.LEDIcon())

	d.Present(sample(7))
	out := buf.String()
	assert.True(t, d.LED())
	assert.Contains(t, out, "🟢")
	for _, label := range []string{"Iteration:", "Core Temp:", "Voltage:", "ARM Clock:", "Core Clock:", "Throttled:"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "48.3")
	assert.Contains(t, out, "0x0")
	assert.NotContains(t, out, "Error:")

	buf.Reset()
	d.Present(record.Failure(8, "sensor unavailable"))
	out = buf.String()
	assert.False(t, d.LED())
	assert.Contains(t, out, "Error: sensor unavailable")
	// last good values stay on screen
	assert.Contains(t, out, "48.3")

	buf.Reset()
	d.Present(sample(9))
	assert.True(t, d.LED())
	assert.NotContains(t, buf.String(), "Error:")
}
