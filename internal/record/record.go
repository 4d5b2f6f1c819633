// Package record defines the telemetry sample exchanged between the
// sampler and the collector and its wire encoding: one JSON object per
// record, terminated by a newline.
package record

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"codeberg.org/mutker/sensorstream/internal/errors"
)

// Delimiter terminates every encoded record. encoding/json escapes control
// characters inside strings, so it never appears in an encoded body.
const Delimiter byte = '\n'

// Wire field names
const (
	FieldIteration = "iteration"
	FieldError     = "error"
	FieldCoreTemp  = "core_temp_C"
	FieldVoltage   = "voltage"
	FieldClockArm  = "clock_arm"
	FieldClockCore = "clock_core"
	FieldThrottled = "throttled"
	FieldNote      = "NOTE"
	FieldPower     = "power_W"
	FieldClockSM   = "clock_sm"
	FieldClockMem  = "clock_mem"
)

// Record is one telemetry sample, or the error that replaced it.
// A record is error shaped when Err is non-empty; Fields is then nil.
type Record struct {
	Sequence int
	Fields   map[string]any
	Err      string
}

// Data returns a data-shaped record
func Data(sequence int, fields map[string]any) Record {
	if fields == nil {
		fields = map[string]any{}
	}

	return Record{Sequence: sequence, Fields: fields}
}

// DefaultFailureCause stands in for an empty failure cause so the record
// stays error shaped
const DefaultFailureCause = "sensor read failed"

// Failure returns an error-shaped record carrying cause
func Failure(sequence int, cause string) Record {
	if strings.TrimSpace(cause) == "" {
		cause = DefaultFailureCause
	}

	return Record{Sequence: sequence, Err: cause}
}

// IsError reports whether r is error shaped
func (r Record) IsError() bool {
	return r.Err != ""
}

// Get returns the named field, reporting whether it was present
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Encode serializes r as a JSON object followed by Delimiter. Keys are
// emitted in sorted order so the output is deterministic. A data record
// may not carry the reserved iteration or error keys among its fields.
func Encode(r Record) ([]byte, error) {
	errFactory := errors.New()

	var obj map[string]any
	if r.IsError() {
		obj = map[string]any{
			FieldIteration: r.Sequence,
			FieldError:     r.Err,
		}
	} else {
		for _, reserved := range []string{FieldIteration, FieldError} {
			if _, ok := r.Fields[reserved]; ok {
				return nil, errFactory.WithData(errors.ErrEncode, "reserved field "+reserved)
			}
		}

		obj = make(map[string]any, len(r.Fields)+1)
		for k, v := range r.Fields {
			obj[k] = v
		}
		obj[FieldIteration] = r.Sequence
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrEncode, err)
	}

	return append(body, Delimiter), nil
}

// Decode parses one record body with the delimiter already stripped.
// Anything that is not a JSON object, or whose iteration is not a
// non-negative whole number, is a malformed record. A missing iteration
// decodes as sequence 0.
func Decode(body []byte) (Record, error) {
	errFactory := errors.New()

	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Record{}, errFactory.WithData(errors.ErrMalformedRecord, "not a JSON object")
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Record{}, errFactory.Wrap(errors.ErrMalformedRecord, err)
	}

	var r Record
	if raw, ok := obj[FieldIteration]; ok {
		seq, ok := wholeNumber(raw)
		if !ok {
			return Record{}, errFactory.WithData(errors.ErrMalformedRecord, "invalid iteration")
		}
		r.Sequence = seq
		delete(obj, FieldIteration)
	}

	if raw, ok := obj[FieldError]; ok {
		cause, ok := raw.(string)
		if !ok {
			return Record{}, errFactory.WithData(errors.ErrMalformedRecord, "invalid error field")
		}
		return Failure(r.Sequence, cause), nil
	}

	r.Fields = obj

	return r, nil
}

func wholeNumber(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}

	return int(f), true
}
