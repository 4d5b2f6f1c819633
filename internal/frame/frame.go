// Package frame splits a byte stream into delimiter-terminated frames and
// writes frames in full.
package frame

import (
	"bytes"
	"io"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/record"
)

// Reassembler accumulates stream chunks and extracts complete frames.
// It is not safe for concurrent use; it belongs to one read loop.
type Reassembler struct {
	buf         []byte
	delim       byte
	maxFragment int
}

// NewReassembler returns a Reassembler splitting on record.Delimiter.
// maxFragment caps the length of any single frame body, complete or not;
// zero or less disables the cap.
func NewReassembler(maxFragment int) *Reassembler {
	return &Reassembler{
		delim:       record.Delimiter,
		maxFragment: maxFragment,
	}
}

// Feed appends chunk and returns every frame body completed by it, in
// stream order and without delimiters. After Feed returns, the buffer holds
// at most one partial frame.
//
// If a frame body exceeds the cap, Feed returns the frames extracted before
// it together with a fragment_overflow error; the stream cannot be
// resynchronised and the caller should end the session.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], r.delim)
		if i < 0 {
			break
		}
		if r.exceeds(i) {
			r.compact(start)
			return frames, r.overflow(i)
		}

		body := make([]byte, i)
		copy(body, r.buf[start:start+i])
		frames = append(frames, body)
		start += i + 1
	}

	r.compact(start)

	if r.exceeds(len(r.buf)) {
		return frames, r.overflow(len(r.buf))
	}

	return frames, nil
}

// Pending returns the number of buffered bytes not yet resolved into a frame
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset discards any buffered partial frame and returns its length
func (r *Reassembler) Reset() int {
	n := len(r.buf)
	r.buf = r.buf[:0]

	return n
}

func (r *Reassembler) exceeds(n int) bool {
	return r.maxFragment > 0 && n > r.maxFragment
}

func (r *Reassembler) overflow(n int) error {
	return errors.New().WithData(errors.ErrFragmentOverflow, struct {
		Length int
		Max    int
	}{
		Length: n,
		Max:    r.maxFragment,
	})
}

// compact drops consumed bytes, reusing the backing array
func (r *Reassembler) compact(consumed int) {
	if consumed == 0 {
		return
	}
	n := copy(r.buf, r.buf[consumed:])
	r.buf = r.buf[:n]
}

// Write writes p to w in full, retrying short writes until every byte is
// accepted or w fails.
func Write(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}

	return nil
}
