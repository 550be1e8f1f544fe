package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const maxLineBytes = 1 << 20

// Reader decodes one envelope per line from a JSONL stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next envelope or io.EOF. Blank lines are skipped.
func (r *Reader) Next() (Envelope, error) {
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode line %d: %w", r.line, err)
		}
		return env, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Envelope{}, fmt.Errorf("read events: %w", err)
	}
	return Envelope{}, io.EOF
}

// Each calls fn for every envelope until the stream ends or fn fails.
func (r *Reader) Each(ctx context.Context, fn func(Envelope) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}

// Writer encodes envelopes one per line.
type Writer struct {
	enc *json.Encoder
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends env as a single line.
func (w *Writer) Write(env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return w.enc.Encode(env)
}
