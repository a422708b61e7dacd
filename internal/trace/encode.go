package trace

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Envelope selects the top-level shape of the document.
type Envelope uint8

const (
	// EnvelopeObject writes {"traceEvents":[...]}.
	EnvelopeObject Envelope = iota
	// EnvelopeArray writes a bare JSON array.
	EnvelopeArray
)

func (e Envelope) String() string {
	if e == EnvelopeArray {
		return "array"
	}
	return "object"
}

// ParseEnvelope parses "object" or "array".
func ParseEnvelope(s string) (Envelope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "object":
		return EnvelopeObject, nil
	case "array":
		return EnvelopeArray, nil
	default:
		return 0, fmt.Errorf("unknown envelope %q (must be object or array)", s)
	}
}

// ctxCheckInterval is how many records are written between context checks.
const ctxCheckInterval = 4096

// Encode writes t to w, one record per line.
func Encode(w io.Writer, t *Trace, env Envelope) error {
	return encode(context.Background(), w, t, env)
}

func encode(ctx context.Context, w io.Writer, t *Trace, env Envelope) error {
	bw := bufio.NewWriter(w)

	head, tail := "[", "]"
	if env == EnvelopeObject {
		head, tail = `{"traceEvents":[`, "]}"
	}
	if t.Len() == 0 {
		if _, err := bw.WriteString(head + tail + "\n"); err != nil {
			return err
		}
		return bw.Flush()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if _, err := bw.WriteString(head + "\n"); err != nil {
		return err
	}
	for i := range t.Events {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		buf.Reset()
		if err := enc.Encode(&t.Events[i]); err != nil {
			return fmt.Errorf("trace: encode record %d: %w", i, err)
		}
		line := bytes.TrimRight(buf.Bytes(), "\n")
		if i > 0 {
			if _, err := bw.WriteString(",\n"); err != nil {
				return err
			}
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\n" + tail + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}
