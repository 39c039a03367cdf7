// Package stream assembles a byte-streamed assistant reply into a single,
// progressively growing message buffer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrState = errors.New("invalid stream state transition")

// Update describes the buffer after one chunk was applied.
type Update struct {
	// Text is the full cumulative decoded buffer, never just the delta.
	Text  string
	Delta string
	// First is true for the first chunk that produced visible text; the
	// caller creates the bot message on it and edits that message afterwards.
	First bool
}

// Assembler owns the buffer of one in-flight request. It is not safe for
// concurrent use; the widget serializes access.
type Assembler struct {
	state   State
	dec     *utf8Decoder
	buf     strings.Builder
	chunks  int
	visible bool
	err     error
}

func NewAssembler() *Assembler {
	return &Assembler{dec: newUTF8Decoder()}
}

// Begin moves Idle -> Streaming once the request has been accepted.
func (a *Assembler) Begin() error {
	if a.state != StateIdle {
		return fmt.Errorf("%w: begin from %s", ErrState, a.state)
	}
	a.state = StateStreaming
	return nil
}

// Feed decodes chunk and appends it to the buffer. Chunks must be fed in
// arrival order.
func (a *Assembler) Feed(chunk []byte) (Update, error) {
	if a.state != StateStreaming {
		return Update{}, fmt.Errorf("%w: feed in %s", ErrState, a.state)
	}
	a.chunks++
	delta := a.dec.Decode(chunk, false)
	a.buf.WriteString(delta)

	up := Update{Text: a.buf.String(), Delta: delta}
	if !a.visible && a.buf.Len() > 0 {
		a.visible = true
		up.First = true
	}
	return up, nil
}

// Complete flushes the decoder on end-of-stream and returns the full buffer.
func (a *Assembler) Complete() (Update, error) {
	if a.state != StateStreaming {
		return Update{}, fmt.Errorf("%w: complete in %s", ErrState, a.state)
	}
	delta := a.dec.Decode(nil, true)
	a.buf.WriteString(delta)
	a.state = StateCompleted

	up := Update{Text: a.buf.String(), Delta: delta}
	if !a.visible && a.buf.Len() > 0 {
		a.visible = true
		up.First = true
	}
	return up, nil
}

// Fail records a request error. Nothing buffered so far is finalized.
func (a *Assembler) Fail(err error) {
	if a.state == StateCompleted || a.state == StateFailed {
		return
	}
	if err == nil {
		err = errors.New("stream failed")
	}
	a.state = StateFailed
	a.err = err
}

func (a *Assembler) State() State { return a.state }
func (a *Assembler) Text() string { return a.buf.String() }
func (a *Assembler) Visible() bool { return a.visible }
func (a *Assembler) Chunks() int { return a.chunks }
func (a *Assembler) Err() error { return a.err }

// Pump reads r and hands every non-empty read to onChunk in arrival order,
// without coalescing. It returns nil at io.EOF. The slice passed to onChunk
// is reused between calls.
func Pump(ctx context.Context, r io.Reader, onChunk func([]byte) error) error {
	buf := make([]byte, 32<<10)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if cbErr := onChunk(buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
	}
}
