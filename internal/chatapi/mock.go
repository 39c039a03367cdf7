package chatapi

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// MockBackend streams deterministic replies word by word when no assistant
// service is configured.
type MockBackend struct {
	delay time.Duration
}

func NewMockBackend(delay time.Duration) *MockBackend { return &MockBackend{delay: delay} }

func (b *MockBackend) OpenStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	words := strings.Fields(buildMockReply(req))
	chunks := make([][]byte, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, []byte(w+" "))
	}
	return &chunkBody{ctx: ctx, chunks: chunks, delay: b.delay}, nil
}

func buildMockReply(req ChatRequest) string {
	base := strings.TrimSpace(req.Message)
	if base == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base)
}

// chunkBody yields one chunk per Read, mimicking a chunked HTTP body.
type chunkBody struct {
	ctx    context.Context
	chunks [][]byte
	delay  time.Duration
}

func (c *chunkBody) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return 0, c.ctx.Err()
		case <-t.C:
		}
	}
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *chunkBody) Close() error {
	c.chunks = nil
	return nil
}
