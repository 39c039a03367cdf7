package chatapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ChatRequest is one shopper message forwarded to the assistant.
type ChatRequest struct {
	MerchantID string `json:"-"`
	Message    string `json:"message"`
}

// Backend opens a streamed assistant reply. The returned body yields the
// reply bytes as they arrive; the caller must close it. A non-success
// response is reported as an error and no body is returned.
type Backend interface {
	OpenStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}

// StatusError reports a non-2xx chat response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat http status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat http status %d: %s", e.StatusCode, e.Body)
}

// Config controls backend construction.
type Config struct {
	Mode    string
	Host    string
	Timeout time.Duration
	// MockChunkDelay paces the mock backend's word chunks.
	MockChunkDelay time.Duration
}

func NewBackend(cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.Host) != "" {
			return NewHTTPBackend(cfg.Host, cfg.Timeout), nil
		}
		return NewMockBackend(cfg.MockChunkDelay), nil
	case "http":
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, errors.New("service host is required for http mode")
		}
		return NewHTTPBackend(cfg.Host, cfg.Timeout), nil
	case "mock":
		return NewMockBackend(cfg.MockChunkDelay), nil
	default:
		return nil, fmt.Errorf("unsupported chat backend mode %q", cfg.Mode)
	}
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }
