package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MerchantHeader carries the merchant identifier on chat requests.
const MerchantHeader = "X-Merchant-ID"

// HTTPBackend posts messages to {host}/chat and hands back the chunked body.
type HTTPBackend struct {
	url    string
	client *http.Client
}

func NewHTTPBackend(host string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		url: strings.TrimRight(strings.TrimSpace(host), "/") + "/chat",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (b *HTTPBackend) OpenStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.MerchantID != "" {
		httpReq.Header.Set(MerchantHeader, req.MerchantID)
	}

	res, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		return nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return res.Body, nil
}
