package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Loader fetches merchant configuration from the widget backend.
type Loader struct {
	host   string
	client *http.Client
}

func NewLoader(host string, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Loader{
		host: strings.TrimRight(strings.TrimSpace(host), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs GET {host}/merchant/config/{merchantID} and decodes the body.
func (l *Loader) Fetch(ctx context.Context, merchantID string) (Config, error) {
	if l.host == "" {
		return Config{}, fmt.Errorf("merchant config host is not set")
	}
	endpoint := l.host + "/merchant/config/" + url.PathEscape(merchantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Config{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := l.client.Do(req)
	if err != nil {
		return Config{}, fmt.Errorf("fetch merchant config: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Config{}, fmt.Errorf("merchant config status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var cfg Config
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode merchant config: %w", err)
	}
	return cfg, nil
}

// Load is Fetch with the widget's degrade-silently policy: any failure yields
// an empty Config so the widget stays usable with optional features disabled.
// The returned error is informational only.
func (l *Loader) Load(ctx context.Context, merchantID string) (Config, error) {
	cfg, err := l.Fetch(ctx, merchantID)
	if err != nil {
		log.Printf("merchant config unavailable for %q, using defaults: %v", merchantID, err)
		return Config{}, err
	}
	return cfg, nil
}
