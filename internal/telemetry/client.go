// Package telemetry sends fire-and-forget analytics events and log pings to
// the Seep service. Delivery failures never reach the caller.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	EventWidgetOpened     = "widget_opened"
	EventMessageSent      = "message_sent"
	EventResponseReceived = "response_received"
	EventButtonClicked    = "button_clicked"

	PingConfigLoadFailed = "config_load_failed"
	PingChatError        = "chat_error"
)

// Sink receives analytics. The widget depends on this instead of *Client so
// tests and alternate surfaces can observe events.
type Sink interface {
	Track(merchantID, event string, details any)
	Ping(event string)
}

type Nop struct{}

func (Nop) Track(string, string, any) {}
func (Nop) Ping(string)              {}

type analyticsEvent struct {
	MerchantID string `json:"merchantId"`
	Event      string `json:"event"`
	Details    any    `json:"details,omitempty"`
}

// Client posts to {host}/analytics and pings {host}/log.
type Client struct {
	host    string
	client  *http.Client
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewClient(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		host:    strings.TrimRight(strings.TrimSpace(host), "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (c *Client) Track(merchantID, event string, details any) {
	payload, err := json.Marshal(analyticsEvent{MerchantID: merchantID, Event: event, Details: details})
	if err != nil {
		log.Printf("telemetry marshal %s failed: %v", event, err)
		return
	}
	c.send(event, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/analytics", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (c *Client) Ping(event string) {
	target := c.host + "/log?event=" + url.QueryEscape(event)
	c.send(event, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (c *Client) send(event string, build func(context.Context) (*http.Request, error)) {
	if c == nil || c.host == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		req, err := build(ctx)
		if err != nil {
			log.Printf("telemetry %s: %v", event, err)
			return
		}
		res, err := c.client.Do(req)
		if err != nil {
			log.Printf("telemetry %s: %v", event, err)
			return
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		if res.StatusCode >= 300 {
			log.Printf("telemetry %s: %v", event, fmt.Errorf("status %d", res.StatusCode))
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (c *Client) Wait() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
