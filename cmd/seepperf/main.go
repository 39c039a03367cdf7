package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/seep/internal/protocol"
	"github.com/ent0n29/seep/internal/session"
)

type options struct {
	baseURL        string
	merchantID     string
	scriptSrc      string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Message struct {
		Sender string `json:"sender"`
	} `json:"message"`
}

// turnEvent marks a point in one reply: the first visible bot text or the
// sealed message.
type turnEvent struct {
	kind string
	at   time.Time
}

type turnTiming struct {
	firstText time.Duration
	total     time.Duration
}

var defaultQuestions = []string{
	"Do you have running shoes in size 42?",
	"What is your return policy?",
	"Can I pay with a gift card?",
	"Which jacket is best for rain?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "seepperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "seepperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "widget host base URL")
	flag.StringVar(&cfg.merchantID, "merchant", "perf-merchant", "merchant_id used for the synthetic session")
	flag.StringVar(&cfg.scriptSrc, "script", "", "optional script_src reported at session creation")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&startDelayMS, "start-delay-ms", 300, "delay before the first turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for message_finalized per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "questions separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	texts, err := parseTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func parseTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultQuestions...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty questions")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("seepperf: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan turnEvent, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh, cfg.verbose)

	if err := conn.WriteJSON(protocol.ClientOpen{Type: protocol.TypeClientOpen, SessionID: sessionID}); err != nil {
		return fmt.Errorf("open widget: %w", err)
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}
	drain(events)

	timings := make([]turnTiming, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("seepperf: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}

		sentAt := time.Now()
		msg := protocol.ClientSubmit{Type: protocol.TypeClientSubmit, SessionID: sessionID, Text: text}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("turn %d submit: %w", i+1, err)
		}
		timing, err := awaitFinalized(events, readErrCh, sentAt, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await message_finalized: %w", i+1, err)
		}
		timings = append(timings, timing)
		if cfg.verbose {
			fmt.Printf("seepperf: turn %d first_text=%s total=%s\n", i+1, timing.firstText.Round(time.Millisecond), timing.total.Round(time.Millisecond))
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(os.Stdout, timings)
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(session.CreateRequest{
		MerchantID: cfg.merchantID,
		ScriptSrc:  cfg.scriptSrc,
		Timezone:   "UTC",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/widget/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/widget/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/widget/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- turnEvent, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		now := time.Now()
		switch env.Type {
		case string(protocol.TypeMessageCreated):
			if env.Message.Sender == "bot" {
				events <- turnEvent{kind: env.Type, at: now}
			}
		case string(protocol.TypeMessageFinalized):
			events <- turnEvent{kind: env.Type, at: now}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "seepperf: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func drain(events <-chan turnEvent) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func awaitFinalized(events <-chan turnEvent, readErrCh <-chan error, sentAt time.Time, timeout time.Duration) (turnTiming, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var timing turnTiming
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case string(protocol.TypeMessageCreated):
				if timing.firstText == 0 {
					timing.firstText = ev.at.Sub(sentAt)
				}
			case string(protocol.TypeMessageFinalized):
				timing.total = ev.at.Sub(sentAt)
				if timing.firstText == 0 {
					timing.firstText = timing.total
				}
				return timing, nil
			}
		case err := <-readErrCh:
			return turnTiming{}, err
		case <-timer.C:
			return turnTiming{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}

func printSummary(w io.Writer, timings []turnTiming) {
	first := make([]time.Duration, 0, len(timings))
	total := make([]time.Duration, 0, len(timings))
	for _, t := range timings {
		first = append(first, t.firstText)
		total = append(total, t.total)
	}
	fmt.Fprintf(w, "seepperf: turns=%d\n", len(timings))
	fmt.Fprintf(w, "seepperf: first_text p50=%s p95=%s\n", percentile(first, 0.50).Round(time.Millisecond), percentile(first, 0.95).Round(time.Millisecond))
	fmt.Fprintf(w, "seepperf: total      p50=%s p95=%s\n", percentile(total, 0.50).Round(time.Millisecond), percentile(total, 0.95).Round(time.Millisecond))
}
