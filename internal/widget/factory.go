package widget

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/seep/internal/chatapi"
	"github.com/ent0n29/seep/internal/escalation"
	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/observability"
	"github.com/ent0n29/seep/internal/telemetry"
	"github.com/ent0n29/seep/internal/transcript"
)

// ErrHostNotAllowed is returned for an embed whose host is neither the
// default host nor on the allowlist.
var ErrHostNotAllowed = errors.New("service host not allowed")

type FactoryConfig struct {
	DefaultHost       string
	AllowedHosts      []string
	DefaultMerchantID string
	BackendMode       string
	MockChunkDelay    time.Duration

	ChatTimeout      time.Duration
	ConfigTimeout    time.Duration
	TelemetryTimeout time.Duration
	TelemetryEnabled bool

	EscalationThreshold int
	UnhelpfulPhrases    []string

	Transcript transcript.Store
	Metrics    *observability.Metrics
	Turns      TurnTracker
}

// Factory builds widgets that talk to the service host of their embed,
// sharing one telemetry client per host. Only the default host and the
// allowlisted hosts are ever called.
type Factory struct {
	cfg        FactoryConfig
	classifier escalation.Classifier

	mu        sync.Mutex
	telemetry map[string]*telemetry.Client
}

func NewFactory(cfg FactoryConfig) *Factory {
	cfg.DefaultHost = strings.TrimRight(strings.TrimSpace(cfg.DefaultHost), "/")
	return &Factory{
		cfg:        cfg,
		classifier: escalation.NewPhraseClassifier(cfg.UnhelpfulPhrases),
		telemetry:  make(map[string]*telemetry.Client),
	}
}

// New creates an uninitialized widget; the caller runs Init.
func (f *Factory) New(sessionID string, embed Embed, loc *time.Location) (*Widget, error) {
	if embed.Host == "" {
		embed.Host = f.cfg.DefaultHost
	}
	if !f.Allows(embed.Host) {
		return nil, ErrHostNotAllowed
	}
	if embed.MerchantID == "" {
		embed.MerchantID = f.cfg.DefaultMerchantID
	}
	backend, err := chatapi.NewBackend(chatapi.Config{
		Mode:           f.cfg.BackendMode,
		Host:           embed.Host,
		Timeout:        f.cfg.ChatTimeout,
		MockChunkDelay: f.cfg.MockChunkDelay,
	})
	if err != nil {
		return nil, err
	}

	var loader ConfigLoader
	if embed.Host != "" {
		loader = merchant.NewLoader(embed.Host, f.cfg.ConfigTimeout)
	}

	return New(Options{
		SessionID:           sessionID,
		Embed:               embed,
		Loader:              loader,
		Backend:             backend,
		Telemetry:           f.telemetryFor(embed.Host),
		Classifier:          f.classifier,
		EscalationThreshold: f.cfg.EscalationThreshold,
		Transcript:          f.cfg.Transcript,
		Metrics:             f.cfg.Metrics,
		Turns:               f.cfg.Turns,
		Location:            loc,
	})
}

// Allows reports whether host may back a widget.
func (f *Factory) Allows(host string) bool {
	if host == "" || strings.EqualFold(host, f.cfg.DefaultHost) {
		return true
	}
	for _, h := range f.cfg.AllowedHosts {
		if strings.EqualFold(strings.TrimRight(h, "/"), host) {
			return true
		}
	}
	return false
}

func (f *Factory) telemetryFor(host string) telemetry.Sink {
	if !f.cfg.TelemetryEnabled || host == "" {
		return telemetry.Nop{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.telemetry[host]
	if !ok {
		c = telemetry.NewClient(host, f.cfg.TelemetryTimeout)
		f.telemetry[host] = c
	}
	return c
}

// Flush waits for in-flight telemetry deliveries.
func (f *Factory) Flush() {
	f.mu.Lock()
	clients := make([]*telemetry.Client, 0, len(f.telemetry))
	for _, c := range f.telemetry {
		clients = append(clients, c)
	}
	f.mu.Unlock()
	for _, c := range clients {
		c.Wait()
	}
}
