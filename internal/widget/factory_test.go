package widget

import (
	"errors"
	"testing"
	"time"
)

func TestFactoryOnlyBuildsForAllowedHosts(t *testing.T) {
	f := NewFactory(FactoryConfig{
		DefaultHost:  "https://assist.seep.test/",
		AllowedHosts: []string{"https://shop-a.test"},
		BackendMode:  "mock",
	})

	if _, err := f.New("s1", Embed{}, time.UTC); err != nil {
		t.Fatalf("New(default host) error = %v", err)
	}
	if _, err := f.New("s2", Embed{Host: "https://SHOP-A.test"}, time.UTC); err != nil {
		t.Fatalf("New(allowed host) error = %v", err)
	}
	_, err := f.New("s3", Embed{Host: "http://127.0.0.1:9000"}, time.UTC)
	if !errors.Is(err, ErrHostNotAllowed) {
		t.Fatalf("New(unlisted host) error = %v, want %v", err, ErrHostNotAllowed)
	}

	f.mu.Lock()
	n := len(f.telemetry)
	f.mu.Unlock()
	if n != 0 {
		t.Fatalf("telemetry clients = %d, want 0 with telemetry disabled", n)
	}
}
