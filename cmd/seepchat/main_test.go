package main

import (
	"strings"
	"testing"

	"github.com/ent0n29/seep/internal/conversation"
	"github.com/ent0n29/seep/internal/merchant"
)

func TestChipIndex(t *testing.T) {
	cases := []struct {
		key  string
		want int
		ok   bool
	}{
		{key: "1", want: 0, ok: true},
		{key: "9", want: 8, ok: true},
		{key: "0", ok: false},
		{key: "a", ok: false},
		{key: "ctrl+1", ok: false},
	}
	for _, tc := range cases {
		got, ok := chipIndex(tc.key)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("chipIndex(%q) = %d, %v, want %d, %v", tc.key, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRenderMessageIncludesActions(t *testing.T) {
	out := renderMessage(conversation.Message{
		Sender:  conversation.SenderBot,
		Kind:    conversation.KindActions,
		Actions: []merchant.Link{{Text: "Track order", URL: "https://shop.example/track"}},
	})
	if !strings.Contains(out, "Track order") || !strings.Contains(out, "https://shop.example/track") {
		t.Fatalf("renderMessage() = %q, want label and url", out)
	}
	if strings.Contains(out, "Bot:") {
		t.Fatalf("renderMessage() = %q, want no bot prefix for a bare action row", out)
	}
}

func TestEventQueuePreservesOrder(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 3; i++ {
		q.push(i)
	}
	q.mu.Lock()
	got := append([]any(nil), q.events...)
	q.mu.Unlock()
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("queued events = %v, want [0 1 2]", got)
	}
}
