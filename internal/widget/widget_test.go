package widget

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/seep/internal/chatapi"
	"github.com/ent0n29/seep/internal/conversation"
	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/protocol"
	"github.com/ent0n29/seep/internal/telemetry"
	"github.com/ent0n29/seep/internal/transcript"
)

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Emit(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recorder) types() []string {
	var out []string
	for _, ev := range r.snapshot() {
		if t, ok := protocol.TypeOf(ev); ok {
			out = append(out, string(t))
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, match func(any) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if match(ev) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event; got %v", r.types())
}

type analytics struct {
	mu      sync.Mutex
	tracked []string
	details []any
	pings   []string
}

func (a *analytics) Track(_ string, event string, details any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracked = append(a.tracked, event)
	a.details = append(a.details, details)
}

func (a *analytics) Ping(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pings = append(a.pings, event)
}

func (a *analytics) count(event string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.tracked {
		if e == event {
			n++
		}
	}
	return n
}

type staticLoader struct {
	cfg merchant.Config
	err error
}

func (l staticLoader) Load(context.Context, string) (merchant.Config, error) { return l.cfg, l.err }

// scriptedBackend replies with the same chunks to every request.
type scriptedBackend struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	requests []chatapi.ChatRequest
}

func (b *scriptedBackend) OpenStream(_ context.Context, req chatapi.ChatRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return io.NopCloser(&chunkReader{chunks: append([]string(nil), b.chunks...)}), nil
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

// chanBackend streams whatever the test sends on ch until ch is closed.
type chanBackend struct {
	ch     chan []byte
	opened chan struct{}
}

func newChanBackend() *chanBackend {
	return &chanBackend{ch: make(chan []byte), opened: make(chan struct{}, 4)}
}

func (b *chanBackend) OpenStream(ctx context.Context, _ chatapi.ChatRequest) (io.ReadCloser, error) {
	b.opened <- struct{}{}
	return &chanBody{ctx: ctx, ch: b.ch}, nil
}

type chanBody struct {
	ctx context.Context
	ch  chan []byte
}

func (c *chanBody) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	case b, ok := <-c.ch:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	}
}

func (c *chanBody) Close() error { return nil }

func newTestWidget(t *testing.T, cfg merchant.Config, backend chatapi.Backend) (*Widget, *recorder, *analytics) {
	t.Helper()
	a := &analytics{}
	w, err := New(Options{
		SessionID: "s1",
		Embed:     Embed{MerchantID: "shop-1"},
		Loader:    staticLoader{cfg: cfg},
		Backend:   backend,
		Telemetry: a,
		Location:  time.UTC,
		Now:       func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &recorder{}
	w.Attach(rec)
	w.Init(context.Background())
	return w, rec, a
}

func botMessages(msgs []conversation.Message) []conversation.Message {
	var out []conversation.Message
	for _, m := range msgs {
		if m.Sender == conversation.SenderBot {
			out = append(out, m)
		}
	}
	return out
}

func TestGreetingByTimeOfDay(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 3, 1, h, m, 0, 0, time.UTC) }
	cases := []struct {
		now     time.Time
		welcome string
		want    string
	}{
		{day(0, 0), "", "Good morning!"},
		{day(11, 59), "How can we help?", "Good morning! How can we help?"},
		{day(12, 0), "", "Good afternoon!"},
		{day(17, 59), "", "Good afternoon!"},
		{day(18, 0), "  ", "Good evening!"},
	}
	for _, tc := range cases {
		if got := Greeting(tc.now, tc.welcome); got != tc.want {
			t.Fatalf("Greeting(%s, %q) = %q, want %q", tc.now.Format("15:04"), tc.welcome, got, tc.want)
		}
	}
}

func TestParseEmbed(t *testing.T) {
	e := ParseEmbed("https://cdn.seep.test:8443/static/seep-widget.js?v=2", "shop-9")
	if e.Host != "https://cdn.seep.test:8443" || e.MerchantID != "shop-9" {
		t.Fatalf("ParseEmbed() = %+v", e)
	}
	e = ParseEmbed("/static/seep-widget.js", "")
	if e.Host != "" || e.MerchantID != DefaultMerchantID {
		t.Fatalf("ParseEmbed(relative) = %+v", e)
	}
}

func TestInitFallsBackToEmptyConfig(t *testing.T) {
	a := &analytics{}
	w, err := New(Options{
		Loader:    staticLoader{cfg: merchant.Config{SupportLink: "/help"}, err: errors.New("boom")},
		Backend:   &scriptedBackend{},
		Telemetry: a,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Init(context.Background())
	if w.Config().SupportLink != "" {
		t.Fatalf("Config() = %+v, want empty", w.Config())
	}
	if len(a.pings) != 1 || a.pings[0] != telemetry.PingConfigLoadFailed {
		t.Fatalf("pings = %v", a.pings)
	}
	if w.MerchantID() != DefaultMerchantID {
		t.Fatalf("MerchantID() = %q, want %q", w.MerchantID(), DefaultMerchantID)
	}
}

func TestOpenGreetsOnce(t *testing.T) {
	cfg := merchant.Config{Greeting: "Welcome to Shoes!", QuickReplies: []string{"Returns", "Shipping"}, CartURL: "/cart"}
	w, rec, a := newTestWidget(t, cfg, &scriptedBackend{})

	w.Open()
	w.Toggle()
	w.Toggle()
	if !w.IsOpen() {
		t.Fatalf("IsOpen() = false after two toggles from open")
	}

	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "Good morning! Welcome to Shoes!" {
		t.Fatalf("bot messages = %+v", bots)
	}
	if a.count(telemetry.EventWidgetOpened) != 2 {
		t.Fatalf("widget_opened tracked %d times, want 2", a.count(telemetry.EventWidgetOpened))
	}
	quick := 0
	for _, ev := range rec.snapshot() {
		if q, ok := ev.(protocol.QuickReplies); ok {
			quick++
			if strings.Join(q.Replies, ",") != "Returns,Shipping" {
				t.Fatalf("quick replies = %v", q.Replies)
			}
		}
		if s, ok := ev.(protocol.WidgetState); ok && s.Open && len(s.ActionBar) != 1 {
			t.Fatalf("action bar = %+v", s.ActionBar)
		}
	}
	if quick != 1 {
		t.Fatalf("quick_replies events = %d, want 1", quick)
	}
}

func TestSubmitInterceptsLocalCommand(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"unused"}}
	w, _, a := newTestWidget(t, merchant.Config{}, backend)

	if err := w.Submit(context.Background(), "  Where is my order?  "); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Sender != conversation.SenderUser || msgs[0].Text != "Where is my order?" {
		t.Fatalf("user message = %+v", msgs[0])
	}
	if msgs[1].Text != "Please enter your tracking number or contact support." || !msgs[1].Sealed {
		t.Fatalf("bot message = %+v", msgs[1])
	}
	if backend.calls() != 0 {
		t.Fatalf("backend called %d times, want 0", backend.calls())
	}
	if a.count(telemetry.EventMessageSent) != 1 {
		t.Fatalf("message_sent not tracked")
	}
}

func TestInterceptReplyKeepsConfigURL(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"unused"}}
	w, _, _ := newTestWidget(t, merchant.Config{CartURL: "https://shop.test/my_cart"}, backend)

	if err := w.Submit(context.Background(), "view cart"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "https://shop.test/my_cart" {
		t.Fatalf("bot messages = %+v, want the cart URL verbatim", bots)
	}
	if !strings.Contains(bots[0].HTML, `href="https://shop.test/my_cart"`) {
		t.Fatalf("HTML = %q, want a link to the cart", bots[0].HTML)
	}
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	backend := &scriptedBackend{}
	w, _, _ := newTestWidget(t, merchant.Config{}, backend)
	if err := w.Submit(context.Background(), "   "); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(w.Messages()) != 0 || backend.calls() != 0 {
		t.Fatalf("blank input should be ignored")
	}
}

func TestSubmitStreamsCumulativeText(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"Hello ", "world"}}
	w, rec, a := newTestWidget(t, merchant.Config{}, backend)

	if err := w.Submit(context.Background(), "hi there"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	want := []string{"widget_state", "widget_state", "message_created", "typing", "typing", "message_created", "message_updated", "message_finalized"}
	if got := rec.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
	var updated protocol.MessageUpdated
	for _, ev := range rec.snapshot() {
		if u, ok := ev.(protocol.MessageUpdated); ok {
			updated = u
		}
	}
	if updated.Text != "Hello world" {
		t.Fatalf("update text = %q, want the cumulative buffer", updated.Text)
	}

	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "Hello world" || !bots[0].Sealed {
		t.Fatalf("bot messages = %+v", bots)
	}
	if backend.requests[0].MerchantID != "shop-1" || backend.requests[0].Message != "hi there" {
		t.Fatalf("request = %+v", backend.requests[0])
	}
	if a.count(telemetry.EventResponseReceived) != 1 {
		t.Fatalf("response_received not tracked")
	}
	if w.Streaming() {
		t.Fatalf("Streaming() = true after completion")
	}
}

func TestSubmitKeepsMultibyteAcrossChunks(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"caf\xc3", "\xa9 time"}}
	w, _, _ := newTestWidget(t, merchant.Config{}, backend)

	if err := w.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "café time" {
		t.Fatalf("bot messages = %+v", bots)
	}
}

func TestSubmitRendersActionRowsInOrder(t *testing.T) {
	cfg := merchant.Config{
		TrackLink:   "/track",
		CartURL:     "/cart",
		CheckoutURL: "/checkout",
		SupportLink: "/support",
	}
	backend := &scriptedBackend{chunks: []string{
		`{"text":"Please **go to cart** and checkout",`,
		`"buttons":[{"text":"Sale","url":"/sale"}]}`,
	}}
	w, _, _ := newTestWidget(t, cfg, backend)

	if err := w.Submit(context.Background(), "can you track my order"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	bots := botMessages(w.Messages())
	if len(bots) != 4 {
		t.Fatalf("bot messages = %+v, want body + 3 action rows", bots)
	}
	if bots[0].Text != "Please go to cart and checkout" {
		t.Fatalf("body = %q", bots[0].Text)
	}
	if len(bots[1].Actions) != 1 || bots[1].Actions[0].URL != "/sale" {
		t.Fatalf("buttons row = %+v", bots[1].Actions)
	}
	if len(bots[2].Actions) != 2 || bots[2].Actions[0].URL != "/cart" || bots[2].Actions[1].URL != "/checkout" {
		t.Fatalf("secondary row = %+v", bots[2].Actions)
	}
	if len(bots[3].Actions) != 1 || bots[3].Actions[0].URL != "/track" {
		t.Fatalf("suggestion row = %+v", bots[3].Actions)
	}

	backend.mu.Lock()
	backend.chunks = []string{"anything else?"}
	backend.mu.Unlock()
	if err := w.Submit(context.Background(), "thanks"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := botMessages(w.Messages()); len(got) != 5 {
		t.Fatalf("second reply should carry no action rows, got %+v", got[4:])
	}
}

func TestSubmitFailureRendersErrorWithoutFinalizing(t *testing.T) {
	cfg := merchant.Config{TrackLink: "/track", SupportLink: "/support"}
	backend := &scriptedBackend{err: &chatapi.StatusError{StatusCode: http.StatusServiceUnavailable}}
	w, rec, a := newTestWidget(t, cfg, backend)

	err := w.Submit(context.Background(), "track my order, sorry")
	var se *chatapi.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Submit() error = %v, want *chatapi.StatusError", err)
	}

	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "Error" || bots[0].Kind != conversation.KindError {
		t.Fatalf("bot messages = %+v", bots)
	}
	if w.pending.Len() != 0 || w.counter.Streak() != 0 {
		t.Fatalf("failure must not leave suggestions or touch the streak")
	}
	if len(a.pings) != 1 || a.pings[0] != telemetry.PingChatError {
		t.Fatalf("pings = %v", a.pings)
	}
	typing := 0
	for _, ev := range rec.snapshot() {
		if _, ok := ev.(protocol.Typing); ok {
			typing++
		}
	}
	if typing != 2 {
		t.Fatalf("typing events = %d, want on then off", typing)
	}
}

func TestEscalationEveryThirdUnhelpfulReply(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"Sorry, I don't understand."}}
	w, _, _ := newTestWidget(t, merchant.Config{SupportLink: "/support"}, backend)

	var fired []int
	for i := 1; i <= 7; i++ {
		before := len(w.Messages())
		if err := w.Submit(context.Background(), "question"); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		for _, m := range w.Messages()[before:] {
			if m.Kind == conversation.KindEscalation {
				if m.Text != "Would you like me to connect you to a human?" || m.Actions[0].Text != "Connect to Support" {
					t.Fatalf("escalation = %+v", m)
				}
				fired = append(fired, i)
			}
		}
	}
	if len(fired) != 2 || fired[0] != 3 || fired[1] != 6 {
		t.Fatalf("escalation fired on replies %v, want [3 6]", fired)
	}
}

func TestNoEscalationWithoutSupportLink(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"not sure"}}
	w, _, _ := newTestWidget(t, merchant.Config{}, backend)
	for i := 0; i < 6; i++ {
		_ = w.Submit(context.Background(), "question")
	}
	for _, m := range w.Messages() {
		if m.Kind == conversation.KindEscalation {
			t.Fatalf("unexpected escalation without support link")
		}
	}
}

func TestEmptyStreamCreatesNoMessage(t *testing.T) {
	backend := &scriptedBackend{}
	w, _, a := newTestWidget(t, merchant.Config{ReturnsLink: "/returns"}, backend)

	if err := w.Submit(context.Background(), "refund please"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := botMessages(w.Messages()); len(got) != 0 {
		t.Fatalf("bot messages = %+v, want none", got)
	}
	if w.pending.Len() != 0 {
		t.Fatalf("pending suggestions should be discarded")
	}
	if a.count(telemetry.EventResponseReceived) != 1 {
		t.Fatalf("response_received not tracked")
	}
}

func TestSubmitWhileStreamingIsRejected(t *testing.T) {
	backend := newChanBackend()
	w, rec, _ := newTestWidget(t, merchant.Config{}, backend)

	done := make(chan error, 1)
	go func() { done <- w.Submit(context.Background(), "first") }()
	<-backend.opened

	if err := w.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("Submit() while streaming error = %v, want ErrBusy", err)
	}

	backend.ch <- []byte("one")
	rec.waitFor(t, func(ev any) bool {
		m, ok := ev.(protocol.MessageCreated)
		return ok && m.Message.Text == "one"
	})
	close(backend.ch)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	users := 0
	for _, m := range w.Messages() {
		if m.Sender == conversation.SenderUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("user messages = %d, want the rejected submit to leave no trace", users)
	}
}

func TestEndSupersedesInFlightStream(t *testing.T) {
	backend := newChanBackend()
	w, rec, _ := newTestWidget(t, merchant.Config{}, backend)

	done := make(chan error, 1)
	go func() { done <- w.Submit(context.Background(), "first") }()
	<-backend.opened
	backend.ch <- []byte("partial")
	rec.waitFor(t, func(ev any) bool {
		m, ok := ev.(protocol.MessageCreated)
		return ok && m.Message.Text == "partial"
	})

	w.mu.Lock()
	stale := w.turn
	w.mu.Unlock()

	w.End()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("superseded Submit() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Submit() did not return after End()")
	}

	if err := w.applyChunk(stale, []byte(" late")); !errors.Is(err, errSuperseded) {
		t.Fatalf("late chunk error = %v, want errSuperseded", err)
	}
	bots := botMessages(w.Messages())
	if len(bots) != 1 || bots[0].Text != "partial" || !bots[0].Sealed {
		t.Fatalf("bot messages = %+v", bots)
	}
	for _, ty := range rec.types() {
		if ty == string(protocol.TypeMessageFinalized) || ty == string(protocol.TypeMessageUpdated) {
			t.Fatalf("superseded stream emitted %s", ty)
		}
	}
	if err := w.Submit(context.Background(), "again"); !errors.Is(err, ErrEnded) {
		t.Fatalf("Submit() after End error = %v, want ErrEnded", err)
	}
}

func TestCloseAndReopenKeepStreamRendering(t *testing.T) {
	backend := newChanBackend()
	w, rec, _ := newTestWidget(t, merchant.Config{Greeting: "Hi there."}, backend)
	w.Open()

	done := make(chan error, 1)
	go func() { done <- w.Submit(context.Background(), "question") }()
	<-backend.opened
	backend.ch <- []byte("Hello")
	rec.waitFor(t, func(ev any) bool {
		m, ok := ev.(protocol.MessageCreated)
		return ok && m.Message.Text == "Hello"
	})

	w.Close()
	w.Open()
	if !w.Streaming() {
		t.Fatalf("Streaming() = false after close/reopen, want the reply still in flight")
	}

	backend.ch <- []byte(" world")
	close(backend.ch)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Submit() did not return after EOF")
	}

	bots := botMessages(w.Messages())
	if len(bots) != 2 {
		t.Fatalf("bot messages = %+v, want greeting and one reply", bots)
	}
	if bots[0].Text != "Good morning! Hi there." {
		t.Fatalf("greeting = %q", bots[0].Text)
	}
	if bots[1].Text != "Hello world" || !bots[1].Sealed {
		t.Fatalf("reply = %+v, want sealed %q", bots[1], "Hello world")
	}
	finalized := 0
	for _, ev := range rec.snapshot() {
		if f, ok := ev.(protocol.MessageFinalized); ok {
			finalized++
			if f.MessageID != bots[1].ID || f.Text != "Hello world" {
				t.Fatalf("finalized = %+v, want reply %s", f, bots[1].ID)
			}
		}
	}
	if finalized != 1 {
		t.Fatalf("message_finalized events = %d, want 1", finalized)
	}
	if w.Streaming() {
		t.Fatalf("Streaming() = true after EOF")
	}
}

func TestClickActionTracksKnownTargets(t *testing.T) {
	w, _, a := newTestWidget(t, merchant.Config{CartURL: "/cart"}, &scriptedBackend{})

	if !w.ClickAction("cart") {
		t.Fatalf("ClickAction(cart) = false")
	}
	if w.ClickAction("checkout") {
		t.Fatalf("ClickAction(checkout) = true without checkoutUrl")
	}
	if a.count(telemetry.EventButtonClicked) != 1 || a.details[len(a.details)-1] != "cart" {
		t.Fatalf("tracked = %v details = %v", a.tracked, a.details)
	}
}

func TestTranscriptIsRedacted(t *testing.T) {
	store := transcript.NewInMemoryStore()
	w, err := New(Options{
		SessionID:  "s1",
		Embed:      Embed{MerchantID: "shop-1"},
		Backend:    &scriptedBackend{chunks: []string{"Thanks, noted."}},
		Transcript: store,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Init(context.Background())

	if err := w.Submit(context.Background(), "email me at sam@example.com"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	entries, err := store.Recent(context.Background(), "shop-1", "s1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Role != transcript.RoleUser || strings.Contains(entries[0].Content, "sam@") || !entries[0].PIIRedacted {
		t.Fatalf("user entry = %+v", entries[0])
	}
	if entries[1].Role != transcript.RoleAssistant || entries[1].Content != "Thanks, noted." {
		t.Fatalf("assistant entry = %+v", entries[1])
	}
}

func TestAttachReplacesSink(t *testing.T) {
	w, first, _ := newTestWidget(t, merchant.Config{}, &scriptedBackend{})
	second := &recorder{}
	detachSecond := w.Attach(second)

	w.Open()
	if len(second.types()) < 2 {
		t.Fatalf("second sink events = %v", second.types())
	}
	before := len(first.types())
	detachSecond()
	w.Close()
	if len(first.types()) != before {
		t.Fatalf("replaced sink still receives events")
	}
}
