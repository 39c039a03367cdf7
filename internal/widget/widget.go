// Package widget is the conversation engine of one embedded chat widget. A
// Widget owns all per-instance state: merchant config, message log, pending
// suggestions and the unhelpful streak. Its mutex plays the role of the UI
// thread; network I/O always happens outside it.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/seep/internal/chatapi"
	"github.com/ent0n29/seep/internal/conversation"
	"github.com/ent0n29/seep/internal/escalation"
	"github.com/ent0n29/seep/internal/finalize"
	"github.com/ent0n29/seep/internal/intent"
	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/observability"
	"github.com/ent0n29/seep/internal/policy"
	"github.com/ent0n29/seep/internal/protocol"
	"github.com/ent0n29/seep/internal/reliability"
	"github.com/ent0n29/seep/internal/render"
	"github.com/ent0n29/seep/internal/stream"
	"github.com/ent0n29/seep/internal/telemetry"
	"github.com/ent0n29/seep/internal/transcript"
)

const errorReply = "Error"

var (
	// ErrBusy rejects a submission while the previous reply is still streaming.
	ErrBusy  = errors.New("a reply is still streaming")
	ErrEnded = errors.New("widget has ended")

	errSuperseded = errors.New("turn superseded")
)

// Sink receives the widget's protocol events in order.
type Sink interface {
	Emit(event any)
}

type SinkFunc func(event any)

func (f SinkFunc) Emit(event any) { f(event) }

// ConfigLoader is satisfied by *merchant.Loader.
type ConfigLoader interface {
	Load(ctx context.Context, merchantID string) (merchant.Config, error)
}

// TurnTracker is satisfied by *session.Manager.
type TurnTracker interface {
	StartTurn(sessionID, turnID string) error
	FinishTurn(sessionID, turnID string) error
	Supersede(sessionID string) error
}

type Options struct {
	SessionID string
	Embed     Embed

	Loader    ConfigLoader
	Backend   chatapi.Backend
	Telemetry telemetry.Sink

	Classifier          escalation.Classifier
	EscalationThreshold int

	Transcript transcript.Store
	Metrics    *observability.Metrics
	Turns      TurnTracker

	Location *time.Location
	Now      func() time.Time
}

type Widget struct {
	mu sync.Mutex

	sessionID  string
	embed      Embed
	loader     ConfigLoader
	backend    chatapi.Backend
	telemetry  telemetry.Sink
	transcript transcript.Store
	metrics    *observability.Metrics
	turns      TurnTracker
	location   *time.Location
	now        func() time.Time

	cfg       merchant.Config
	open      bool
	greeted   bool
	ended     bool
	log       *conversation.Log
	pending   intent.Pending
	counter   *escalation.Counter
	finalizer *finalize.Finalizer
	sink      Sink
	sinkGen   int
	turn      *turn
}

// turn is one in-flight assistant request. It is detached from the widget
// once superseded; a detached turn never touches widget state again.
type turn struct {
	id         string
	cancel     context.CancelFunc
	asm        *stream.Assembler
	msg        conversation.Handle
	typing     bool
	acceptedAt time.Time
}

func New(opts Options) (*Widget, error) {
	if opts.Backend == nil {
		return nil, errors.New("chat backend is required")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Embed.MerchantID == "" {
		opts.Embed.MerchantID = DefaultMerchantID
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Widget{
		sessionID:  opts.SessionID,
		embed:      opts.Embed,
		loader:     opts.Loader,
		backend:    opts.Backend,
		telemetry:  opts.Telemetry,
		transcript: opts.Transcript,
		metrics:    opts.Metrics,
		turns:      opts.Turns,
		location:   opts.Location,
		now:        opts.Now,
		log:        conversation.NewLog(opts.Now),
		counter:    escalation.NewCounter(opts.EscalationThreshold),
		finalizer:  finalize.New(opts.Classifier),
	}, nil
}

func (w *Widget) SessionID() string  { return w.sessionID }
func (w *Widget) MerchantID() string { return w.embed.MerchantID }

// Init fetches the merchant config once. Any failure leaves the widget on an
// empty config with every optional feature disabled.
func (w *Widget) Init(ctx context.Context) {
	var cfg merchant.Config
	if w.loader != nil {
		var err error
		cfg, err = w.loader.Load(ctx, w.embed.MerchantID)
		if err != nil {
			cfg = merchant.Config{}
			w.telemetry.Ping(telemetry.PingConfigLoadFailed)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
	w.emit(w.stateEvent())
}

// Config returns the merchant config in use.
func (w *Widget) Config() merchant.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Attach routes future events to sink and replays the current state. Only
// one sink is attached at a time; the returned func detaches it unless a
// newer sink has replaced it.
func (w *Widget) Attach(sink Sink) (detach func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinkGen++
	gen := w.sinkGen
	w.sink = sink
	w.emit(w.stateEvent())
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.sinkGen == gen {
			w.sink = nil
		}
	}
}

// Open shows the chat panel. The greeting and quick replies appear on the
// first open only.
func (w *Widget) Open() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended || w.open {
		return
	}
	w.open = true
	w.emit(w.stateEvent())
	w.telemetry.Track(w.embed.MerchantID, telemetry.EventWidgetOpened, nil)

	if w.greeted {
		return
	}
	w.greeted = true
	greeting := Greeting(w.now().In(w.location), w.cfg.WelcomeLine())
	_, msg := w.log.AppendBot(conversation.KindText, render.Bot(greeting), nil, false)
	w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: msg})
	if len(w.cfg.QuickReplies) > 0 {
		w.emit(protocol.QuickReplies{
			Type:      protocol.TypeQuickReplies,
			SessionID: w.sessionID,
			Replies:   append([]string(nil), w.cfg.QuickReplies...),
		})
	}
}

func (w *Widget) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return
	}
	w.open = false
	w.emit(w.stateEvent())
}

func (w *Widget) Toggle() {
	w.mu.Lock()
	open := w.open
	w.mu.Unlock()
	if open {
		w.Close()
		return
	}
	w.Open()
}

func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// QuickReply submits the chip text as if the shopper had typed it.
func (w *Widget) QuickReply(ctx context.Context, text string) error {
	return w.Submit(ctx, text)
}

// ClickAction reports a click on the persistent action bar. Unknown targets
// are ignored.
func (w *Widget) ClickAction(target string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.cfg.ActionBar() {
		if a.Target == target {
			w.telemetry.Track(w.embed.MerchantID, telemetry.EventButtonClicked, target)
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the conversation.
func (w *Widget) Messages() []conversation.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.log.Messages()
}

// Streaming reports whether a reply is in flight.
func (w *Widget) Streaming() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.turn != nil
}

// End supersedes any in-flight reply and rejects further input. The partial
// message of a superseded reply is sealed as it stands.
func (w *Widget) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return
	}
	w.ended = true
	w.open = false
	if t := w.turn; t != nil {
		w.turn = nil
		t.cancel()
		if t.msg.Valid() {
			_, _ = w.log.Seal(t.msg)
		}
		w.pending.Clear()
		if w.turns != nil {
			_ = w.turns.Supersede(w.sessionID)
		}
	}
}

// Submit handles one shopper message. Local commands are answered in place;
// anything else is streamed from the assistant and blocks until the reply is
// complete, failed or superseded. Stream failures are rendered as an error
// message and also returned.
func (w *Widget) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	w.mu.Lock()
	if w.ended {
		w.mu.Unlock()
		return ErrEnded
	}
	if w.turn != nil {
		w.metrics.ObserveIndicator(observability.IndicatorBusyRejected)
		w.mu.Unlock()
		return ErrBusy
	}

	w.telemetry.Track(w.embed.MerchantID, telemetry.EventMessageSent, nil)
	_, userMsg := w.log.AppendUser(text)
	w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: userMsg})

	if reply, ok := intent.Intercept(text, w.cfg); ok {
		kind := conversation.KindText
		if reply.Text == "" {
			kind = conversation.KindActions
		}
		_, botMsg := w.log.AppendBot(kind, render.Local(reply.Text), reply.Actions, false)
		w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: botMsg})
		w.metrics.ObserveIntercept(reply.Command)
		w.mu.Unlock()

		w.saveTranscript(ctx, transcript.RoleUser, text)
		w.saveTranscript(ctx, transcript.RoleAssistant, interceptTranscript(reply))
		return nil
	}

	w.pending.Set(intent.Suggest(text, w.cfg))
	streamCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		id:         uuid.NewString(),
		cancel:     cancel,
		asm:        stream.NewAssembler(),
		typing:     true,
		acceptedAt: w.now(),
	}
	_ = t.asm.Begin()
	w.turn = t
	if w.turns != nil {
		_ = w.turns.StartTurn(w.sessionID, t.id)
	}
	w.emit(protocol.Typing{Type: protocol.TypeTyping, SessionID: w.sessionID, Active: true})
	merchantID := w.embed.MerchantID
	w.mu.Unlock()

	defer cancel()
	w.saveTranscript(ctx, transcript.RoleUser, text)

	body, err := w.backend.OpenStream(streamCtx, chatapi.ChatRequest{MerchantID: merchantID, Message: text})
	if err != nil {
		return w.fail(ctx, t, err)
	}
	defer body.Close()

	err = stream.Pump(streamCtx, body, func(chunk []byte) error {
		return w.applyChunk(t, chunk)
	})
	if errors.Is(err, errSuperseded) {
		return nil
	}
	if err != nil {
		return w.fail(ctx, t, err)
	}
	return w.complete(ctx, t)
}

func (w *Widget) applyChunk(t *turn, chunk []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.turn != t {
		w.metrics.ObserveIndicator(observability.IndicatorLateChunkDropped)
		return errSuperseded
	}
	up, err := t.asm.Feed(chunk)
	if err != nil {
		return err
	}
	w.applyUpdate(t, up)
	return nil
}

// applyUpdate renders the cumulative buffer: the first visible text creates
// the bot message, later updates edit that same message.
func (w *Widget) applyUpdate(t *turn, up stream.Update) {
	switch {
	case up.First:
		w.stopTyping(t)
		h, msg := w.log.AppendBot(conversation.KindText, render.Bot(up.Text), nil, true)
		t.msg = h
		w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: msg})
		w.metrics.ObserveFirstChunkLatency(w.now().Sub(t.acceptedAt))
	case t.msg.Valid() && up.Delta != "":
		msg, err := w.log.Update(t.msg, render.Bot(up.Text))
		if err != nil {
			log.Printf("widget %s: update message: %v", w.sessionID, err)
			return
		}
		w.emit(protocol.MessageUpdated{
			Type:      protocol.TypeMessageUpdated,
			SessionID: w.sessionID,
			MessageID: msg.ID,
			Text:      msg.Text,
			HTML:      msg.HTML,
		})
	}
}

func (w *Widget) complete(ctx context.Context, t *turn) error {
	w.mu.Lock()
	if w.turn != t {
		w.mu.Unlock()
		return nil
	}
	up, err := t.asm.Complete()
	if err != nil {
		w.mu.Unlock()
		return w.fail(ctx, t, err)
	}
	w.applyUpdate(t, up)
	w.stopTyping(t)

	var reply string
	if t.msg.Valid() {
		reply = w.finalize(t)
	} else {
		// Nothing visible arrived: there is no message to finalize.
		w.pending.Clear()
	}
	w.telemetry.Track(w.embed.MerchantID, telemetry.EventResponseReceived, nil)
	w.metrics.ObserveStreamOutcome("completed", "none")
	w.metrics.ObserveStreamTotal(w.now().Sub(t.acceptedAt))
	w.release(t)
	w.mu.Unlock()

	if reply != "" {
		w.saveTranscript(ctx, transcript.RoleAssistant, reply)
	}
	return nil
}

// finalize seals the streamed message and appends, in order, structured
// buttons, secondary actions, the escalation prompt and pending suggestions.
func (w *Widget) finalize(t *turn) string {
	res := w.finalizer.Finalize(t.asm.Text(), w.cfg, w.counter, &w.pending)
	if res.Payload.Kind == finalize.PlainText && strings.HasPrefix(strings.TrimSpace(t.asm.Text()), "{") {
		w.metrics.ObserveIndicator(observability.IndicatorPlainTextFallback)
	}

	if _, err := w.log.Update(t.msg, res.Body); err != nil {
		log.Printf("widget %s: finalize message: %v", w.sessionID, err)
	}
	msg, err := w.log.Seal(t.msg)
	if err != nil {
		log.Printf("widget %s: seal message: %v", w.sessionID, err)
		return ""
	}
	w.emit(protocol.MessageFinalized{
		Type:      protocol.TypeMessageFinalized,
		SessionID: w.sessionID,
		MessageID: msg.ID,
		Text:      msg.Text,
		HTML:      msg.HTML,
	})

	w.appendActions(conversation.KindActions, "", res.Buttons)
	w.appendActions(conversation.KindActions, "", res.Extra)
	if res.Escalation != nil {
		w.appendActions(conversation.KindEscalation, res.Escalation.Text, []merchant.Link{res.Escalation.Action})
		w.metrics.ObserveEscalation()
	}
	if len(res.Suggestions) > 0 {
		for _, s := range res.Suggestions {
			w.metrics.ObserveSuggestion(s.Kind)
		}
		w.appendActions(conversation.KindActions, "", intent.Links(res.Suggestions))
	}
	return msg.Text
}

func (w *Widget) appendActions(kind conversation.Kind, text string, actions []merchant.Link) {
	if len(actions) == 0 {
		return
	}
	_, msg := w.log.AppendBot(kind, render.Local(text), actions, false)
	w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: msg})
}

// fail renders the error reply. Text that already streamed is kept as is and
// nothing is finalized.
func (w *Widget) fail(ctx context.Context, t *turn, cause error) error {
	w.mu.Lock()
	if w.turn != t {
		w.mu.Unlock()
		return nil
	}
	t.asm.Fail(cause)
	w.stopTyping(t)
	if t.msg.Valid() {
		if msg, err := w.log.Seal(t.msg); err == nil {
			w.emit(protocol.MessageFinalized{
				Type:      protocol.TypeMessageFinalized,
				SessionID: w.sessionID,
				MessageID: msg.ID,
				Text:      msg.Text,
				HTML:      msg.HTML,
			})
		}
	}
	w.pending.Clear()
	_, msg := w.log.AppendBot(conversation.KindError, render.Bot(errorReply), nil, false)
	w.emit(protocol.MessageCreated{Type: protocol.TypeMessageCreated, SessionID: w.sessionID, Message: msg})

	reason := reliability.ClassifyFailure(cause)
	w.metrics.ObserveStreamOutcome("failed", reason)
	w.telemetry.Ping(telemetry.PingChatError)
	w.release(t)
	w.mu.Unlock()

	log.Printf("widget %s: chat stream failed (%s): %v", w.sessionID, reason, cause)
	return fmt.Errorf("chat stream: %w", cause)
}

func (w *Widget) stopTyping(t *turn) {
	if !t.typing {
		return
	}
	t.typing = false
	w.emit(protocol.Typing{Type: protocol.TypeTyping, SessionID: w.sessionID, Active: false})
}

func (w *Widget) release(t *turn) {
	w.turn = nil
	if w.turns != nil {
		_ = w.turns.FinishTurn(w.sessionID, t.id)
	}
}

func (w *Widget) stateEvent() protocol.WidgetState {
	return protocol.WidgetState{
		Type:       protocol.TypeWidgetState,
		SessionID:  w.sessionID,
		MerchantID: w.embed.MerchantID,
		Open:       w.open,
		Color:      w.cfg.Color,
		ActionBar:  w.cfg.ActionBar(),
	}
}

func (w *Widget) emit(event any) {
	if w.sink != nil {
		w.sink.Emit(event)
	}
}

func (w *Widget) saveTranscript(ctx context.Context, role, content string) {
	if w.transcript == nil || content == "" {
		return
	}
	redacted, changed := policy.RedactPII(content)
	err := w.transcript.SaveEntry(context.WithoutCancel(ctx), transcript.Entry{
		MerchantID:  w.embed.MerchantID,
		SessionID:   w.sessionID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
	})
	if err != nil {
		log.Printf("widget %s: save transcript: %v", w.sessionID, err)
	}
}

func interceptTranscript(r intent.Reply) string {
	if r.Text != "" {
		return r.Text
	}
	labels := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		labels = append(labels, a.Text)
	}
	return strings.Join(labels, ", ")
}
