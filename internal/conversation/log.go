// Package conversation keeps the ordered message history of one widget
// instance. Messages are addressed by Handle, never by a view object.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/render"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Kind distinguishes what a bot message carries.
type Kind string

const (
	KindText       Kind = "text"
	KindActions    Kind = "actions"
	KindEscalation Kind = "escalation"
	KindError      Kind = "error"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrSealed         = errors.New("message is sealed")
)

// Handle identifies one message in a Log.
type Handle struct {
	index int
	id    string
}

func (h Handle) ID() string { return h.id }
func (h Handle) Valid() bool { return h.id != "" }
func (h Handle) Index() int { return h.index }

type Message struct {
	ID         string          `json:"message_id"`
	Sender     Sender          `json:"sender"`
	Kind       Kind            `json:"kind"`
	Text       string          `json:"text"`
	HTML       string          `json:"html"`
	Actions    []merchant.Link `json:"actions,omitempty"`
	RenderedAt time.Time       `json:"rendered_at"`
	Sealed     bool            `json:"sealed"`
}

// Log is append-only. Only an unsealed bot message may be edited, and it
// becomes immutable once sealed. Log has no locking of its own.
type Log struct {
	messages []Message
	now      func() time.Time
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now}
}

// AppendUser adds a sealed shopper message.
func (l *Log) AppendUser(text string) (Handle, Message) {
	body := render.User(text)
	return l.append(Message{Sender: SenderUser, Kind: KindText, Text: body.Plain, HTML: body.HTML, Sealed: true})
}

// AppendBot adds a bot message. Streaming messages stay open until Seal.
func (l *Log) AppendBot(kind Kind, body render.Text, actions []merchant.Link, open bool) (Handle, Message) {
	return l.append(Message{
		Sender:  SenderBot,
		Kind:    kind,
		Text:    body.Plain,
		HTML:    body.HTML,
		Actions: append([]merchant.Link(nil), actions...),
		Sealed:  !open,
	})
}

func (l *Log) append(m Message) (Handle, Message) {
	m.ID = uuid.NewString()
	m.RenderedAt = l.now().UTC()
	l.messages = append(l.messages, m)
	return Handle{index: len(l.messages) - 1, id: m.ID}, m
}

// Update replaces the body of an open message.
func (l *Log) Update(h Handle, body render.Text) (Message, error) {
	m, err := l.lookup(h)
	if err != nil {
		return Message{}, err
	}
	if m.Sealed {
		return Message{}, ErrSealed
	}
	m.Text = body.Plain
	m.HTML = body.HTML
	m.RenderedAt = l.now().UTC()
	return *m, nil
}

// Seal makes the message immutable. Sealing twice is a no-op.
func (l *Log) Seal(h Handle) (Message, error) {
	m, err := l.lookup(h)
	if err != nil {
		return Message{}, err
	}
	m.Sealed = true
	return *m, nil
}

func (l *Log) Get(h Handle) (Message, error) {
	m, err := l.lookup(h)
	if err != nil {
		return Message{}, err
	}
	return *m, nil
}

func (l *Log) lookup(h Handle) (*Message, error) {
	if h.index < 0 || h.index >= len(l.messages) || l.messages[h.index].ID != h.id {
		return nil, ErrUnknownMessage
	}
	return &l.messages[h.index], nil
}

// Messages returns a copy of the history.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int { return len(l.messages) }
