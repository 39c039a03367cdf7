package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/seep/internal/conversation"
	"github.com/ent0n29/seep/internal/merchant"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientOpen        MessageType = "client_open"
	TypeClientClose       MessageType = "client_close"
	TypeClientSubmit      MessageType = "client_submit"
	TypeClientQuickReply  MessageType = "client_quick_reply"
	TypeClientActionClick MessageType = "client_action_click"

	TypeWidgetState      MessageType = "widget_state"
	TypeMessageCreated   MessageType = "message_created"
	TypeMessageUpdated   MessageType = "message_updated"
	TypeMessageFinalized MessageType = "message_finalized"
	TypeTyping           MessageType = "typing"
	TypeQuickReplies     MessageType = "quick_replies"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientOpen struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ClientClose struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ClientSubmit struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientQuickReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientActionClick struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Target    string      `json:"target"`
}

type WidgetState struct {
	Type       MessageType          `json:"type"`
	SessionID  string               `json:"session_id"`
	MerchantID string               `json:"merchant_id"`
	Open       bool                 `json:"open"`
	Color      string               `json:"color,omitempty"`
	ActionBar  []merchant.BarAction `json:"action_bar,omitempty"`
}

type MessageCreated struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"session_id"`
	Message   conversation.Message `json:"message"`
}

// MessageUpdated always carries the full cumulative text of the message.
type MessageUpdated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
}

type MessageFinalized struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
}

type Typing struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Active    bool        `json:"active"`
}

type QuickReplies struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Replies   []string    `json:"replies"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientOpen:
		var msg ClientOpen
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_open")
		}
		return msg, nil
	case TypeClientClose:
		var msg ClientClose
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_close")
		}
		return msg, nil
	case TypeClientSubmit:
		var msg ClientSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_submit")
		}
		return msg, nil
	case TypeClientQuickReply:
		var msg ClientQuickReply
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_quick_reply")
		}
		return msg, nil
	case TypeClientActionClick:
		var msg ClientActionClick
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Target == "" {
			return nil, errors.New("invalid client_action_click")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of any protocol message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientOpen:
		return m.Type, true
	case ClientClose:
		return m.Type, true
	case ClientSubmit:
		return m.Type, true
	case ClientQuickReply:
		return m.Type, true
	case ClientActionClick:
		return m.Type, true
	case WidgetState:
		return m.Type, true
	case MessageCreated:
		return m.Type, true
	case MessageUpdated:
		return m.Type, true
	case MessageFinalized:
		return m.Type, true
	case Typing:
		return m.Type, true
	case QuickReplies:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

// Droppable reports whether an outbound event may be skipped under
// backpressure. Updates carry the cumulative text, so a later update or the
// finalized event supersedes a dropped one. Typing on may be skipped; typing
// off is the only thing that clears the indicator and must be delivered.
func Droppable(event any) bool {
	switch ev := event.(type) {
	case MessageUpdated:
		return true
	case Typing:
		return ev.Active
	default:
		return false
	}
}
