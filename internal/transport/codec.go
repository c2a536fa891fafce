package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Event is a decoded inbound frame or a session lifecycle notification.
type Event interface {
	event()
}

// MessageEvent is a chat message pushed by the server.
type MessageEvent struct {
	From       string
	Text       string
	Original   string
	Translated bool
	ClientID   string
}

// Delivery statuses.
const (
	DeliverySent   = "sent"
	DeliveryTyping = "typing"
)

// DeliveryEvent acknowledges a sent message or signals that a peer is typing.
// To names the peer on the other side of the conversation.
type DeliveryEvent struct {
	To       string
	Status   string
	ClientID string
}

// ErrorEvent is an error reported by the server.
type ErrorEvent struct {
	Message string
}

// InvalidEvent is produced for a frame that could not be decoded. The
// connection stays open.
type InvalidEvent struct {
	Raw []byte
	Err error
}

// ClosedEvent is delivered once when the remote end drops the connection.
type ClosedEvent struct {
	Err error
}

func (MessageEvent) event()  {}
func (DeliveryEvent) event() {}
func (ErrorEvent) event()    {}
func (InvalidEvent) event()  {}
func (ClosedEvent) event()   {}

// Intent is an outbound frame.
type Intent interface {
	intent()
}

// MessageIntent sends text to a peer, tagged with a correlation id.
type MessageIntent struct {
	To       string
	Text     string
	ClientID string
}

// TypingIntent tells a peer the local user is typing.
type TypingIntent struct {
	To string
}

func (MessageIntent) intent() {}
func (TypingIntent) intent()  {}

// ErrMalformedFrame is wrapped by every decode failure.
var ErrMalformedFrame = errors.New("malformed frame")

type inboundFrame struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	To         string `json:"to"`
	Text       string `json:"text"`
	Original   string `json:"original"`
	Translated bool   `json:"translated"`
	ClientID   string `json:"client_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type messageFrame struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	Text     string `json:"text"`
	ClientID string `json:"client_id"`
}

type typingFrame struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// Decode parses an inbound JSON frame.
func Decode(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case "message":
		if f.From == "" {
			return nil, fmt.Errorf("%w: message without sender", ErrMalformedFrame)
		}
		return MessageEvent{
			From:       f.From,
			Text:       f.Text,
			Original:   f.Original,
			Translated: f.Translated,
			ClientID:   f.ClientID,
		}, nil
	case "delivery":
		if f.Status != DeliverySent && f.Status != DeliveryTyping {
			return nil, fmt.Errorf("%w: unknown delivery status %q", ErrMalformedFrame, f.Status)
		}
		return DeliveryEvent{To: f.To, Status: f.Status, ClientID: f.ClientID}, nil
	case "error":
		return ErrorEvent{Message: f.Message}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
}

// Encode serializes an outbound intent.
func Encode(in Intent) ([]byte, error) {
	switch v := in.(type) {
	case MessageIntent:
		if v.To == "" {
			return nil, errors.New("message intent without recipient")
		}
		return json.Marshal(messageFrame{Type: "message", To: v.To, Text: v.Text, ClientID: v.ClientID})
	case TypingIntent:
		if v.To == "" {
			return nil, errors.New("typing intent without recipient")
		}
		return json.Marshal(typingFrame{Type: "typing", To: v.To})
	default:
		return nil, fmt.Errorf("unsupported intent %T", in)
	}
}

// DialURL builds the websocket endpoint for serverURL. The token is
// preferred over the development user id.
func DialURL(serverURL string, creds Credentials) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	q := url.Values{}
	switch {
	case creds.Token != "":
		q.Set("token", creds.Token)
	case creds.UserID != "":
		q.Set("user_id", creds.UserID)
	default:
		return "", ErrNoCredentials
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
