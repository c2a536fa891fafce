package store

import "time"

// Message status values. Remote messages are stored as received; locally
// originated ones move from sending to sent or failed.
const (
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Connection status values as reported by the server.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
	ConnectionDeclined = "declined"
)

// Message is a single chat message in a conversation timeline.
// CreatedAt is a unix timestamp in milliseconds.
type Message struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Text         string `json:"text"`
	Original     string `json:"original"`
	Translated   bool   `json:"translated"`
	ClientID     string `json:"client_id,omitempty"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
}

// Connection is a two-party conversation between a requester and an addressee.
type Connection struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	AddresseeID string    `json:"addressee_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// PeerOf returns the participant that is not self, or "" if self does not
// participate in the connection.
func (c Connection) PeerOf(self string) string {
	switch self {
	case c.RequesterID:
		return c.AddresseeID
	case c.AddresseeID:
		return c.RequesterID
	default:
		return ""
	}
}

// Profile is the local user's profile snapshot kept for offline display.
type Profile struct {
	ID                        string    `json:"id"`
	Email                     string    `json:"email,omitempty"`
	Phone                     string    `json:"phone,omitempty"`
	Nickname                  string    `json:"nickname"`
	Tagline                   string    `json:"tagline,omitempty"`
	NativeLanguage            string    `json:"native_language"`
	IsSearchable              bool      `json:"is_searchable"`
	TranslationQuotaRemaining int       `json:"translation_quota_remaining"`
	CreatedAt                 time.Time `json:"created_at"`
}
