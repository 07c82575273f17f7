package model

import (
	"strings"
	"time"
)

// ID is an opaque backend identifier. The backend sends either integers or
// strings; both decode into the same textual form.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// Participant is a user taking part in a conversation.
type Participant struct {
	ID          ID     `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Name        string `json:"name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Username    string `json:"username,omitempty"`
	// IsSelf is nil when the backend did not say.
	IsSelf *bool `json:"is_self,omitempty"`
}

// Label returns the first non-empty human label of the participant.
func (p *Participant) Label() string {
	if p == nil {
		return ""
	}
	for _, s := range []string{p.DisplayName, p.Name, p.FullName, p.Username, p.Email} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Message is a single chat message.
type Message struct {
	ID             ID           `json:"id"`
	Body           string       `json:"body"`
	Sender         *Participant `json:"sender,omitempty"`
	CreatedAt      string       `json:"created_at,omitempty"`
	Mine           *bool        `json:"is_mine,omitempty"`
	ConversationID ID           `json:"conversation_id,omitempty"`
}

// Time parses CreatedAt. The zero time is returned when it is absent or
// in an unknown layout.
func (m *Message) Time() time.Time {
	return ParseTime(m.CreatedAt)
}

// Conversation is a conversation summary as listed in the directory.
type Conversation struct {
	ID             ID            `json:"id"`
	Title          string        `json:"title,omitempty"`
	Name           string        `json:"name,omitempty"`
	Participants   []Participant `json:"participants,omitempty"`
	Other          *Participant  `json:"other,omitempty"`
	MessageCount   int           `json:"messages_count"`
	LastMessageAt  string        `json:"last_message_at,omitempty"`
	CurrentUserID  ID            `json:"current_user_id,omitempty"`
	FirstMessageAt string        `json:"first_message_at,omitempty"`
	CreatedAt      string        `json:"created_at,omitempty"`
	Messages       []Message     `json:"messages,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Participants != nil {
		cp.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.Messages != nil {
		cp.Messages = append([]Message(nil), c.Messages...)
	}
	if c.Other != nil {
		o := *c.Other
		cp.Other = &o
	}
	return &cp
}

// ConversationDetail is the response of GET /conversations/{id}.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// DisplayTimeLayout is the layout of LastMessageAt values produced locally.
const DisplayTimeLayout = "Jan 2, 2006 3:04 PM"

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	DisplayTimeLayout,
}

// ParseTime accepts the timestamp layouts the backend is known to send.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatDisplayTime formats a backend timestamp for the directory. Unknown
// layouts are passed through untouched.
func FormatDisplayTime(s string) string {
	t := ParseTime(s)
	if t.IsZero() {
		return s
	}
	return t.Local().Format(DisplayTimeLayout)
}

// Session identifies the signed-in admin. It is resolved once at start-up
// and handed to the inbox.
type Session struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
}
