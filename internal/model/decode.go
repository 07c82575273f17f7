package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model: invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer-looking ids as JSON numbers so they round-trip
// to backends that expect numeric keys.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(string(id)), nil
	}
	return json.Marshal(string(id))
}

func (p *Participant) UnmarshalJSON(b []byte) error {
	type plain Participant
	var raw struct {
		plain
		UserID           ID           `json:"user_id"`
		IsSelfCamel      *bool        `json:"isSelf"`
		IsCurrent        *bool        `json:"is_current"`
		IsCurrentCamel   *bool        `json:"isCurrent"`
		DisplayNameCamel string       `json:"displayName"`
		FullNameCamel    string       `json:"fullName"`
		User             *Participant `json:"user"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Participant(raw.plain)
	if p.ID == "" {
		p.ID = raw.UserID
	}
	if p.DisplayName == "" {
		p.DisplayName = raw.DisplayNameCamel
	}
	if p.FullName == "" {
		p.FullName = raw.FullNameCamel
	}
	for _, flag := range []*bool{raw.IsSelfCamel, raw.IsCurrent, raw.IsCurrentCamel} {
		if p.IsSelf == nil && flag != nil {
			p.IsSelf = flag
		}
	}
	// memberships wrap the user object
	if u := raw.User; u != nil {
		if p.ID == "" {
			p.ID = u.ID
		}
		if p.Email == "" {
			p.Email = u.Email
		}
		if p.DisplayName == "" {
			p.DisplayName = u.DisplayName
		}
		if p.Name == "" {
			p.Name = u.Name
		}
		if p.FullName == "" {
			p.FullName = u.FullName
		}
		if p.Username == "" {
			p.Username = u.Username
		}
		if p.IsSelf == nil {
			p.IsSelf = u.IsSelf
		}
	}
	return nil
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var raw struct {
		plain
		Content   string       `json:"content"`
		User      *Participant `json:"user"`
		From      *Participant `json:"from"`
		MinePlain *bool        `json:"mine"`
		IsOwn     *bool        `json:"is_own"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	if m.Body == "" {
		m.Body = raw.Content
	}
	if m.Sender == nil {
		m.Sender = raw.User
	}
	if m.Sender == nil {
		m.Sender = raw.From
	}
	if m.Mine == nil {
		m.Mine = raw.MinePlain
	}
	if m.Mine == nil {
		m.Mine = raw.IsOwn
	}
	return nil
}

func (c *Conversation) UnmarshalJSON(b []byte) error {
	type plain Conversation
	var raw struct {
		plain
		Users         []Participant   `json:"users"`
		Members       []Participant   `json:"members"`
		Memberships   []Participant   `json:"memberships"`
		With          *Participant    `json:"with"`
		MessageCount  *int            `json:"message_count"`
		MessagesCount *int            `json:"messages_count"`
		RawMessages   json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Conversation(raw.plain)
	c.Participants = nil
	for _, list := range [][]Participant{raw.Users, raw.plain.Participants, raw.Members, raw.Memberships} {
		if len(list) > 0 {
			c.Participants = list
			break
		}
	}
	if c.Other == nil {
		c.Other = raw.With
	}
	switch {
	case raw.MessagesCount != nil:
		c.MessageCount = *raw.MessagesCount
	case raw.MessageCount != nil:
		c.MessageCount = *raw.MessageCount
	}
	msgs, err := decodeMessages(raw.RawMessages)
	if err != nil {
		return err
	}
	c.Messages = msgs
	return nil
}

// UnmarshalJSON accepts both {conversation, messages} and a bare
// conversation carrying its own messages.
func (d *ConversationDetail) UnmarshalJSON(b []byte) error {
	var raw struct {
		Conversation json.RawMessage `json:"conversation"`
		Messages     json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	src := raw.Conversation
	if len(bytes.TrimSpace(src)) == 0 || bytes.Equal(bytes.TrimSpace(src), []byte("null")) {
		src = b
	}
	var conv Conversation
	if err := json.Unmarshal(src, &conv); err != nil {
		return err
	}
	msgs, err := decodeMessages(raw.Messages)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = conv.Messages
	}
	conv.Messages = nil
	d.Conversation = conv
	d.Messages = msgs
	return nil
}

// decodeMessages accepts a plain array or a paginator object {data: [...]}.
func decodeMessages(raw json.RawMessage) ([]Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var page struct {
			Data []Message `json:"data"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, err
		}
		return page.Data, nil
	}
	var list []Message
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}
