package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// currentUserID prefers the id the backend attached to the conversation
// over the session id.
func currentUserID(c *model.Conversation, s model.Session) model.ID {
	if c != nil && c.CurrentUserID != "" {
		return c.CurrentUserID
	}
	return s.ID
}

// OtherParticipant resolves who the admin is talking to. messages are the
// already loaded history, used only when the conversation carries no
// participant list.
func OtherParticipant(c *model.Conversation, messages []model.Message, s model.Session) *model.Participant {
	if c == nil {
		return nil
	}
	if c.Other != nil {
		return c.Other
	}

	users := c.Participants
	if len(users) == 0 {
		if len(messages) == 0 {
			messages = c.Messages
		}
		for k := range messages {
			if messages[k].Sender != nil {
				return messages[k].Sender
			}
		}
		return nil
	}

	if curID := currentUserID(c, s); curID != "" {
		for k := range users {
			if users[k].ID != "" && users[k].ID != curID {
				return &users[k]
			}
		}
	}
	if s.Email != "" {
		for k := range users {
			if users[k].Email != "" && !strings.EqualFold(users[k].Email, s.Email) {
				return &users[k]
			}
		}
	}
	for k := range users {
		if users[k].IsSelf == nil || !*users[k].IsSelf {
			return &users[k]
		}
	}
	return &users[0]
}

// DisplayName is the sidebar label of a conversation.
func DisplayName(c *model.Conversation, messages []model.Message, s model.Session) string {
	if c == nil {
		return ""
	}
	if name := OtherParticipant(c, messages, s).Label(); name != "" {
		return name
	}
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return fmt.Sprintf("Conversation #%s", c.ID)
}

// IsMine reports whether m was sent by the session user. Checks run in
// order: explicit flag on the message, the sender's self flag, sender id,
// sender email.
func IsMine(m *model.Message, c *model.Conversation, s model.Session) bool {
	if m == nil {
		return false
	}
	if m.Mine != nil {
		return *m.Mine
	}
	sender := m.Sender
	if sender == nil {
		return false
	}
	if sender.IsSelf != nil {
		return *sender.IsSelf
	}
	if curID := currentUserID(c, s); curID != "" && sender.ID == curID {
		return true
	}
	return s.Email != "" && sender.Email != "" && strings.EqualFold(sender.Email, s.Email)
}

// firstMessageDate is used to tell apart conversations whose display names
// collide.
func firstMessageDate(c *model.Conversation, messages []model.Message) time.Time {
	for _, s := range []string{c.FirstMessageAt, c.CreatedAt} {
		if t := model.ParseTime(s); !t.IsZero() {
			return t
		}
	}
	if len(messages) == 0 {
		messages = c.Messages
	}
	if len(messages) > 0 {
		return messages[0].Time()
	}
	return time.Time{}
}
