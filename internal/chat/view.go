package chat

import (
	"fmt"
	"time"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// View is a read-only projection of the inbox, safe to hand to other
// goroutines.
type View struct {
	Session       model.Session      `json:"session"`
	Conversations []ConversationView `json:"conversations"`
	// Total counts loaded conversations before the search filter.
	Total         int         `json:"total"`
	Active        *ActiveView `json:"active,omitempty"`
	SearchTerm    string      `json:"search_term"`
	Query         string      `json:"query"`
	Draft         string      `json:"draft"`
	PushConnected bool        `json:"push_connected"`
	Subscriptions int         `json:"subscriptions"`
}

type ConversationView struct {
	ID            model.ID `json:"id"`
	DisplayName   string   `json:"display_name"`
	MessageCount  int      `json:"messages_count"`
	LastMessageAt string   `json:"last_message_at,omitempty"`
	Active        bool     `json:"active"`
	// Duplicate is set when another loaded conversation resolves to the
	// same name; DisplayName then carries a suffix.
	Duplicate bool `json:"duplicate"`
}

type ActiveView struct {
	ID          model.ID      `json:"id"`
	DisplayName string        `json:"display_name"`
	Messages    []MessageView `json:"messages"`
}

type MessageView struct {
	ID          model.ID `json:"id"`
	Body        string   `json:"body"`
	SenderID    model.ID `json:"sender_id,omitempty"`
	SenderLabel string   `json:"sender_label"`
	CreatedAt   string   `json:"created_at,omitempty"`
	Mine        bool     `json:"mine"`
}

func (in *Inbox) view() View {
	st := &in.state
	v := View{
		Session:       st.Session,
		Total:         len(st.Conversations),
		SearchTerm:    st.SearchTerm,
		Query:         st.Query,
		Draft:         st.Draft,
		PushConnected: in.tr.Connected(),
		Subscriptions: in.subs.Len(),
	}

	names := make(map[model.ID]string, len(st.Conversations))
	counts := make(map[string]int, len(st.Conversations))
	for _, c := range st.Conversations {
		n := DisplayName(c, nil, st.Session)
		names[c.ID] = n
		counts[n]++
	}

	activeID := st.Active.ID()
	v.Conversations = make([]ConversationView, 0, len(st.Conversations))
	for _, c := range Filter(st.Conversations, st.Filter(), st.Session) {
		cv := ConversationView{
			ID:            c.ID,
			DisplayName:   names[c.ID],
			MessageCount:  c.MessageCount,
			LastMessageAt: c.LastMessageAt,
			Active:        c.ID == activeID,
			Duplicate:     counts[names[c.ID]] > 1,
		}
		if cv.Duplicate {
			cv.DisplayName += disambiguator(c, nil)
		}
		v.Conversations = append(v.Conversations, cv)
	}

	if st.Active != nil {
		v.Active = in.activeView(st.Active)
	}
	return v
}

func (in *Inbox) activeView(a *Active) *ActiveView {
	st := &in.state
	av := &ActiveView{
		ID:          a.ID(),
		DisplayName: DisplayName(a.Conversation, a.Messages, st.Session),
		Messages:    make([]MessageView, 0, len(a.Messages)),
	}
	for k := range a.Messages {
		m := &a.Messages[k]
		mv := MessageView{
			ID:          m.ID,
			Body:        m.Body,
			CreatedAt:   m.CreatedAt,
			Mine:        IsMine(m, a.Conversation, st.Session),
			SenderLabel: in.senderLabel(m.Sender),
		}
		if m.Sender != nil {
			mv.SenderID = m.Sender.ID
		}
		av.Messages = append(av.Messages, mv)
	}
	return av
}

func (in *Inbox) senderLabel(p *model.Participant) string {
	if l := p.Label(); l != "" {
		return l
	}
	if p != nil && p.ID != "" && in.opts.Labels != nil {
		if l, ok := in.opts.Labels.Cached(p.ID); ok {
			return l
		}
	}
	return "System"
}

func disambiguator(c *model.Conversation, messages []model.Message) string {
	if t := firstMessageDate(c, messages); !t.IsZero() {
		return " · " + t.Format("Jan 2, 2006")
	}
	return fmt.Sprintf(" · #%s", c.ID)
}

// displayTime formats a message timestamp for the directory, falling back
// to now when the message carries none.
func displayTime(createdAt string, now time.Time) string {
	if createdAt == "" {
		return now.Format(model.DisplayTimeLayout)
	}
	return model.FormatDisplayTime(createdAt)
}
