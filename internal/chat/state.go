package chat

import (
	"strings"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// Active is the conversation open in the message pane.
type Active struct {
	Conversation *model.Conversation
	Messages     []model.Message
}

func (a *Active) ID() model.ID {
	if a == nil || a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

func (a *Active) hasMessage(id model.ID) bool {
	for k := range a.Messages {
		if a.Messages[k].ID == id {
			return true
		}
	}
	return false
}

// State is everything the inbox shows. Its methods are the only state
// transitions; none of them perform I/O.
type State struct {
	Session       model.Session
	Conversations []*model.Conversation
	Active        *Active

	// SearchTerm follows keystrokes, Query trails it by the search debounce.
	SearchTerm string
	Query      string
	Draft      string

	dirGen  uint64
	openGen uint64
}

// Filter returns the term the visible list is filtered by.
func (s *State) Filter() string {
	if strings.TrimSpace(s.SearchTerm) != "" {
		return s.SearchTerm
	}
	return s.Query
}

// Find returns the directory entry for id.
func (s *State) Find(id model.ID) *model.Conversation {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ApplyDirectory replaces the conversation list with the result of the
// directory load numbered gen. Results of loads older than the last applied
// one are dropped and false is returned.
func (s *State) ApplyDirectory(gen uint64, list []*model.Conversation) bool {
	if gen < s.dirGen {
		return false
	}
	s.dirGen = gen
	out := make([]*model.Conversation, 0, len(list))
	for _, c := range list {
		if c != nil && c.ID != "" {
			out = append(out, c)
		}
	}
	s.Conversations = out
	return true
}

// MergeDetail backfills participant data fetched for an enriched entry.
func (s *State) MergeDetail(detail model.Conversation) bool {
	c := s.Find(detail.ID)
	if c == nil {
		return false
	}
	if len(detail.Participants) > 0 {
		c.Participants = append([]model.Participant(nil), detail.Participants...)
	}
	if c.Other == nil && detail.Other != nil {
		o := *detail.Other
		c.Other = &o
	}
	if c.Title == "" {
		c.Title = detail.Title
	}
	if c.Name == "" {
		c.Name = detail.Name
	}
	if c.CurrentUserID == "" {
		c.CurrentUserID = detail.CurrentUserID
	}
	if c.FirstMessageAt == "" {
		c.FirstMessageAt = detail.FirstMessageAt
	}
	return true
}

// AddConversation puts a newly started conversation at the top of the list
// unless it is already known.
func (s *State) AddConversation(c *model.Conversation) {
	if c == nil || c.ID == "" || s.Find(c.ID) != nil {
		return
	}
	s.Conversations = append([]*model.Conversation{c}, s.Conversations...)
}

// ApplyInbound records an incoming message for conversation cid: the
// directory entry is bumped and, when cid is open, the message is appended.
// It returns true when the message was appended to the open conversation.
func (s *State) ApplyInbound(cid model.ID, m model.Message, at string) bool {
	if c := s.Find(cid); c != nil {
		c.MessageCount++
		if at != "" {
			c.LastMessageAt = at
		}
	}
	return s.AppendMessage(cid, m)
}

// AppendMessage adds m to the open conversation when cid is open and no
// message with the same id is present. Messages without an id are dropped.
func (s *State) AppendMessage(cid model.ID, m model.Message) bool {
	if s.Active == nil || s.Active.ID() != cid || m.ID == "" {
		return false
	}
	if s.Active.hasMessage(m.ID) {
		return false
	}
	s.Active.Messages = append(s.Active.Messages, m)
	return true
}

// NextOpen numbers an open request.
func (s *State) NextOpen() uint64 {
	s.openGen++
	return s.openGen
}

// ApplyOpened replaces the active conversation wholesale. An open that was
// overtaken by a later one is dropped.
func (s *State) ApplyOpened(gen uint64, d *model.ConversationDetail) bool {
	if d == nil || gen < s.openGen {
		return false
	}
	conv := d.Conversation.Clone()
	backfill(conv, s.Find(conv.ID))
	s.Active = &Active{
		Conversation: conv,
		Messages:     append([]model.Message(nil), d.Messages...),
	}
	return true
}

// ReplaceActive swaps in a refetched history when id is still open.
func (s *State) ReplaceActive(id model.ID, d *model.ConversationDetail) bool {
	if d == nil || s.Active == nil || s.Active.ID() != id {
		return false
	}
	conv := d.Conversation.Clone()
	if conv.ID == "" {
		conv.ID = id
	}
	backfill(conv, s.Find(id))
	backfill(conv, s.Active.Conversation)
	s.Active.Conversation = conv
	s.Active.Messages = append([]model.Message(nil), d.Messages...)
	return true
}

// backfill copies participants and title from known when a detail payload
// came without them.
func backfill(conv, known *model.Conversation) {
	if known == nil {
		return
	}
	if len(conv.Participants) == 0 && len(known.Participants) > 0 {
		conv.Participants = append([]model.Participant(nil), known.Participants...)
	}
	if conv.Other == nil && known.Other != nil {
		other := *known.Other
		conv.Other = &other
	}
	if conv.Title == "" {
		conv.Title = known.Title
	}
}

// BeginSend validates text against the open conversation and clears the
// draft. It returns the conversation to post to.
func (s *State) BeginSend(text string) (model.ID, error) {
	if s.Active == nil {
		return "", ErrNoActive
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	s.Draft = ""
	return s.Active.ID(), nil
}

// SendFailed puts text back into the draft. Anything typed since the send
// started is kept after it.
func (s *State) SendFailed(text string) {
	if s.Draft == "" {
		s.Draft = text
		return
	}
	s.Draft = text + "\n" + s.Draft
}
