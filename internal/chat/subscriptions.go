package chat

import (
	"fmt"
	"log/slog"

	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/transport"
)

// EventMessageSent is the event broadcast on a conversation channel when a
// message is posted.
const EventMessageSent = "MessageSent"

// ChannelName is the private channel carrying the events of conversation id.
func ChannelName(id model.ID) string {
	return "private-conversation." + id.String()
}

// Subscriptions keeps at most one live channel subscription per
// conversation id. It is not safe for concurrent use; the inbox only
// touches it from its loop.
type Subscriptions struct {
	tr      transport.Transport
	handler func(id model.ID) transport.Handler
	log     *slog.Logger

	table map[model.ID]transport.Subscription
}

// NewSubscriptions returns an empty table. handler builds the event handler
// for one conversation.
func NewSubscriptions(tr transport.Transport, handler func(id model.ID) transport.Handler, log *slog.Logger) *Subscriptions {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriptions{
		tr:      tr,
		handler: handler,
		log:     log,
		table:   make(map[model.ID]transport.Subscription),
	}
}

// Ensure subscribes to id unless a subscription already exists. A failed
// subscribe is logged and not recorded, so a later Ensure retries it.
func (s *Subscriptions) Ensure(id model.ID) bool {
	if id == "" {
		return false
	}
	if _, ok := s.table[id]; ok {
		return false
	}
	sub, err := s.tr.Subscribe(ChannelName(id), EventMessageSent, s.handler(id))
	if err != nil {
		s.log.Warn("subscribe failed, relying on polling", "conversation", id, "err", err)
		return false
	}
	s.table[id] = sub
	return true
}

// Sync ensures a subscription for every conversation in list. Entries for
// conversations that left the list are kept until CloseAll.
func (s *Subscriptions) Sync(list []*model.Conversation) int {
	n := 0
	for _, c := range list {
		if s.Ensure(c.ID) {
			n++
		}
	}
	return n
}

func (s *Subscriptions) Has(id model.ID) bool {
	_, ok := s.table[id]
	return ok
}

func (s *Subscriptions) Len() int { return len(s.table) }

// CloseAll closes every subscription and clears the table. Close errors
// and panics are logged and swallowed.
func (s *Subscriptions) CloseAll() {
	for id, sub := range s.table {
		if err := closeQuietly(sub); err != nil {
			s.log.Debug("unsubscribe failed", "conversation", id, "err", err)
		}
		delete(s.table, id)
	}
}

func closeQuietly(sub transport.Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return sub.Close()
}
