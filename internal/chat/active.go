package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/transport"
)

// Open fetches the full history of id and makes it the open conversation.
// It returns ErrSuperseded when another open started later and won. While
// it is in flight, incoming messages do not auto-open anything.
func (in *Inbox) Open(ctx context.Context, id model.ID) error {
	if id == "" {
		return fmt.Errorf("open conversation: empty id")
	}
	var gen uint64
	err := in.do(ctx, func() {
		gen = in.state.NextOpen()
		in.userOpen = gen
	})
	if err != nil {
		return err
	}
	// Once the open is registered its outcome must be recorded, even if
	// the caller gives up.
	settle := context.WithoutCancel(ctx)
	d, err := in.backend.GetConversation(ctx, id)
	if err != nil {
		in.log.Warn("open conversation failed", "conversation", id, "err", err)
		_ = in.do(settle, func() { in.endUserOpen(gen) })
		return fmt.Errorf("open conversation %s: %w", id, err)
	}
	var applied bool
	err = in.do(settle, func() {
		in.endUserOpen(gen)
		applied = in.applyOpened(gen, id, d)
	})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("open conversation %s: %w", id, ErrSuperseded)
	}
	return nil
}

func (in *Inbox) endUserOpen(gen uint64) {
	if in.userOpen == gen {
		in.userOpen = 0
	}
}

func (in *Inbox) applyOpened(gen uint64, id model.ID, d *model.ConversationDetail) bool {
	if d.Conversation.ID == "" {
		d.Conversation.ID = id
	}
	if !in.state.ApplyOpened(gen, d) {
		in.log.Debug("superseded open dropped", "conversation", id)
		return false
	}
	in.subs.Ensure(id)
	in.changed()
	return true
}

// Send posts text to the open conversation. The draft is cleared
// immediately; on failure it is restored and the error returned.
func (in *Inbox) Send(ctx context.Context, text string) (*model.Message, error) {
	var (
		cid     model.ID
		sendErr error
	)
	err := in.do(ctx, func() {
		cid, sendErr = in.state.BeginSend(text)
		if sendErr == nil {
			in.changed()
		}
	})
	if err != nil {
		return nil, err
	}
	if sendErr != nil {
		return nil, sendErr
	}

	m, err := in.backend.SendMessage(ctx, cid, strings.TrimSpace(text))
	if err != nil {
		in.log.Warn("send failed, draft restored", "conversation", cid, "err", err)
		_ = in.do(context.WithoutCancel(ctx), func() {
			in.state.SendFailed(text)
			in.changed()
		})
		return nil, fmt.Errorf("send message: %w", err)
	}

	_ = in.do(context.WithoutCancel(ctx), func() {
		if c := in.state.Find(cid); c != nil {
			c.LastMessageAt = displayTime(m.CreatedAt, in.opts.Now())
		}
		in.state.AppendMessage(cid, *m)
		in.changed()
		in.load(in.state.Query)
	})
	return m, nil
}

// Start opens a new conversation with userIDs, adds it to the directory and
// opens it.
func (in *Inbox) Start(ctx context.Context, userIDs []model.ID) (*model.Conversation, error) {
	c, err := in.backend.StartConversation(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	err = in.do(ctx, func() {
		in.state.AddConversation(c.Clone())
		in.subs.Ensure(c.ID)
		in.changed()
	})
	if err != nil {
		return nil, err
	}
	return c, in.Open(ctx, c.ID)
}

// SetDraft stores the text typed so far.
func (in *Inbox) SetDraft(ctx context.Context, text string) error {
	return in.do(ctx, func() {
		if in.state.Draft != text {
			in.state.Draft = text
			in.changed()
		}
	})
}

// handlerFor builds the push handler of conversation cid. Decoding happens
// on the transport goroutine; state is only read and written on the loop.
func (in *Inbox) handlerFor(cid model.ID) transport.Handler {
	return func(data json.RawMessage) {
		m, err := decodeEvent(data)
		if err != nil {
			in.log.Warn("undecodable message event", "conversation", cid, "err", err)
			return
		}
		in.post(func() { in.onMessage(cid, m) })
	}
}

// decodeEvent accepts {"message": {...}} and a bare message.
func decodeEvent(data json.RawMessage) (model.Message, error) {
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return model.Message{}, err
	}
	raw := data
	if len(wrapped.Message) > 0 && string(wrapped.Message) != "null" {
		raw = wrapped.Message
	}
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

func (in *Inbox) onMessage(cid model.ID, m model.Message) {
	m.ConversationID = cid
	open := in.state.ApplyInbound(cid, m, displayTime(m.CreatedAt, in.opts.Now()))
	if in.state.Active == nil && in.userOpen == 0 {
		in.maybeAutoOpen(cid)
	}
	if in.opts.OnIncoming != nil {
		in.opts.OnIncoming(cid, m, open)
	}
	in.changed()
}

// maybeAutoOpen opens cid when nothing is open or being opened, unless the
// same id was auto-opened within the window.
func (in *Inbox) maybeAutoOpen(cid model.ID) {
	if in.opts.DisableAutoOpen {
		return
	}
	now := in.opts.Now()
	if in.lastAutoOpen.id == cid && now.Sub(in.lastAutoOpen.at) < in.opts.AutoOpenWindow {
		return
	}
	in.lastAutoOpen = autoOpen{id: cid, at: now}
	gen := in.state.NextOpen()
	in.log.Info("auto-opening conversation", "conversation", cid)
	go func() {
		d, err := in.backend.GetConversation(in.ctx, cid)
		if err != nil {
			if in.ctx.Err() == nil {
				in.log.Warn("auto-open failed", "conversation", cid, "err", err)
			}
			return
		}
		in.post(func() { in.applyOpened(gen, cid, d) })
	}()
}
