package chat

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// Search filters the directory by term. The visible list is filtered on
// term right away and a server-side load is issued for it; the debounced
// query follows once typing pauses and loads again.
func (in *Inbox) Search(ctx context.Context, term string) error {
	return in.do(ctx, func() {
		in.state.SearchTerm = term
		in.changed()
		in.load(term)
		in.query.Trigger(term)
	})
}

// Reload fetches the directory for the current query.
func (in *Inbox) Reload(ctx context.Context) error {
	return in.do(ctx, func() { in.load(in.state.Query) })
}

func (in *Inbox) applyQuery(q string) {
	if in.state.Query == q {
		return
	}
	in.state.Query = q
	in.changed()
	in.load(q)
}

// load fetches the directory for q in the background. Only a response newer
// than the last applied one replaces the list.
func (in *Inbox) load(q string) {
	in.issued++
	gen := in.issued
	go func() {
		list, err := in.backend.ListConversations(in.ctx, q)
		if err != nil {
			if in.ctx.Err() == nil {
				in.log.Warn("load conversations failed", "q", q, "err", err)
			}
			return
		}
		in.post(func() { in.applyDirectory(gen, q, list) })
	}()
}

func (in *Inbox) applyDirectory(gen uint64, q string, list []*model.Conversation) {
	if !in.state.ApplyDirectory(gen, list) {
		in.log.Debug("stale directory response dropped", "gen", gen)
		return
	}
	in.subs.Sync(in.state.Conversations)
	in.changed()
	if strings.TrimSpace(q) != "" {
		in.enrich(in.state.Conversations)
	}
}

// enrich fetches the detail of up to EnrichLimit conversations that came
// back without participants and merges it into the directory. Failures are
// ignored per conversation.
func (in *Inbox) enrich(list []*model.Conversation) {
	var ids []model.ID
	for _, c := range list {
		if len(ids) == in.opts.EnrichLimit {
			break
		}
		if len(c.Participants) == 0 && c.Other == nil {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	go func() {
		details := make([]*model.ConversationDetail, len(ids))
		g, ctx := errgroup.WithContext(in.ctx)
		g.SetLimit(enrichConcurrency)
		for k, id := range ids {
			k, id := k, id
			g.Go(func() error {
				d, err := in.backend.GetConversation(ctx, id)
				if err != nil {
					in.log.Debug("enrich failed", "conversation", id, "err", err)
					return nil
				}
				if d.Conversation.ID == "" {
					d.Conversation.ID = id
				}
				details[k] = d
				return nil
			})
		}
		_ = g.Wait()
		in.post(func() {
			merged := 0
			for _, d := range details {
				if d != nil && in.state.MergeDetail(d.Conversation) {
					merged++
				}
			}
			if merged > 0 {
				in.changed()
			}
		})
	}()
}
