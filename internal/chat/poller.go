package chat

import (
	"github.com/bulsupms/pmsinbox/internal/model"
)

// pollTick reloads the directory and the open conversation while push is
// down. Ticks are skipped while the transport is connected or a previous
// cycle is still running.
func (in *Inbox) pollTick() {
	if in.tr.Connected() || in.polling {
		return
	}
	in.polling = true
	in.issued++
	gen := in.issued
	q := in.state.Query
	activeID := in.state.Active.ID()

	go func() {
		list, listErr := in.backend.ListConversations(in.ctx, q)
		if listErr != nil {
			in.log.Warn("poll: load conversations failed", "err", listErr)
		}
		var detail *model.ConversationDetail
		if activeID != "" {
			d, err := in.backend.GetConversation(in.ctx, activeID)
			if err != nil {
				in.log.Warn("poll: refresh conversation failed", "conversation", activeID, "err", err)
			} else {
				detail = d
			}
		}
		in.post(func() {
			in.polling = false
			if listErr == nil {
				in.applyDirectory(gen, q, list)
			}
			if detail != nil && in.state.ReplaceActive(activeID, detail) {
				in.changed()
			}
		})
	}()
}
