package chat

import (
	"strings"

	"github.com/bulsupms/pmsinbox/internal/model"
)

// Tokenize lower-cases q and splits it on whitespace.
func Tokenize(q string) []string {
	return strings.Fields(strings.ToLower(q))
}

// haystack concatenates every searchable field of c.
func haystack(c *model.Conversation, s model.Session) string {
	parts := []string{DisplayName(c, nil, s), c.Title, c.Name, c.ID.String()}
	add := func(p *model.Participant) {
		if p == nil {
			return
		}
		parts = append(parts, p.DisplayName, p.Name, p.FullName, p.Username, p.Email)
	}
	add(c.Other)
	for k := range c.Participants {
		add(&c.Participants[k])
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Matches reports whether every token occurs somewhere in c's haystack.
// No tokens match everything.
func Matches(c *model.Conversation, tokens []string, s model.Session) bool {
	if len(tokens) == 0 {
		return true
	}
	hay := haystack(c, s)
	for _, tok := range tokens {
		if !strings.Contains(hay, tok) {
			return false
		}
	}
	return true
}

// Filter returns the conversations matching q, preserving order.
func Filter(list []*model.Conversation, q string, s model.Session) []*model.Conversation {
	tokens := Tokenize(q)
	if len(tokens) == 0 {
		return list
	}
	out := make([]*model.Conversation, 0, len(list))
	for _, c := range list {
		if Matches(c, tokens, s) {
			out = append(out, c)
		}
	}
	return out
}
