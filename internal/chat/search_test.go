package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bulsupms/pmsinbox/internal/model"
)

func TestSearchTokensMatchAcrossFields(t *testing.T) {
	s := model.Session{ID: "1"}
	c := &model.Conversation{
		ID:           "8",
		Participants: []model.Participant{{ID: "4", Email: "maria.santos@example.com"}},
	}

	assert.True(t, Matches(c, Tokenize("maria santos"), s))
	assert.True(t, Matches(c, Tokenize("  MARIA   Santos "), s))
	assert.False(t, Matches(c, Tokenize("maria jones"), s))
	assert.True(t, Matches(c, Tokenize(""), s))
	assert.True(t, Matches(c, Tokenize("8"), s))
}

func TestFilterKeepsOrder(t *testing.T) {
	s := model.Session{ID: "1"}
	list := []*model.Conversation{
		{ID: "1", Title: "Gate 1 guard"},
		{ID: "2", Title: "Security Desk"},
		{ID: "3", Participants: []model.Participant{{ID: "5", Name: "Desk Officer"}}},
	}

	got := Filter(list, "desk", s)
	if assert.Len(t, got, 2) {
		assert.Equal(t, model.ID("2"), got[0].ID)
		assert.Equal(t, model.ID("3"), got[1].ID)
	}
	assert.Len(t, Filter(list, "", s), 3)
}
