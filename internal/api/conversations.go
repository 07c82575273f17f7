package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bulsupms/pmsinbox/internal/model"
)

type sendReq struct {
	Body string `json:"body" validate:"required"`
}

type startReq struct {
	UserIDs []model.ID `json:"user_ids" validate:"required,min=1"`
}

// ListConversations returns the conversations matching q (all when q is
// empty).
func (c *Client) ListConversations(ctx context.Context, q string) ([]*model.Conversation, error) {
	query := url.Values{}
	query.Set("q", q)
	var list []*model.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", query, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetConversation fetches participants and message history.
func (c *Client) GetConversation(ctx context.Context, id model.ID) (*model.ConversationDetail, error) {
	var d model.ConversationDetail
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id.String()), nil, nil, &d); err != nil {
		return nil, err
	}
	if d.Conversation.ID == "" {
		d.Conversation.ID = id
	}
	return &d, nil
}

// SendMessage posts body to the conversation and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, id model.ID, body string) (*model.Message, error) {
	req := sendReq{Body: body}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("api: send message: %w", err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id.String())+"/message", nil, req, &raw); err != nil {
		return nil, err
	}
	if inner, ok := field(raw, "message"); ok && strings.HasPrefix(string(inner), "{") {
		raw = inner
	}
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("api: decode sent message: %w", err)
	}
	if m.ConversationID == "" {
		m.ConversationID = id
	}
	return &m, nil
}

// StartConversation opens (or reuses) a conversation with the given users.
func (c *Client) StartConversation(ctx context.Context, userIDs []model.ID) (*model.Conversation, error) {
	req := startReq{UserIDs: userIDs}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("api: start conversation: %w", err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, req, &raw); err != nil {
		return nil, err
	}
	if inner, ok := field(raw, "conversation"); ok {
		raw = inner
	}
	var conv model.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("api: decode conversation: %w", err)
	}
	if conv.ID == "" {
		var ids struct {
			ThreadID       model.ID `json:"thread_id"`
			ConversationID model.ID `json:"conversation_id"`
		}
		_ = json.Unmarshal(raw, &ids)
		conv.ID = ids.ThreadID
		if conv.ID == "" {
			conv.ID = ids.ConversationID
		}
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("api: start conversation: response carries no id")
	}
	return &conv, nil
}
