// Package console serves the inbox over HTTP for a local operator: a small
// JSON API plus a WebSocket feed of view snapshots.
package console

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/bulsupms/pmsinbox/internal/api"
	"github.com/bulsupms/pmsinbox/internal/auth"
	"github.com/bulsupms/pmsinbox/internal/chat"
	"github.com/bulsupms/pmsinbox/internal/httpx"
	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/users"
	"github.com/bulsupms/pmsinbox/internal/utils"
)

// Inbox is what the console drives. *chat.Inbox implements it.
type Inbox interface {
	Snapshot(ctx context.Context) (chat.View, error)
	Search(ctx context.Context, term string) error
	Open(ctx context.Context, id model.ID) error
	Send(ctx context.Context, text string) (*model.Message, error)
	Start(ctx context.Context, userIDs []model.ID) (*model.Conversation, error)
	SetDraft(ctx context.Context, text string) error
}

type Labels interface {
	Label(ctx context.Context, id model.ID) (string, error)
}

type Service struct {
	Inbox        Inbox
	Labels       Labels
	JWTSecret    string
	JWTTTLMin    int
	PasswordHash string
	Email        string
}

type loginReq struct {
	Password string `json:"password" binding:"required"`
}

type startReq struct {
	UserIDs []model.ID `json:"user_ids" binding:"required,min=1"`
}

type sendReq struct {
	Body string `json:"body" binding:"required"`
}

type draftReq struct {
	Draft string `json:"draft"`
}

// Register mounts the console API. Everything but login requires a console
// token.
func Register(rg *gin.RouterGroup, s *Service, hub *Hub) {
	rg.POST("/login", s.login)

	private := rg.Group("", auth.JWTMiddleware(s.JWTSecret))
	private.GET("/view", s.view)
	private.GET("/conversations", s.listConversations)
	private.POST("/conversations", s.startConversation)
	private.POST("/conversations/:id/open", s.open)
	private.GET("/active", s.active)
	private.POST("/active/messages", s.send)
	private.PUT("/draft", s.setDraft)
	private.GET("/users/:id/label", s.userLabel)

	RegisterWS(rg, hub, s.JWTSecret)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return false
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func statusOf(err error) int {
	var apiErr *api.Error
	switch {
	case errors.Is(err, chat.ErrNoActive), errors.Is(err, chat.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (s *Service) login(c *gin.Context) {
	var req loginReq
	if !bindJSON(c, &req) {
		return
	}
	if !auth.CheckPassword(s.PasswordHash, req.Password) {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	tok, err := auth.NewToken(s.JWTSecret, 1, s.Email, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	httpx.OK(c, gin.H{"token": tok})
}

func (s *Service) view(c *gin.Context) {
	v, err := s.Inbox.Snapshot(c.Request.Context())
	if err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.OK(c, v)
}

func (s *Service) listConversations(c *gin.Context) {
	ctx := c.Request.Context()
	if q, ok := c.GetQuery("q"); ok {
		if err := s.Inbox.Search(ctx, q); err != nil {
			httpx.Err(c, statusOf(err), err.Error())
			return
		}
	}
	v, err := s.Inbox.Snapshot(ctx)
	if err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"conversations": v.Conversations, "total": v.Total, "search_term": v.SearchTerm})
}

func (s *Service) startConversation(c *gin.Context) {
	var req startReq
	if !bindJSON(c, &req) {
		return
	}
	conv, err := s.Inbox.Start(c.Request.Context(), req.UserIDs)
	if err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.Created(c, gin.H{"conversation_id": conv.ID})
}

func (s *Service) open(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.Inbox.Open(ctx, model.ID(c.Param("id"))); err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	s.active(c)
}

func (s *Service) active(c *gin.Context) {
	v, err := s.Inbox.Snapshot(c.Request.Context())
	if err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	if v.Active == nil {
		httpx.Err(c, http.StatusNotFound, "no conversation is open")
		return
	}
	httpx.OK(c, v.Active)
}

func (s *Service) send(c *gin.Context) {
	var req sendReq
	if !bindJSON(c, &req) {
		return
	}
	m, err := s.Inbox.Send(c.Request.Context(), req.Body)
	if err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.Created(c, m)
}

func (s *Service) setDraft(c *gin.Context) {
	var req draftReq
	if !bindJSON(c, &req) {
		return
	}
	if err := s.Inbox.SetDraft(c.Request.Context(), req.Draft); err != nil {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s *Service) userLabel(c *gin.Context) {
	id := model.ID(c.Param("id"))
	label, err := s.Labels.Label(c.Request.Context(), id)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		httpx.Err(c, statusOf(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"id": id, "label": label, "found": err == nil})
}
