package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulsupms/pmsinbox/internal/model"
)

func newBackend(t *testing.T, register func(rg *gin.RouterGroup)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r.Group("/api"))
	r.POST("/broadcasting/auth", func(c *gin.Context) {
		var req map[string]string
		_ = c.ShouldBindJSON(&req)
		c.JSON(http.StatusOK, gin.H{"auth": "key:" + req["socket_id"] + ":" + req["channel_name"]})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", WithToken("tok"))
}

func TestNormalizeOrigin(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", NormalizeOrigin("http://localhost:8000/api/"))
	assert.Equal(t, "http://localhost:8000", NormalizeOrigin(" http://localhost:8000/ "))
	assert.Equal(t, "https://bulsupms.com", NormalizeOrigin("https://bulsupms.com/api"))
}

func TestListConversationsUnwrapsPaginator(t *testing.T) {
	var gotQ, gotAuth, gotReqID string
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.GET("/conversations", func(c *gin.Context) {
			gotQ = c.Query("q")
			gotAuth = c.GetHeader("Authorization")
			gotReqID = c.GetHeader("X-Request-ID")
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"data": []gin.H{
				{"id": 1, "title": "Security Desk", "messages_count": 2},
				{"id": "x9", "users": []gin.H{{"id": 4, "name": "Juan"}}},
			}}})
		})
	})

	list, err := c.ListConversations(context.Background(), "juan")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.ID("1"), list[0].ID)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "Juan", list[1].Participants[0].Name)
	assert.Equal(t, "juan", gotQ)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotReqID)
}

func TestGetConversation(t *testing.T) {
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.GET("/conversations/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"data": gin.H{
				"conversation": gin.H{"id": c.Param("id"), "participants": []gin.H{{"id": 2, "name": "Juan"}}},
				"messages":     []gin.H{{"id": 10, "body": "hello", "sender": gin.H{"id": 2}}},
			}})
		})
	})

	d, err := c.GetConversation(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, model.ID("5"), d.Conversation.ID)
	require.Len(t, d.Messages, 1)
	assert.Equal(t, "hello", d.Messages[0].Body)
}

func TestSendMessage(t *testing.T) {
	var body map[string]string
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.POST("/conversations/:id/message", func(c *gin.Context) {
			require.NoError(t, c.ShouldBindJSON(&body))
			c.JSON(http.StatusCreated, gin.H{"data": gin.H{"message": gin.H{"id": 99, "body": body["body"]}}})
		})
	})

	m, err := c.SendMessage(context.Background(), "5", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", body["body"])
	assert.Equal(t, model.ID("99"), m.ID)
	assert.Equal(t, model.ID("5"), m.ConversationID)

	_, err = c.SendMessage(context.Background(), "5", "")
	assert.Error(t, err)
}

func TestErrorStatus(t *testing.T) {
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.POST("/conversations/:id/message", func(c *gin.Context) {
			c.JSON(http.StatusForbidden, gin.H{"message": "not a participant"})
		})
	})

	_, err := c.SendMessage(context.Background(), "5", "hello")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not a participant", apiErr.Message)
}

func TestStartConversationIDFallbacks(t *testing.T) {
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.POST("/conversations", func(c *gin.Context) {
			var req struct {
				UserIDs []int `json:"user_ids"`
			}
			require.NoError(t, c.ShouldBindJSON(&req))
			require.Equal(t, []int{4}, req.UserIDs)
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"thread_id": 31}})
		})
	})

	conv, err := c.StartConversation(context.Background(), []model.ID{"4"})
	require.NoError(t, err)
	assert.Equal(t, model.ID("31"), conv.ID)

	_, err = c.StartConversation(context.Background(), nil)
	assert.Error(t, err)
}

func TestLoginSetsToken(t *testing.T) {
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.POST("/login", func(c *gin.Context) {
			var req map[string]any
			require.NoError(t, c.ShouldBindJSON(&req))
			if req["admin"] != true {
				c.JSON(http.StatusForbidden, gin.H{"message": "admins only"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": "fresh", "name": "Admin", "email": req["email"]}})
		})
		rg.GET("/user", func(c *gin.Context) {
			if c.GetHeader("Authorization") != "Bearer fresh" {
				c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": 1, "email": "admin@bulsu.edu.ph"}})
		})
	})

	res, err := c.Login(context.Background(), "admin@bulsu.edu.ph", "secret")
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Token)
	assert.Equal(t, "fresh", c.Token())

	me, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ID("1"), me.ID)
}

func TestGetUserAndAuthorizeChannel(t *testing.T) {
	c := newBackend(t, func(rg *gin.RouterGroup) {
		rg.GET("/users/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"full_name": "Maria Santos"})
		})
	})

	u, err := c.GetUser(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, model.ID("12"), u.ID)
	assert.Equal(t, "Maria Santos", u.Label())

	auth, err := c.AuthorizeChannel(context.Background(), "", "1.2", "private-conversation.5")
	require.NoError(t, err)
	assert.Equal(t, "key:1.2:private-conversation.5", auth)
}
