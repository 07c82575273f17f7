package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bulsupms/pmsinbox/internal/model"
)

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Admin    bool   `json:"admin"`
}

type LoginResult struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Login authenticates against the admin-only login endpoint and, on
// success, attaches the returned bearer token to the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	req := loginReq{Email: email, Password: password, Admin: true}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("api: login: %w", err)
	}
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/login", nil, req, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, fmt.Errorf("api: login: response carries no token")
	}
	c.SetToken(res.Token)
	return &res, nil
}

// CurrentUser returns the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*model.Participant, error) {
	var p model.Participant
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUser returns a single user record.
func (c *Client) GetUser(ctx context.Context, id model.ID) (*model.Participant, error) {
	var p model.Participant
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id.String()), nil, nil, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// AuthorizeChannel asks the backend's broadcasting endpoint for a
// private-channel signature. authURL defaults to <origin>/broadcasting/auth.
func (c *Client) AuthorizeChannel(ctx context.Context, authURL, socketID, channel string) (string, error) {
	if strings.TrimSpace(authURL) == "" {
		authURL = c.origin + "/broadcasting/auth"
	}
	body := map[string]string{"socket_id": socketID, "channel_name": channel}
	var res struct {
		Auth string `json:"auth"`
	}
	if err := c.doURL(ctx, http.MethodPost, authURL, nil, body, &res); err != nil {
		return "", err
	}
	if res.Auth == "" {
		return "", fmt.Errorf("api: channel %s: empty authorization", channel)
	}
	return res.Auth, nil
}
