package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bulsupms/pmsinbox/internal/api"
	"github.com/bulsupms/pmsinbox/internal/auth"
	"github.com/bulsupms/pmsinbox/internal/chat"
	"github.com/bulsupms/pmsinbox/internal/config"
	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/notify"
	"github.com/bulsupms/pmsinbox/internal/pusher"
	"github.com/bulsupms/pmsinbox/internal/transport"
	"github.com/bulsupms/pmsinbox/internal/users"
)

type app struct {
	cfg     config.Config
	log     *slog.Logger
	client  *api.Client
	session model.Session
	labels  *users.Cache
}

func newApp(ctx context.Context, cfg config.Config, store users.Store, logger *slog.Logger) (*app, error) {
	client := api.New(cfg.APIURL,
		api.WithToken(cfg.Token),
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithLogger(logger),
	)
	session, err := resolveSession(ctx, cfg, client)
	if err != nil {
		return nil, err
	}
	logger.Info("signed in", "user", session.ID, "email", session.Email, "api", client.Origin())
	return &app{
		cfg:     cfg,
		log:     logger,
		client:  client,
		session: session,
		labels:  users.NewCache(client, store, logger),
	}, nil
}

// resolveSession logs in when no token is configured, then takes the user
// from the configuration, the token claims or GET /user, in that order.
func resolveSession(ctx context.Context, cfg config.Config, client *api.Client) (model.Session, error) {
	if client.Token() == "" {
		res, err := client.Login(ctx, cfg.Email, cfg.Password)
		if err != nil {
			return model.Session{}, fmt.Errorf("login: %w", err)
		}
		if cfg.UserEmail == "" {
			cfg.UserEmail = res.Email
		}
	}

	s := model.Session{ID: model.ID(cfg.UserID), Email: cfg.UserEmail}
	if s.ID == "" {
		if fromToken, err := auth.SessionFromToken(client.Token()); err == nil {
			s.ID = fromToken.ID
			if s.Email == "" {
				s.Email = fromToken.Email
			}
		}
	}
	if s.ID == "" {
		me, err := client.CurrentUser(ctx)
		if err != nil {
			return model.Session{}, fmt.Errorf("current user: %w", err)
		}
		s.ID = me.ID
		if s.Email == "" {
			s.Email = me.Email
		}
	}
	return s, nil
}

// newTransport dials the broadcaster when one is configured. Without it
// the inbox runs on polling alone.
func (a *app) newTransport(ctx context.Context) transport.Transport {
	if a.cfg.PusherURL == "" {
		a.log.Info("no PUSHER_URL, polling only")
		return transport.NewBus(false)
	}
	p := pusher.New(pusher.Config{
		URL: a.cfg.PusherURL,
		Authorize: func(ctx context.Context, socketID, channel string) (string, error) {
			return a.client.AuthorizeChannel(ctx, a.cfg.BroadcastAuthURL, socketID, channel)
		},
		Logger: a.log,
	})
	go func() { _ = p.Run(ctx) }()
	return p
}

func (a *app) inboxOptions() chat.Options {
	return chat.Options{
		PollInterval:    a.cfg.PollInterval,
		SearchDebounce:  a.cfg.SearchDebounce,
		AutoOpenWindow:  a.cfg.AutoOpenWindow,
		DisableAutoOpen: !a.cfg.AutoOpen,
		EnrichLimit:     a.cfg.EnrichLimit,
		Logger:          a.log,
		Labels:          a.labels,
	}
}

// onIncoming warms sender labels and, with a notifier, e-mails about
// messages landing outside the open conversation.
func (a *app) onIncoming(n *notify.Notifier) func(model.ID, model.Message, bool) {
	return func(cid model.ID, m model.Message, open bool) {
		var sender string
		if m.Sender != nil {
			sender = m.Sender.Label()
			if sender == "" && m.Sender.ID != "" {
				if l, ok := a.labels.Cached(m.Sender.ID); ok {
					sender = l
				} else {
					a.labels.Warm(m.Sender.ID)
					sender = users.LabelOf(nil, m.Sender.ID)
				}
			}
		}
		if n == nil || open || chat.IsMine(&m, nil, a.session) {
			return
		}
		if sender == "" {
			sender = "System"
		}
		at := m.Time()
		if at.IsZero() {
			at = time.Now()
		}
		n.Go(notify.Incoming{
			ConversationID: cid,
			Conversation:   "conversation #" + cid.String(),
			Sender:         sender,
			Body:           m.Body,
			At:             at,
		})
	}
}
