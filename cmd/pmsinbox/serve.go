package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/bulsupms/pmsinbox/internal/chat"
	"github.com/bulsupms/pmsinbox/internal/console"
	"github.com/bulsupms/pmsinbox/internal/notify"
)

const shutdownTimeout = 5 * time.Second

// serve runs the inbox, the e-mail notifier and the console until ctx is
// done.
func (a *app) serve(ctx context.Context) error {
	var notifier *notify.Notifier
	if a.cfg.SendGridAPIKey != "" {
		notifier = notify.New(a.cfg.SendGridAPIKey, a.cfg.SendGridFrom, a.cfg.NotifyEmail, a.log)
		defer notifier.Wait()
	}

	hub := console.NewHub(a.log)
	opts := a.inboxOptions()
	opts.OnChange = hub.Publish
	opts.OnIncoming = a.onIncoming(notifier)

	g, ctx := errgroup.WithContext(ctx)
	in := chat.New(a.client, a.newTransport(ctx), a.session, opts)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error { return in.Run(ctx) })

	if !a.cfg.ConsoleEnabled() {
		a.log.Warn("console disabled: set CONSOLE_JWT_SECRET and CONSOLE_PASSWORD_HASH")
		return g.Wait()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	console.Register(r.Group("/console"), &console.Service{
		Inbox:        in,
		Labels:       a.labels,
		JWTSecret:    a.cfg.ConsoleJWTSecret,
		JWTTTLMin:    a.cfg.ConsoleJWTTTLMin,
		PasswordHash: a.cfg.ConsolePasswordHash,
		Email:        a.session.Email,
	}, hub)

	srv := &http.Server{Addr: a.cfg.Addr, Handler: r}
	g.Go(func() error {
		a.log.Info("console listening", "addr", a.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
