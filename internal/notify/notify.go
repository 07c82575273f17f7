// Package notify e-mails the admin about messages that arrive in
// conversations nobody has open.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bulsupms/pmsinbox/internal/model"
)

const (
	// DefaultQuietPeriod is the minimum gap between two e-mails about the
	// same conversation.
	DefaultQuietPeriod = 5 * time.Minute
	sendTimeout        = 15 * time.Second
	fromName           = "PMS Inbox"
)

// Sender is the part of the SendGrid client used here.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Incoming describes one message worth telling the admin about.
type Incoming struct {
	ConversationID model.ID
	Conversation   string
	Sender         string
	Body           string
	At             time.Time
}

type Notifier struct {
	sender Sender
	from   string
	to     string
	quiet  time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu   sync.Mutex
	last map[model.ID]time.Time
	wg   sync.WaitGroup
}

// New returns a notifier sending through SendGrid with apiKey.
func New(apiKey, from, to string, log *slog.Logger) *Notifier {
	return NewWithSender(sendgrid.NewSendClient(apiKey), from, to, log)
}

func NewWithSender(s Sender, from, to string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		sender: s,
		from:   from,
		to:     to,
		quiet:  DefaultQuietPeriod,
		now:    time.Now,
		log:    log.With("component", "notify"),
		last:   make(map[model.ID]time.Time),
	}
}

// SetQuietPeriod changes how often one conversation may trigger an e-mail.
func (n *Notifier) SetQuietPeriod(d time.Duration) { n.quiet = d }

// BuildMail renders the e-mail for in.
func BuildMail(from, to string, in Incoming) *mail.SGMailV3 {
	subject := fmt.Sprintf("New message from %s", in.Sender)
	plain := fmt.Sprintf("%s wrote in %s at %s:\n\n%s",
		in.Sender, in.Conversation, in.At.Format(model.DisplayTimeLayout), in.Body)
	htmlBody := fmt.Sprintf("<p><strong>%s</strong> wrote in <em>%s</em> at %s:</p><blockquote>%s</blockquote>",
		html.EscapeString(in.Sender), html.EscapeString(in.Conversation),
		in.At.Format(model.DisplayTimeLayout), html.EscapeString(in.Body))
	return mail.NewSingleEmail(mail.NewEmail(fromName, from), subject, mail.NewEmail("", to), plain, htmlBody)
}

// Notify sends the e-mail unless the conversation was notified within the
// quiet period. It reports whether an e-mail went out.
func (n *Notifier) Notify(ctx context.Context, in Incoming) (bool, error) {
	now := n.now()
	n.mu.Lock()
	if last, ok := n.last[in.ConversationID]; ok && now.Sub(last) < n.quiet {
		n.mu.Unlock()
		return false, nil
	}
	n.last[in.ConversationID] = now
	n.mu.Unlock()

	resp, err := n.sender.SendWithContext(ctx, BuildMail(n.from, n.to, in))
	if err != nil {
		n.forget(in.ConversationID, now)
		return false, fmt.Errorf("notify: send: %w", err)
	}
	if resp.StatusCode >= 300 {
		n.forget(in.ConversationID, now)
		return false, fmt.Errorf("notify: sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return true, nil
}

// Go sends in the background. Errors are logged.
func (n *Notifier) Go(in Incoming) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		sent, err := n.Notify(ctx, in)
		if err != nil {
			n.log.Warn("notification failed", "conversation", in.ConversationID, "err", err)
			return
		}
		if sent {
			n.log.Info("notification sent", "conversation", in.ConversationID, "to", n.to)
		}
	}()
}

// Wait blocks until background sends have finished.
func (n *Notifier) Wait() { n.wg.Wait() }

func (n *Notifier) forget(id model.ID, at time.Time) {
	n.mu.Lock()
	if n.last[id].Equal(at) {
		delete(n.last, id)
	}
	n.mu.Unlock()
}
