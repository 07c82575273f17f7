package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/bulsupms/pmsinbox/internal/chat"
	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/transport"
	"github.com/bulsupms/pmsinbox/internal/users"
)

const tailMessages = 10

// watch follows the inbox in the terminal. Lines typed on stdin are sent to
// the open conversation; /open, /search, /start and /reload drive the rest.
func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	q := fs.String("q", "", "initial search")
	open := fs.String("open", "", "conversation id to open")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	views := make(chan chat.View, 1)
	opts := a.inboxOptions()
	opts.OnChange = func(v chat.View) {
		// keep only the newest view
		select {
		case <-views:
		default:
		}
		views <- v
	}
	opts.OnIncoming = a.onIncoming(nil)
	in := chat.New(a.client, a.newTransport(ctx), a.session, opts)
	go func() { _ = in.Run(ctx) }()
	defer func() {
		cancel()
		<-in.Done()
	}()

	if *q != "" {
		if err := in.Search(ctx, *q); err != nil {
			return err
		}
	}
	if *open != "" {
		if err := in.Open(ctx, model.ID(*open)); err != nil {
			return err
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			render(os.Stdout, v, time.Now())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := command(ctx, in, line); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
	}
}

func command(ctx context.Context, in *chat.Inbox, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := in.Send(ctx, line)
		return err
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "/open":
		return in.Open(ctx, model.ID(rest))
	case "/search":
		return in.Search(ctx, rest)
	case "/reload":
		return in.Reload(ctx)
	case "/start":
		var ids []model.ID
		for _, f := range strings.Fields(rest) {
			ids = append(ids, model.ID(f))
		}
		_, err := in.Start(ctx, ids)
		return err
	default:
		return fmt.Errorf("unknown command %s", verb)
	}
}

func render(w io.Writer, v chat.View, now time.Time) {
	push := "polling"
	if v.PushConnected {
		push = "push"
	}
	fmt.Fprintf(w, "\n── inbox · %s · %s · %d/%s ──\n",
		push, english.Plural(v.Subscriptions, "subscription", ""), len(v.Conversations), english.Plural(v.Total, "conversation", ""))
	if v.SearchTerm != "" {
		fmt.Fprintf(w, "search: %q\n", v.SearchTerm)
	}
	for _, c := range v.Conversations {
		marker := " "
		if c.Active {
			marker = ">"
		}
		line := fmt.Sprintf("%s %-4s %s (%s)", marker, c.ID, c.DisplayName, english.Plural(c.MessageCount, "message", ""))
		if t := displayedTime(c.LastMessageAt); !t.IsZero() {
			line += ", " + humanize.RelTime(t, now, "ago", "from now")
		}
		fmt.Fprintln(w, line)
	}

	if v.Active == nil {
		return
	}
	fmt.Fprintf(w, "── %s ──\n", v.Active.DisplayName)
	msgs := v.Active.Messages
	if len(msgs) > tailMessages {
		fmt.Fprintf(w, "  … %s earlier\n", humanize.Comma(int64(len(msgs)-tailMessages)))
		msgs = msgs[len(msgs)-tailMessages:]
	}
	for _, m := range msgs {
		who := m.SenderLabel
		if m.Mine {
			who = "you"
		}
		fmt.Fprintf(w, "  %s: %s\n", who, m.Body)
	}
	if v.Draft != "" {
		fmt.Fprintf(w, "draft: %s\n", v.Draft)
	}
}

// displayedTime parses a directory timestamp, which is either a backend
// timestamp or one formatted locally for display.
func displayedTime(s string) time.Time {
	if t, err := time.ParseInLocation(model.DisplayTimeLayout, s, time.Local); err == nil {
		return t
	}
	return model.ParseTime(s)
}

// send opens one conversation and posts a message to it.
func (a *app) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: send <conversation-id> <text...>")
	}
	opts := a.inboxOptions()
	opts.DisableAutoOpen = true
	ctx, cancel := context.WithCancel(ctx)
	in := chat.New(a.client, transport.NewBus(false), a.session, opts)
	go func() { _ = in.Run(ctx) }()
	defer func() {
		cancel()
		<-in.Done()
	}()

	if err := in.Open(ctx, model.ID(args[0])); err != nil {
		return err
	}
	m, err := in.Send(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("sent message %s to conversation %s\n", m.ID, args[0])
	return nil
}

// users prints the label of every id given.
func (a *app) users(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errors.New("usage: users <id>...")
	}
	for _, id := range ids {
		label, err := a.labels.Label(ctx, model.ID(id))
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			return err
		}
		fmt.Printf("%s\t%s\n", id, label)
	}
	return nil
}
