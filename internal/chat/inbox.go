// Package chat is the admin inbox: the conversation directory, one push
// subscription per conversation, the polling fallback and the open
// conversation with its send path.
//
// An Inbox owns all of its state on a single goroutine started by Run.
// Network calls run elsewhere and post their results back to it.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/transport"
	"github.com/bulsupms/pmsinbox/internal/utils"
)

var (
	ErrNoActive     = errors.New("chat: no conversation is open")
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrClosed       = errors.New("chat: inbox closed")
	ErrRunning      = errors.New("chat: inbox already running")
	ErrSuperseded   = errors.New("chat: superseded by a later open")
)

// Backend is the REST surface the inbox needs. *api.Client implements it.
type Backend interface {
	ListConversations(ctx context.Context, q string) ([]*model.Conversation, error)
	GetConversation(ctx context.Context, id model.ID) (*model.ConversationDetail, error)
	SendMessage(ctx context.Context, id model.ID, body string) (*model.Message, error)
	StartConversation(ctx context.Context, userIDs []model.ID) (*model.Conversation, error)
}

// Labeler returns a cached label for a user id without blocking.
type Labeler interface {
	Cached(id model.ID) (string, bool)
}

type Options struct {
	PollInterval   time.Duration
	SearchDebounce time.Duration
	// AutoOpenWindow is how long an auto-opened conversation id is not
	// auto-opened again.
	AutoOpenWindow  time.Duration
	DisableAutoOpen bool
	// EnrichLimit bounds how many participant-less search results get
	// their detail fetched.
	EnrichLimit int
	Logger      *slog.Logger
	Labels      Labeler
	Now         func() time.Time

	// OnChange receives a fresh view after every state change. It runs on
	// the inbox goroutine and must not block or call back into the Inbox.
	OnChange func(View)
	// OnIncoming is called for every pushed message, with open reporting
	// whether it landed in the open conversation. Same rules as OnChange.
	OnIncoming func(cid model.ID, m model.Message, open bool)
}

const (
	DefaultPollInterval   = 3 * time.Second
	DefaultSearchDebounce = 300 * time.Millisecond
	DefaultAutoOpenWindow = 3 * time.Second
	DefaultEnrichLimit    = 10

	enrichConcurrency = 4
)

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SearchDebounce <= 0 {
		o.SearchDebounce = DefaultSearchDebounce
	}
	if o.AutoOpenWindow <= 0 {
		o.AutoOpenWindow = DefaultAutoOpenWindow
	}
	if o.EnrichLimit <= 0 {
		o.EnrichLimit = DefaultEnrichLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type autoOpen struct {
	id model.ID
	at time.Time
}

type Inbox struct {
	backend Backend
	tr      transport.Transport
	opts    Options
	log     *slog.Logger

	ops     chan func()
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool

	// Owned by the Run goroutine.
	state        State
	subs         *Subscriptions
	issued       uint64
	polling      bool
	lastAutoOpen autoOpen
	// userOpen is the generation of the Open call in flight, 0 if none.
	userOpen uint64
	query        *utils.Debouncer[string]
}

func New(b Backend, tr transport.Transport, session model.Session, opts Options) *Inbox {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	in := &Inbox{
		backend: b,
		tr:      tr,
		opts:    opts,
		log:     opts.Logger.With("component", "inbox"),
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	in.state.Session = session
	in.subs = NewSubscriptions(tr, in.handlerFor, in.log)
	in.query = utils.NewDebouncer(opts.SearchDebounce, func(q string) {
		in.post(func() { in.applyQuery(q) })
	})
	return in
}

// Run loads the directory and serves the inbox until ctx is done. All
// subscriptions are closed and the poll timer stopped before it returns.
func (in *Inbox) Run(ctx context.Context) error {
	if !in.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ticker := time.NewTicker(in.opts.PollInterval)
	defer func() {
		ticker.Stop()
		in.query.Stop()
		in.subs.CloseAll()
		in.cancel()
		close(in.done)
		in.log.Info("inbox stopped")
	}()

	in.log.Info("inbox started", "user", in.state.Session.ID, "poll", in.opts.PollInterval)
	in.load(in.state.Query)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-in.ops:
			fn()
		case <-ticker.C:
			in.pollTick()
		}
	}
}

// Done is closed once Run has returned.
func (in *Inbox) Done() <-chan struct{} { return in.done }

// post queues fn for the inbox goroutine. It reports false once the inbox
// has stopped.
func (in *Inbox) post(fn func()) bool {
	select {
	case <-in.done:
		return false
	default:
	}
	select {
	case in.ops <- fn:
		return true
	case <-in.done:
		return false
	}
}

// do runs fn on the inbox goroutine and waits for it.
func (in *Inbox) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case in.ops <- wrapped:
	case <-in.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-in.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Inbox) changed() {
	if in.opts.OnChange != nil {
		in.opts.OnChange(in.view())
	}
}

// Snapshot returns the current view.
func (in *Inbox) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := in.do(ctx, func() { v = in.view() })
	return v, err
}

func (in *Inbox) Session() model.Session { return in.state.Session }
