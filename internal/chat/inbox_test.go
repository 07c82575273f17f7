package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulsupms/pmsinbox/internal/model"
	"github.com/bulsupms/pmsinbox/internal/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeBackend struct {
	mu      sync.Mutex
	convs   []*model.Conversation
	details map[model.ID]*model.ConversationDetail
	queries []string
	sent    []string
	sendErr error
	// gate, when set, holds GetConversation until it is closed.
	gate chan struct{}

	lists atomic.Int32
	gets  atomic.Int32
}

func newFakeBackend(convs ...*model.Conversation) *fakeBackend {
	return &fakeBackend{convs: convs, details: map[model.ID]*model.ConversationDetail{}}
}

func (f *fakeBackend) ListConversations(ctx context.Context, q string) ([]*model.Conversation, error) {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	out := make([]*model.Conversation, 0, len(f.convs))
	for _, c := range f.convs {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (f *fakeBackend) GetConversation(ctx context.Context, id model.ID) (*model.ConversationDetail, error) {
	f.gets.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *d
	cp.Messages = append([]model.Message(nil), d.Messages...)
	return &cp, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, id model.ID, body string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, body)
	return &model.Message{ID: model.ID("s" + body), Body: body, Sender: &model.Participant{ID: "1"}, CreatedAt: "2026-03-01T08:00:00Z"}, nil
}

func (f *fakeBackend) StartConversation(ctx context.Context, userIDs []model.ID) (*model.Conversation, error) {
	c := &model.Conversation{ID: "99", Participants: []model.Participant{{ID: "1"}, {ID: userIDs[0], Name: "New Guard"}}}
	f.mu.Lock()
	f.details["99"] = &model.ConversationDetail{Conversation: *c}
	f.mu.Unlock()
	return c, nil
}

func (f *fakeBackend) setDetail(id model.ID, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[id] = &model.ConversationDetail{Conversation: model.Conversation{ID: id}, Messages: msgs}
}

func (f *fakeBackend) queriesSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func startInbox(t *testing.T, b Backend, tr transport.Transport, opts Options) *Inbox {
	t.Helper()
	in := New(b, tr, model.Session{ID: "1", Email: "admin@bulsu.edu.ph"}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = in.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-in.Done()
	})
	return in
}

func snapshot(t *testing.T, in *Inbox) View {
	t.Helper()
	v, err := in.Snapshot(context.Background())
	require.NoError(t, err)
	return v
}

func conversations() []*model.Conversation {
	return []*model.Conversation{
		{ID: "1", MessageCount: 1, Participants: []model.Participant{{ID: "1", Name: "Admin"}, {ID: "2", Name: "Juan Dela Cruz"}}},
		{ID: "2", MessageCount: 0, Title: "Security Desk"},
	}
}

func TestInboxSubscribesEachConversationOnce(t *testing.T) {
	b := newFakeBackend(conversations()...)
	bus := transport.NewBus(true)
	in := startInbox(t, b, bus, Options{DisableAutoOpen: true})

	assert.Eventually(t, func() bool { return snapshot(t, in).Subscriptions == 2 }, waitFor, tick)
	require.NoError(t, in.Reload(context.Background()))
	require.NoError(t, in.Reload(context.Background()))
	assert.Eventually(t, func() bool { return b.lists.Load() >= 3 }, waitFor, tick)

	_ = snapshot(t, in)
	assert.Equal(t, 1, bus.Listeners(ChannelName("1")))
	assert.Equal(t, 1, bus.Listeners(ChannelName("2")))
}

func TestInboundMessageAppendedOnce(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1", model.Message{ID: "10", Body: "hello", Sender: &model.Participant{ID: "2"}})
	bus := transport.NewBus(true)
	in := startInbox(t, b, bus, Options{})

	assert.Eventually(t, func() bool { return snapshot(t, in).Subscriptions == 2 }, waitFor, tick)
	require.NoError(t, in.Open(context.Background(), "1"))

	m := model.Message{ID: "11", Body: "gate 2 is jammed", Sender: &model.Participant{ID: "2", Name: "Juan Dela Cruz"}}
	for i := 0; i < 2; i++ {
		_, err := bus.Publish(ChannelName("1"), EventMessageSent, map[string]any{"message": m})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return snapshot(t, in).Conversations[0].MessageCount == 3 }, waitFor, tick)
	v := snapshot(t, in)
	require.NotNil(t, v.Active)
	require.Len(t, v.Active.Messages, 2)
	assert.Equal(t, model.ID("11"), v.Active.Messages[1].ID)
	assert.Equal(t, "Juan Dela Cruz", v.Active.Messages[1].SenderLabel)
	assert.False(t, v.Active.Messages[1].Mine)
	assert.NotEmpty(t, v.Conversations[0].LastMessageAt)
}

func TestAutoOpenIsDebounced(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("2")
	gate := make(chan struct{})
	b.gate = gate
	bus := transport.NewBus(true)
	in := startInbox(t, b, bus, Options{})

	assert.Eventually(t, func() bool { return snapshot(t, in).Subscriptions == 2 }, waitFor, tick)
	for _, id := range []string{"20", "21"} {
		_, err := bus.Publish(ChannelName("2"), EventMessageSent, model.Message{ID: model.ID(id), Body: "plate ABC 123"})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return snapshot(t, in).Conversations[1].MessageCount == 2 }, waitFor, tick)
	close(gate)

	assert.Eventually(t, func() bool {
		v := snapshot(t, in)
		return v.Active != nil && v.Active.ID == "2"
	}, waitFor, tick)
	assert.Equal(t, int32(1), b.gets.Load())
}

func TestAutoOpenDisabled(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("2")
	bus := transport.NewBus(true)
	var incoming atomic.Int32
	in := startInbox(t, b, bus, Options{
		DisableAutoOpen: true,
		OnIncoming:      func(model.ID, model.Message, bool) { incoming.Add(1) },
	})

	assert.Eventually(t, func() bool { return snapshot(t, in).Subscriptions == 2 }, waitFor, tick)
	_, err := bus.Publish(ChannelName("2"), EventMessageSent, model.Message{ID: "30"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return incoming.Load() == 1 }, waitFor, tick)
	assert.Nil(t, snapshot(t, in).Active)
	assert.Equal(t, int32(0), b.gets.Load())
}

func TestPendingOpenBlocksAutoOpen(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1", model.Message{ID: "1"})
	b.setDetail("2")
	gate := make(chan struct{})
	b.gate = gate
	bus := transport.NewBus(true)
	in := startInbox(t, b, bus, Options{})
	assert.Eventually(t, func() bool { return snapshot(t, in).Subscriptions == 2 }, waitFor, tick)

	opened := make(chan error, 1)
	go func() { opened <- in.Open(context.Background(), "1") }()
	assert.Eventually(t, func() bool { return b.gets.Load() == 1 }, waitFor, tick)

	_, err := bus.Publish(ChannelName("2"), EventMessageSent, model.Message{ID: "40", Body: "lot C is full"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return snapshot(t, in).Conversations[1].MessageCount == 1 }, waitFor, tick)
	close(gate)

	select {
	case err := <-opened:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("open did not return")
	}
	v := snapshot(t, in)
	require.NotNil(t, v.Active)
	assert.Equal(t, model.ID("1"), v.Active.ID)
	assert.Equal(t, int32(1), b.gets.Load())
}

func TestOverlappingOpensReportSuperseded(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1")
	b.setDetail("2")
	gate := make(chan struct{})
	b.gate = gate
	in := startInbox(t, b, transport.NewBus(true), Options{})

	first := make(chan error, 1)
	go func() { first <- in.Open(context.Background(), "1") }()
	assert.Eventually(t, func() bool { return b.gets.Load() == 1 }, waitFor, tick)
	second := make(chan error, 1)
	go func() { second <- in.Open(context.Background(), "2") }()
	assert.Eventually(t, func() bool { return b.gets.Load() == 2 }, waitFor, tick)
	close(gate)

	assert.ErrorIs(t, <-first, ErrSuperseded)
	assert.NoError(t, <-second)
	v := snapshot(t, in)
	require.NotNil(t, v.Active)
	assert.Equal(t, model.ID("2"), v.Active.ID)
}

func TestSendFailureRestoresDraft(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1")
	b.sendErr = errors.New("503 service unavailable")
	in := startInbox(t, b, transport.NewBus(true), Options{})

	ctx := context.Background()
	require.NoError(t, in.Open(ctx, "1"))
	require.NoError(t, in.SetDraft(ctx, "hello"))

	_, err := in.Send(ctx, "hello")
	require.Error(t, err)

	v := snapshot(t, in)
	assert.Equal(t, "hello", v.Draft)
	require.NotNil(t, v.Active)
	for _, m := range v.Active.Messages {
		assert.NotEmpty(t, m.ID)
	}
	assert.Empty(t, v.Active.Messages)
}

func TestSendAppendsServerMessage(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1")
	in := startInbox(t, b, transport.NewBus(true), Options{})

	ctx := context.Background()
	_, err := in.Send(ctx, "hi")
	assert.ErrorIs(t, err, ErrNoActive)

	require.NoError(t, in.Open(ctx, "1"))
	_, err = in.Send(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	m, err := in.Send(ctx, " on my way ")
	require.NoError(t, err)
	assert.Equal(t, "on my way", m.Body)

	v := snapshot(t, in)
	require.Len(t, v.Active.Messages, 1)
	assert.True(t, v.Active.Messages[0].Mine)
	assert.Empty(t, v.Draft)
}

func TestPollSuppressedWhilePushConnected(t *testing.T) {
	b := newFakeBackend(conversations()...)
	in := startInbox(t, b, transport.NewBus(true), Options{PollInterval: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return snapshot(t, in).Total == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return b.lists.Load() > 1 }, 150*time.Millisecond, tick)
}

func TestPollReplacesActiveWhilePushDown(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1", model.Message{ID: "1"})
	bus := transport.NewBus(false)
	in := startInbox(t, b, bus, Options{PollInterval: 10 * time.Millisecond})

	require.NoError(t, in.Open(context.Background(), "1"))
	assert.Eventually(t, func() bool { return b.lists.Load() >= 3 }, waitFor, tick)

	b.setDetail("1", model.Message{ID: "1"}, model.Message{ID: "2"})
	assert.Eventually(t, func() bool {
		v := snapshot(t, in)
		return v.Active != nil && len(v.Active.Messages) == 2
	}, waitFor, tick)

	bus.SetConnected(true)
	time.Sleep(30 * time.Millisecond)
	settled := b.lists.Load()
	assert.Never(t, func() bool { return b.lists.Load() > settled+1 }, 100*time.Millisecond, tick)
}

func TestPollTickSkippedWhileCycleInFlight(t *testing.T) {
	b := newFakeBackend(conversations()...)
	b.setDetail("1", model.Message{ID: "1"})
	in := startInbox(t, b, transport.NewBus(false), Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, in.Open(context.Background(), "1"))

	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()
	base := b.gets.Load()

	assert.Eventually(t, func() bool { return b.gets.Load() > base }, waitFor, tick)
	held := b.gets.Load()
	assert.Never(t, func() bool { return b.gets.Load() > held }, 200*time.Millisecond, tick)

	b.mu.Lock()
	b.gate = nil
	b.mu.Unlock()
	close(gate)
	assert.Eventually(t, func() bool { return b.gets.Load() > held }, waitFor, tick)
}

func TestSearchFiltersAndDebouncesQuery(t *testing.T) {
	convs := append(conversations(), &model.Conversation{
		ID: "3", Participants: []model.Participant{{ID: "4", Email: "maria.santos@example.com"}},
	})
	b := newFakeBackend(convs...)
	in := startInbox(t, b, transport.NewBus(true), Options{SearchDebounce: 20 * time.Millisecond})

	assert.Eventually(t, func() bool { return snapshot(t, in).Total == 3 }, waitFor, tick)
	require.NoError(t, in.Search(context.Background(), "maria santos"))

	v := snapshot(t, in)
	assert.Equal(t, "maria santos", v.SearchTerm)
	require.Len(t, v.Conversations, 1)
	assert.Equal(t, model.ID("3"), v.Conversations[0].ID)

	assert.Eventually(t, func() bool { return snapshot(t, in).Query == "maria santos" }, waitFor, tick)
	assert.Eventually(t, func() bool {
		n := 0
		for _, q := range b.queriesSeen() {
			if q == "maria santos" {
				n++
			}
		}
		return n == 2
	}, waitFor, tick)
}

func TestSearchEnrichesParticipantlessResults(t *testing.T) {
	b := newFakeBackend(&model.Conversation{ID: "5", MessageCount: 2})
	b.details["5"] = &model.ConversationDetail{Conversation: model.Conversation{
		ID: "5", Participants: []model.Participant{{ID: "1"}, {ID: "6", FullName: "Ana Reyes"}},
	}}
	in := startInbox(t, b, transport.NewBus(true), Options{SearchDebounce: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return snapshot(t, in).Total == 1 }, waitFor, tick)
	require.NoError(t, in.Search(context.Background(), "ana"))

	assert.Eventually(t, func() bool {
		v := snapshot(t, in)
		return len(v.Conversations) == 1 && v.Conversations[0].DisplayName == "Ana Reyes"
	}, waitFor, tick)
}

func TestDuplicateNamesAreDisambiguated(t *testing.T) {
	b := newFakeBackend(
		&model.Conversation{ID: "1", Title: "Juan", FirstMessageAt: "2026-01-05T10:00:00Z"},
		&model.Conversation{ID: "2", Title: "Juan"},
		&model.Conversation{ID: "3", Title: "Ana"},
	)
	in := startInbox(t, b, transport.NewBus(true), Options{})

	assert.Eventually(t, func() bool { return snapshot(t, in).Total == 3 }, waitFor, tick)
	v := snapshot(t, in)
	assert.Equal(t, "Juan · Jan 5, 2026", v.Conversations[0].DisplayName)
	assert.Equal(t, "Juan · #2", v.Conversations[1].DisplayName)
	assert.Equal(t, "Ana", v.Conversations[2].DisplayName)
	assert.False(t, v.Conversations[2].Duplicate)
}

func TestStartAddsAndOpens(t *testing.T) {
	b := newFakeBackend(conversations()...)
	bus := transport.NewBus(true)
	in := startInbox(t, b, bus, Options{})

	c, err := in.Start(context.Background(), []model.ID{"8"})
	require.NoError(t, err)
	assert.Equal(t, model.ID("99"), c.ID)

	v := snapshot(t, in)
	require.NotNil(t, v.Active)
	assert.Equal(t, "New Guard", v.Active.DisplayName)
	assert.Equal(t, 1, bus.Listeners(ChannelName("99")))
}

func TestTeardownClosesEverything(t *testing.T) {
	b := newFakeBackend(conversations()...)
	bus := transport.NewBus(true)
	in := New(b, bus, model.Session{ID: "1"}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = in.Run(ctx) }()

	assert.Eventually(t, func() bool { return bus.Listeners(ChannelName("1")) == 1 }, waitFor, tick)
	cancel()
	<-in.Done()

	assert.Equal(t, 0, bus.Listeners(ChannelName("1")))
	assert.Equal(t, 0, bus.Listeners(ChannelName("2")))
	_, err := in.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, in.Run(context.Background()), ErrRunning)

	n, err := bus.Publish(ChannelName("1"), EventMessageSent, model.Message{ID: "1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
