package transport

import (
	"encoding/json"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("transport: bus closed")

// Bus is an in-process Transport. It backs the offline mode of the console
// (never connected, so the poller drives everything) and the tests.
type Bus struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	nextID    int
	// channel -> subscription id -> listener
	channels map[string]map[int]*busSub
	subscribeErr error
}

type busSub struct {
	bus     *Bus
	id      int
	channel string
	event   string
	handler Handler
	once    sync.Once
}

func NewBus(connected bool) *Bus {
	return &Bus{
		connected: connected,
		channels:  make(map[string]map[int]*busSub),
	}
}

func (b *Bus) Subscribe(channel, event string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.nextID++
	s := &busSub{bus: b, id: b.nextID, channel: channel, event: event, handler: h}
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[int]*busSub)
	}
	b.channels[channel][s.id] = s
	return s, nil
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && !b.closed
}

func (b *Bus) SetConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// FailSubscribe makes Subscribe return err until it is called with nil.
func (b *Bus) FailSubscribe(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

// Publish delivers data to every listener of event on channel and returns
// how many listeners received it.
func (b *Bus) Publish(channel, event string, data any) (int, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	var targets []*busSub
	for _, s := range b.channels[channel] {
		if s.event == event {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.handler(payload)
	}
	return len(targets), nil
}

// Listeners returns the number of live subscriptions on channel.
func (b *Bus) Listeners(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}

// Close drops every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.channels = make(map[string]map[int]*busSub)
	b.mu.Unlock()
}

func (s *busSub) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.channels[s.channel]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(b.channels, s.channel)
			}
		}
	})
	return nil
}
