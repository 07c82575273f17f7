package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bulsupms/pmsinbox/internal/chat"
)

// Hub fans inbox snapshots out to connected WebSocket clients. Only the
// latest snapshot matters, so a burst of changes collapses into one send.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	notify     chan struct{}
	done       chan struct{}
	log        *slog.Logger

	mu      sync.Mutex
	pending []byte

	// Owned by Run.
	clients map[*Client]bool
	last    []byte
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		log:        log.With("component", "console"),
		clients:    make(map[*Client]bool),
	}
}

// Publish queues v for every client. It never blocks, so it can be used as
// the inbox change callback.
func (h *Hub) Publish(v chat.View) {
	payload, err := json.Marshal(wireView{Type: "snapshot", View: v})
	if err != nil {
		h.log.Warn("failed to marshal snapshot", "err", err)
		return
	}
	h.mu.Lock()
	h.pending = payload
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

type wireView struct {
	Type string `json:"type"`
	chat.View
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			if h.last != nil {
				client.send <- h.last
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case <-h.notify:
			h.mu.Lock()
			payload := h.pending
			h.pending = nil
			h.mu.Unlock()
			if payload == nil {
				continue
			}
			h.last = payload
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// slow/broken client → drop
					close(client.send)
					delete(h.clients, client)
					h.log.Info("dropped slow console client", "operator", client.Operator)
				}
			}
		}
	}
}
