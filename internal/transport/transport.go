// Package transport defines the push capability the inbox subscribes
// through, and an in-process implementation of it.
package transport

import "encoding/json"

// Handler receives the decoded data of one event.
type Handler func(data json.RawMessage)

// Subscription is a live listener on a channel. Close is idempotent.
type Subscription interface {
	Close() error
}

// Transport delivers named events published on named channels.
type Transport interface {
	Subscribe(channel, event string, h Handler) (Subscription, error)
	// Connected reports whether pushed events are currently flowing.
	Connected() bool
}
