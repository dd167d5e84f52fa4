package notify

import (
	"context"
	"fmt"
	"sync"
)

// Registry routes messages to senders by channel name.
type Registry struct {
	mu             sync.RWMutex
	senders        map[string]Sender
	defaultChannel string
}

// NewRegistry creates a registry with the given fallback channel.
func NewRegistry(defaultChannel string) *Registry {
	return &Registry{
		senders:        make(map[string]Sender),
		defaultChannel: defaultChannel,
	}
}

// Register adds a sender under its own name.
func (r *Registry) Register(sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[sender.Name()] = sender
}

// Dispatch delivers msg through the sender for channel, falling back to
// the default channel when the requested one is unknown.
func (r *Registry) Dispatch(ctx context.Context, channel string, msg Message) error {
	r.mu.RLock()
	sender, ok := r.senders[channel]
	if !ok {
		sender, ok = r.senders[r.defaultChannel]
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender.Send(ctx, msg)
}
