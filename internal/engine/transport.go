package engine

import (
	"context"
	"sync"
)

// transportProxy forwards Send calls to whatever dispatcher.Transport was
// last installed via Engine.ListenOn, so the Dispatcher constructed at
// New time never needs a transport swapped underneath it directly.
type transportProxy struct {
	mu sync.RWMutex
	t  interface {
		Send(ctx context.Context, peerID string, payload []byte) error
	}
}

func (p *transportProxy) set(t interface {
	Send(ctx context.Context, peerID string, payload []byte) error
}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t = t
}

func (p *transportProxy) Send(ctx context.Context, peerID string, payload []byte) error {
	p.mu.RLock()
	t := p.t
	p.mu.RUnlock()
	if t == nil {
		return ErrNoTransport
	}
	return t.Send(ctx, peerID, payload)
}
