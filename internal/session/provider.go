// Package session holds per-user, in-memory session state: who is signed in
// and the unread badge counts derived for them.
package session

import (
	"sync"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// State is the authentication state of a session.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every state change.
type Event struct {
	State     State
	Principal *models.Principal
}

// Provider tracks the signed-in principal. It starts Unknown and moves to
// Authenticated or Unauthenticated on auth events. Once Unauthenticated it
// only leaves that state through a fresh Authenticate.
type Provider struct {
	mu        sync.Mutex
	state     State
	principal *models.Principal
	listeners map[int]func(Event)
	nextID    int
	closed    bool
}

// NewProvider returns a provider in the Unknown state.
func NewProvider() *Provider {
	return &Provider{listeners: map[int]func(Event){}}
}

// State returns the current state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Principal returns the signed-in principal when authenticated.
func (p *Provider) Principal() (models.Principal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAuthenticated || p.principal == nil {
		return models.Principal{}, false
	}
	return *p.principal, true
}

// Authenticate records an accepted credential. Re-authenticating the same
// principal does not notify.
func (p *Provider) Authenticate(principal models.Principal) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.state == StateAuthenticated && p.principal != nil && *p.principal == principal {
		p.mu.Unlock()
		return
	}
	pr := principal
	p.state = StateAuthenticated
	p.principal = &pr
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	notify(listeners, Event{State: StateAuthenticated, Principal: &pr})
}

// SignOut moves to Unauthenticated (logout, expired or rejected credentials).
func (p *Provider) SignOut() {
	p.mu.Lock()
	if p.closed || p.state == StateUnauthenticated {
		p.mu.Unlock()
		return
	}
	p.state = StateUnauthenticated
	p.principal = nil
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	notify(listeners, Event{State: StateUnauthenticated})
}

// Subscribe registers fn and immediately calls it with the current state.
// The returned function unsubscribes.
func (p *Provider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := Event{State: p.state}
	if p.principal != nil {
		pr := *p.principal
		current.Principal = &pr
	}
	p.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Close drops every listener; further events are ignored.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.listeners = map[int]func(Event){}
	p.mu.Unlock()
}

func (p *Provider) snapshotListeners() []func(Event) {
	out := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
