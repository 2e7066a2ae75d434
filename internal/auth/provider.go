// Package auth defines the identity-provider boundary. The concrete
// provider is external; the sync core only needs the current user id and
// login/logout transitions.
package auth

import "sync"

// Provider supplies the authenticated user and session lifecycle events.
type Provider interface {
	// CurrentUser returns the user id and whether a session is active.
	CurrentUser() (string, bool)

	// OnAuthChange registers a callback invoked on login (loggedIn=true)
	// and logout (loggedIn=false). It returns an unsubscribe function.
	OnAuthChange(fn func(userID string, loggedIn bool)) func()
}

// StaticProvider is a Provider driven programmatically, used by embedders
// that manage sessions themselves and by tests.
type StaticProvider struct {
	mu       sync.Mutex
	userID   string
	loggedIn bool
	subs     map[int]func(string, bool)
	nextID   int
}

// NewStaticProvider creates a logged-out StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{subs: make(map[int]func(string, bool))}
}

// CurrentUser returns the user id and whether a session is active.
func (p *StaticProvider) CurrentUser() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.loggedIn
}

// OnAuthChange registers a transition callback.
func (p *StaticProvider) OnAuthChange(fn func(userID string, loggedIn bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Login activates a session for userID and notifies subscribers. A login
// while another user is active emits that user's logout first so sync
// state is never shared across identities.
func (p *StaticProvider) Login(userID string) {
	p.mu.Lock()
	var callbacks []func()
	if p.loggedIn && p.userID != userID {
		prev := p.userID
		for _, fn := range p.subs {
			fn := fn
			callbacks = append(callbacks, func() { fn(prev, false) })
		}
	}
	p.userID = userID
	p.loggedIn = true
	for _, fn := range p.subs {
		fn := fn
		callbacks = append(callbacks, func() { fn(userID, true) })
	}
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Logout ends the current session and notifies subscribers.
func (p *StaticProvider) Logout() {
	p.mu.Lock()
	if !p.loggedIn {
		p.mu.Unlock()
		return
	}
	userID := p.userID
	p.userID = ""
	p.loggedIn = false
	var callbacks []func()
	for _, fn := range p.subs {
		fn := fn
		callbacks = append(callbacks, func() { fn(userID, false) })
	}
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
