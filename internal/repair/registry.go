package repair

import "sync"

// Factory builds the workspace for a session from its remote API token.
type Factory func(sessionID, token string) *Workspace

// Registry keeps one workspace per signed-in session.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	byID    map[string]*Workspace
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, byID: make(map[string]*Workspace)}
}

// Get returns the session's workspace, creating it on first use.
func (r *Registry) Get(sessionID, token string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.byID[sessionID]; ok {
		return ws
	}
	ws := r.factory(sessionID, token)
	r.byID[sessionID] = ws
	return ws
}

// Drop forgets a session's workspace.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.byID, sessionID)
	r.mu.Unlock()
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
