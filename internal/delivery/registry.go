// Package delivery routes asynchronous results back to the surface that owns
// a session. A research run can finish minutes after the turn that started
// it, when no request is waiting; the registry maps session-key prefixes
// ("telegram:", "task:") to handlers that can still reach the user.
package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/user/deepscout/internal/types"
)

// Handler pushes one message to a session's surface. kind is one of the
// gateway message kinds (assistant, question, report, notice, error); how it
// renders is the surface's business.
type Handler func(sessionKey types.SessionKey, kind, text string) error

// Registry routes messages to delivery handlers by session-key prefix.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for session keys starting with prefix. Registering
// the same prefix again replaces the handler.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver routes the message to the handler with the longest matching
// prefix. Returns an error when no registered prefix matches.
func (r *Registry) Deliver(sessionKey types.SessionKey, kind, text string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	var matched Handler
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(string(sessionKey), prefix) && len(prefix) > len(best) {
			best = prefix
			matched = handler
		}
	}
	if matched == nil {
		return fmt.Errorf("no delivery handler for session key %q", sessionKey)
	}
	return matched(sessionKey, kind, text)
}
