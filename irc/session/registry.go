package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live sessions by identifier. Creation connects in the
// background so callers get an id immediately and poll status for readiness.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Create registers a new session under a fresh identifier and starts its
// connection in the background. Connection failures surface through the
// session's status errors, not through this call.
func (r *Registry) Create(cfg Config) *Session {
	s := New(cfg, r.log)
	s.ID = fmt.Sprintf("irc_session_%s", uuid.New().String())

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.Info("session created", "id", s.ID, "server", cfg.Server)
	go func() {
		if err := s.Connect(); err != nil {
			r.log.Error("session connect failed", "id", s.ID, "err", err)
		}
	}()
	return s
}

// Get returns the session for id, or nil if unknown.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Close disconnects and removes the session. Returns false if the id is
// unknown, which includes a second Close of the same id.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.Disconnect()
	r.log.Info("session closed", "id", id)
	return true
}

// ActiveIDs lists the identifiers of all registered sessions, sorted for
// stable output.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll disconnects every session, for shutdown paths.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}
