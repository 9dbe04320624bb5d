package session

import "time"

// Status is the pollable snapshot of one session. It is owned exclusively by
// its session; observers only ever receive copies.
type Status struct {
	Connected         bool      `json:"connected"`
	JoinedChannel     bool      `json:"joinedChannel"`
	LastActivity      time.Time `json:"lastActivity"`
	TotalSearches     int       `json:"totalSearches"`
	TotalDownloads    int       `json:"totalDownloads"`
	Errors            []string  `json:"errors"`
	Nickname          string    `json:"nickname"`
	Server            string    `json:"server"`
	Channel           string    `json:"channel"`
	TLSEnabled        bool      `json:"tlsEnabled"`
	LastSearchQuery   string    `json:"lastSearchQuery,omitempty"`
	LastSearchResults int       `json:"lastSearchResults"`
}

// updateStatus is the single synchronized mutation entry point for a
// session's status.
func (s *Session) updateStatus(mutate func(*Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	mutate(&s.status)
	s.status.LastActivity = time.Now()
}

func (s *Session) recordError(msg string) {
	s.updateStatus(func(st *Status) {
		st.Errors = append(st.Errors, msg)
	})
}

// Status returns an immutable snapshot copy, never a live reference.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	snapshot := s.status
	snapshot.Errors = append([]string(nil), s.status.Errors...)
	return snapshot
}
