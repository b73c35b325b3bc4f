// Package memory provides in-memory store implementations for
// development and testing. Semantics mirror the Postgres stores:
// conflict-free inserts and monotonic status transitions.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/user/crawlbridge/internal/bridge"
)

// SessionStore keeps crawl sessions in a mutex-protected map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]bridge.CrawlSession
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]bridge.CrawlSession),
	}
}

// CreateIfAbsent inserts the session unless the job id is already present.
func (s *SessionStore) CreateIfAbsent(_ context.Context, session bridge.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.JobID]; exists {
		return nil
	}
	s.sessions[session.JobID] = session
	return nil
}

// IncrementPage bumps the completed or failed counter for the session.
func (s *SessionStore) IncrementPage(_ context.Context, jobID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[jobID]
	if !ok {
		return bridge.ErrNotFound
	}
	// Counters saturate at total_urls when the total is known.
	if session.TotalURLs > 0 && session.CompletedURLs+session.FailedURLs >= session.TotalURLs {
		return nil
	}
	if success {
		session.CompletedURLs++
	} else {
		session.FailedURLs++
	}
	s.sessions[jobID] = session
	return nil
}

// ConvertPageToFailed flips one completed page to failed, keeping the
// counter sum unchanged. Returns false when there is no completed page
// to take from.
func (s *SessionStore) ConvertPageToFailed(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[jobID]
	if !ok {
		return false, bridge.ErrNotFound
	}
	if session.CompletedURLs == 0 {
		return false, nil
	}
	session.CompletedURLs--
	session.FailedURLs++
	s.sessions[jobID] = session
	return true, nil
}

// Finalize records the terminal status once. Returns false when the
// session is already terminal.
func (s *SessionStore) Finalize(
	_ context.Context,
	jobID string,
	status bridge.SessionStatus,
	success bool,
	completedAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[jobID]
	if !ok {
		return false, bridge.ErrNotFound
	}
	if session.Status.Terminal() {
		return false, nil
	}
	session.Status = status
	session.Success = success
	session.CompletedAt = &completedAt
	s.sessions[jobID] = session
	return true, nil
}

// SetTimings stores the aggregate stage timings.
func (s *SessionStore) SetTimings(_ context.Context, jobID string, timings bridge.StageTimings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[jobID]
	if !ok {
		return bridge.ErrNotFound
	}
	session.Timings = timings
	s.sessions[jobID] = session
	return nil
}

// Get loads a session or returns bridge.ErrNotFound.
func (s *SessionStore) Get(_ context.Context, jobID string) (bridge.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[jobID]
	if !ok {
		return bridge.CrawlSession{}, bridge.ErrNotFound
	}
	return session, nil
}
