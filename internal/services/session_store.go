package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"district-insights/internal/predictor"
	"district-insights/pkg/logging"
	"district-insights/pkg/metrics"
)

// ClientFactory creates the backend client of a new session
type ClientFactory func() (predictor.Service, error)

// SessionStore keeps the live sessions and expires idle ones
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl       time.Duration
	limit     int
	newClient ClientFactory
	now       func() time.Time
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewSessionStore creates a store whose sessions expire after ttl of inactivity
func NewSessionStore(ttl time.Duration, newClient ClientFactory, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*Session),
		ttl:       ttl,
		newClient: newClient,
		now:       time.Now,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Get returns a live session and refreshes its idle timer
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if s.expired(sess) {
		s.remove(id)
		return nil, false
	}
	sess.touch(s.now())
	return sess, true
}

// Create starts a new session with its own backend client
func (s *SessionStore) Create() (*Session, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	sess := NewSession(uuid.NewString(), client, s.metrics)
	sess.touch(s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	var evict string
	if s.limit > 0 && len(s.sessions) > s.limit {
		evict = s.leastRecentLocked(sess.ID)
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if evict != "" {
		s.remove(evict)
		s.logger.Debug(context.Background(), "[SESSION_EVICT] Session limit reached, idlest session dropped", logging.Fields{
			"limit": s.limit,
		})
		return sess, nil
	}
	s.metrics.ActiveSessions.Set(float64(n))
	return sess, nil
}

// SetLimit caps the number of live sessions. Creating one past the cap drops
// the session idle the longest. Zero means no cap.
func (s *SessionStore) SetLimit(n int) {
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
}

func (s *SessionStore) leastRecentLocked(except string) string {
	var (
		oldest   string
		oldestAt time.Time
	)
	for id, sess := range s.sessions {
		if id == except {
			continue
		}
		if at := sess.idleSince(); oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = id, at
		}
	}
	return oldest
}

// GetOrCreate returns the session for id, or a new one when id is unknown
// or expired. created reports which.
func (s *SessionStore) GetOrCreate(id string) (sess *Session, created bool, err error) {
	if id != "" {
		if sess, ok := s.Get(id); ok {
			return sess, false, nil
		}
	}
	sess, err = s.Create()
	return sess, err == nil, err
}

// Len returns the number of tracked sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops every session idle for longer than the TTL and returns how
// many were removed
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if s.expired(sess) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.remove(id)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is cancelled
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug(ctx, "[SESSION_SWEEP] Expired sessions removed", logging.Fields{
					"removed": n,
					"active":  s.Len(),
				})
			}
		}
	}
}

func (s *SessionStore) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.idleSince()) > s.ttl
}

func (s *SessionStore) remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return
	}
	if c, ok := sess.client.(interface{ Close() }); ok {
		c.Close()
	}
	s.metrics.ActiveSessions.Set(float64(n))
}

// SetClock replaces the time source, for tests
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}
