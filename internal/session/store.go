// Package session maps conversation fingerprints to upstream conversation
// state. The upstream API threads context server-side via a parent pointer,
// so the store is the single source of truth for which upstream chat a
// client conversation continues and from which message node.
package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultIdleTimeout is how long a session may sit unused before the
	// sweep removes it.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 10 * time.Minute
)

// Session represents one logical end-user conversation.
type Session struct {
	// ConversationKey is the stable fingerprint derived from the first
	// user message.
	ConversationKey string
	// UpstreamChatID is the opaque upstream conversation handle.
	UpstreamChatID string
	// UpstreamParentID points at the last upstream message node. Empty only
	// before the first turn completes.
	UpstreamParentID string
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// LastAccessedAt drives TTL accounting.
	LastAccessedAt time.Time
}

// Store is the keyed session arena. All access goes through its lock; no
// session state leaks into the transformers, which only see snapshots.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout   time.Duration
	sweepInterval time.Duration

	// sizeObserver, when set, is told the session count after every change.
	sizeObserver func(int)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore creates a session store. Non-positive durations fall back to the
// defaults.
func NewStore(idleTimeout, sweepInterval time.Duration) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Store{
		sessions:      make(map[string]*Session),
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// SetSizeObserver registers a callback invoked with the session count after
// every mutation. Used to feed the active-session gauge.
func (s *Store) SetSizeObserver(fn func(int)) {
	s.mu.Lock()
	s.sizeObserver = fn
	s.mu.Unlock()
}

// Resolve looks up a session by key. A session found to be past its idle
// timeout is deleted and reported as not found; there is no lazy
// resurrection. The returned Session is a snapshot copy.
func (s *Store) Resolve(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	if time.Since(sess.LastAccessedAt) > s.idleTimeout {
		delete(s.sessions, key)
		s.notifySizeLocked()
		return Session{}, false
	}
	sess.LastAccessedAt = time.Now()
	return *sess, true
}

// Create inserts a session with no parent pointer yet. An existing entry for
// the same key is overwritten; key collisions imply identical first-user
// message content, so last-writer-wins is acceptable.
func (s *Store) Create(key, upstreamChatID string) Session {
	now := time.Now()
	sess := &Session{
		ConversationKey: key,
		UpstreamChatID:  upstreamChatID,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}

	s.mu.Lock()
	s.sessions[key] = sess
	s.notifySizeLocked()
	s.mu.Unlock()
	return *sess
}

// Advance records the new upstream parent pointer after a completed turn.
// It returns false when the key no longer exists; callers must not treat
// that as fatal, the turn already succeeded for the client.
func (s *Store) Advance(key, newParentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return false
	}
	sess.UpstreamParentID = newParentID
	sess.LastAccessedAt = time.Now()
	return true
}

// Delete removes a session. It reports whether the key existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return false
	}
	delete(s.sessions, key)
	s.notifySizeLocked()
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes every session idle past the timeout and returns how many
// were removed. The sweep only ever removes whole sessions; it never
// partially mutates one.
func (s *Store) Sweep() int {
	cutoff := time.Now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.LastAccessedAt.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		s.notifySizeLocked()
	}
	return removed
}

// StartSweeper launches the background sweep loop. It runs until Close.
func (s *Store) StartSweeper() {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					log.WithFields(log.Fields{
						"removed":   removed,
						"remaining": s.Len(),
					}).Info("session sweep removed expired sessions")
				}
			}
		}
	}()
}

// Close stops the background sweeper. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) notifySizeLocked() {
	if s.sizeObserver != nil {
		s.sizeObserver(len(s.sessions))
	}
}
