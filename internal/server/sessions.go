package server

import (
	"context"
	"sync"

	"fitsocial/internal/friends"
	"fitsocial/internal/observability"
)

// SessionRegistry holds one relationship session per signed-in user. Sessions
// are built and started on first use.
type SessionRegistry struct {
	build func(userID string) *friends.Session

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	session *friends.Session
	once    sync.Once
}

// NewSessionRegistry returns an empty registry that builds sessions with build.
func NewSessionRegistry(build func(userID string) *friends.Session) *SessionRegistry {
	return &SessionRegistry{
		build:   build,
		entries: make(map[string]*sessionEntry),
	}
}

// Get returns userID's session, starting it on first use. A failed first load
// leaves the session open with a stale, empty list; callers see it in the snapshot.
func (r *SessionRegistry) Get(ctx context.Context, userID string) *friends.Session {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok {
		entry = &sessionEntry{session: r.build(userID)}
		r.entries[userID] = entry
		observability.ActiveSessions.Inc()
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		if err := entry.session.Start(ctx); err != nil {
			observability.LogAsyncOperationError(ctx, "friends.session_start", err, map[string]interface{}{
				"user_id": userID,
			})
		}
	})
	return entry.session
}

// Peek returns userID's session without creating one.
func (r *SessionRegistry) Peek(userID string) (*friends.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// SignOut tears down userID's session and forgets it. Returns false when the user
// had no session.
func (r *SessionRegistry) SignOut(userID string) bool {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if ok {
		delete(r.entries, userID)
		observability.ActiveSessions.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.session.SignOut()
	return true
}

// CloseAll closes every session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*sessionEntry)
	observability.ActiveSessions.Sub(float64(len(entries)))
	r.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
