package friends

import (
	"strings"
	"sync"
)

// MutationKey scopes the one-action-at-a-time rule.
type MutationKey string

const (
	userKeyPrefix       = "user:"
	friendshipKeyPrefix = "friendship:"
)

// UserKey locks actions keyed by the target person.
func UserKey(userID string) MutationKey {
	return MutationKey(userKeyPrefix + userID)
}

// FriendshipKey locks actions keyed by an existing edge.
func FriendshipKey(friendshipID string) MutationKey {
	return MutationKey(friendshipKeyPrefix + friendshipID)
}

// ParseMutationKey accepts "user:<id>" or "friendship:<id>".
func ParseMutationKey(raw string) (MutationKey, bool) {
	for _, prefix := range []string{userKeyPrefix, friendshipKeyPrefix} {
		if id, ok := strings.CutPrefix(raw, prefix); ok && id != "" {
			return MutationKey(raw), true
		}
	}
	return "", false
}

// MutationGuard is a client-side in-flight table: at most one outstanding
// mutation per key. It is advisory and does not replace server constraints.
type MutationGuard struct {
	mu   sync.Mutex
	busy map[MutationKey]struct{}
}

// NewMutationGuard returns an empty guard.
func NewMutationGuard() *MutationGuard {
	return &MutationGuard{busy: make(map[MutationKey]struct{})}
}

// Begin marks key busy. It returns false when key is already busy.
func (g *MutationGuard) Begin(key MutationKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return false
	}
	g.busy[key] = struct{}{}
	return true
}

// End releases key.
func (g *MutationGuard) End(key MutationKey) {
	g.mu.Lock()
	delete(g.busy, key)
	g.mu.Unlock()
}

// IsBusy reports whether a mutation on key is outstanding.
func (g *MutationGuard) IsBusy(key MutationKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[key]
	return ok
}

// Busy returns a snapshot of the busy keys.
func (g *MutationGuard) Busy() []MutationKey {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]MutationKey, 0, len(g.busy))
	for k := range g.busy {
		keys = append(keys, k)
	}
	return keys
}
