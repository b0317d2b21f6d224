package friends

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fitsocial/internal/models"
)

// memoryStore is an in-process Store honoring the owner filters.
type memoryStore struct {
	mu       sync.Mutex
	edges    []models.Friendship
	profiles map[string]models.ProfileSummary
	nextID   int
	clock    time.Time

	queryEdgesErr    error
	queryProfilesErr error
	insertErr        error

	queryEdgesCalls int
	insertCalls     int
	deleteCalls     int
	updateCalls     int
	searchTerms     []string
	lastOwner       models.OwnerFilter
	lastUpdate      models.EdgeUpdate

	// block, when set, is waited on inside mutations.
	block chan struct{}
}

func newMemoryStore(profiles ...models.ProfileSummary) *memoryStore {
	s := &memoryStore{
		profiles: make(map[string]models.ProfileSummary),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func profile(id, username, fullName string) models.ProfileSummary {
	p := models.ProfileSummary{ID: id}
	if username != "" {
		p.Username = &username
	}
	if fullName != "" {
		p.FullName = &fullName
	}
	return p
}

func (s *memoryStore) seed(edges ...models.Friendship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		if e.CreatedAt.IsZero() {
			s.clock = s.clock.Add(time.Minute)
			e.CreatedAt = s.clock
		}
		s.edges = append(s.edges, e)
	}
}

func (s *memoryStore) QueryEdges(_ context.Context, userID string) ([]models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryEdgesCalls++
	if s.queryEdgesErr != nil {
		return nil, s.queryEdgesErr
	}
	var out []models.Friendship
	for _, e := range s.edges {
		if e.Involves(userID) {
			e.Requester, e.Addressee = nil, nil
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) QueryProfiles(_ context.Context, ids []string) ([]models.ProfileSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryProfilesErr != nil {
		return nil, s.queryProfilesErr
	}
	var out []models.ProfileSummary
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) SearchProfiles(_ context.Context, term, excludeID string, limit int) ([]models.ProfileSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchTerms = append(s.searchTerms, term)
	var out []models.ProfileSummary
	for _, p := range s.profiles {
		if p.ID == excludeID {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(p.DisplayName()), strings.ToLower(term)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) wait() {
	if s.block != nil {
		<-s.block
	}
}

func (s *memoryStore) InsertEdge(_ context.Context, requesterID, addresseeID string) (*models.Friendship, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.nextID++
	s.clock = s.clock.Add(time.Minute)
	edge := models.Friendship{
		ID:          "f" + strconv.Itoa(s.nextID),
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      models.FriendshipStatusPending,
		CreatedAt:   s.clock,
	}
	s.edges = append(s.edges, edge)
	return &edge, nil
}

func ownerMatches(e models.Friendship, owner models.OwnerFilter) bool {
	if owner.Status != "" && e.Status != owner.Status {
		return false
	}
	switch owner.Role {
	case models.OwnerRequester:
		return e.RequesterID == owner.UserID
	case models.OwnerAddressee:
		return e.AddresseeID == owner.UserID
	case models.OwnerEither:
		return e.Involves(owner.UserID)
	}
	return false
}

func (s *memoryStore) DeleteEdge(_ context.Context, id string, owner models.OwnerFilter) (int64, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	s.lastOwner = owner
	for i, e := range s.edges {
		if e.ID == id && ownerMatches(e, owner) {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *memoryStore) UpdateEdge(_ context.Context, id string, fields models.EdgeUpdate, owner models.OwnerFilter) (int64, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.lastOwner = owner
	s.lastUpdate = fields
	for i, e := range s.edges {
		if e.ID != id || !ownerMatches(e, owner) {
			continue
		}
		if fields.Status != nil {
			e.Status = *fields.Status
		}
		if fields.RespondedAt != nil {
			t := *fields.RespondedAt
			e.RespondedAt = &t
		}
		if fields.RequesterAcknowledged != nil {
			e.RequesterAcknowledged = *fields.RequesterAcknowledged
		}
		if fields.AddresseeAcknowledged != nil {
			e.AddresseeAcknowledged = *fields.AddresseeAcknowledged
		}
		s.edges[i] = e
		return 1, nil
	}
	return 0, nil
}

func (s *memoryStore) edge(id string) (models.Friendship, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		if e.ID == id {
			return e, true
		}
	}
	return models.Friendship{}, false
}

// memoryKV is a KeyValue backed by a map.
type memoryKV struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	sets   int
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]string)}
}

func (kv *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.getErr != nil {
		return "", false, kv.getErr
	}
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *memoryKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.sets++
	kv.data[key] = value
	return nil
}

// recordingCenter records presented notifications.
type recordingCenter struct {
	mu        sync.Mutex
	grant     bool
	permErr   error
	prompts   int
	presented []models.Notification
}

func (c *recordingCenter) RequestPermission(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts++
	return c.grant, c.permErr
}

func (c *recordingCenter) Present(_ context.Context, n models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presented = append(c.presented, n)
	return nil
}

func (c *recordingCenter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.presented)
}

// fakeEvents hands out subscriptions and lets tests push changes.
type fakeEvents struct {
	mu       sync.Mutex
	subs     []*fakeSub
	opened   int
	closed   int
	failWith error
}

type fakeSub struct {
	events  *fakeEvents
	filter  models.OwnerFilter
	handler func(models.FriendshipChange)
	once    sync.Once
}

func (f *fakeEvents) Subscribe(_ context.Context, filter models.OwnerFilter, handler func(models.FriendshipChange)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	sub := &fakeSub{events: f, filter: filter, handler: handler}
	f.subs = append(f.subs, sub)
	f.opened++
	return sub, nil
}

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.events.mu.Lock()
		s.events.closed++
		s.events.mu.Unlock()
	})
	return nil
}

func (f *fakeEvents) emit(change models.FriendshipChange) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, sub := range subs {
		row := change.Row()
		if row != nil && ownerMatches(*row, sub.filter) {
			sub.handler(change)
		}
	}
}

var errTransport = errors.New("connection reset by peer")
