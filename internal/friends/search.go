package friends

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fitsocial/internal/models"
	"fitsocial/internal/observability"
)

// DefaultSearchDebounce is the quiet window before a typed term is queried.
const DefaultSearchDebounce = 250 * time.Millisecond

// SearchState is the retained result of the latest accepted search.
type SearchState struct {
	Term    string                  `json:"term"`
	Results []models.ProfileSummary `json:"results"`
	Loading bool                    `json:"loading"`
	Error   string                  `json:"error,omitempty"`
}

// CandidateSearch looks up profiles to invite. Input is debounced through a single
// timer; results are kept only if they belong to the latest issued request.
type CandidateSearch struct {
	store    ProfileSearcher
	userID   string
	debounce time.Duration
	limit    int
	timeout  time.Duration

	seq atomic.Int64

	mu       sync.Mutex
	timer    *time.Timer
	state    SearchState
	stopped  bool
	onResult func(SearchState)
}

// SearchOptions tunes a CandidateSearch. Zero values take the defaults.
type SearchOptions struct {
	Debounce time.Duration
	Limit    int
	Timeout  time.Duration
	// OnResult is called after a result is accepted into the state.
	OnResult func(SearchState)
}

// NewCandidateSearch returns a search context for userID.
func NewCandidateSearch(store ProfileSearcher, userID string, opts SearchOptions) *CandidateSearch {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultSearchDebounce
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &CandidateSearch{
		store:    store,
		userID:   userID,
		debounce: opts.Debounce,
		limit:    opts.Limit,
		timeout:  opts.Timeout,
		onResult: opts.OnResult,
		state:    SearchState{Results: []models.ProfileSummary{}},
	}
}

// Input records a keystroke. Any pending timer is stopped and replaced, so only
// the term that survives a full quiet window is queried.
func (s *CandidateSearch) Input(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state.Term = term
	s.timer = time.AfterFunc(s.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.Search(ctx, term)
	})
}

// Search queries immediately. The result is returned to the caller either way but
// only recorded in State when no newer request was issued in the meantime.
func (s *CandidateSearch) Search(ctx context.Context, term string) ([]models.ProfileSummary, error) {
	seq := s.seq.Add(1)
	term = strings.TrimSpace(term)

	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()

	results, err := s.store.SearchProfiles(ctx, term, s.userID, s.limit)
	if err != nil {
		err = asNetworkError(err)
	}
	if results == nil {
		results = []models.ProfileSummary{}
	}

	s.mu.Lock()
	if seq != s.seq.Load() || s.stopped {
		s.mu.Unlock()
		observability.CandidateSearches.WithLabelValues("stale").Inc()
		return results, err
	}
	s.state.Term = term
	s.state.Loading = false
	if err != nil {
		s.state.Error = err.Error()
	} else {
		s.state.Error = ""
		s.state.Results = results
	}
	snapshot := s.snapshotLocked()
	cb := s.onResult
	s.mu.Unlock()

	observability.CandidateSearches.WithLabelValues(observability.Outcome(err)).Inc()
	if cb != nil {
		cb(snapshot)
	}
	return results, err
}

// State returns a copy of the latest accepted search state.
func (s *CandidateSearch) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *CandidateSearch) snapshotLocked() SearchState {
	out := s.state
	out.Results = make([]models.ProfileSummary, len(s.state.Results))
	copy(out.Results, s.state.Results)
	return out
}

// Stop cancels any pending timer and discards results arriving afterwards.
func (s *CandidateSearch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
