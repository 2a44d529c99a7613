package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
)

type obsKey struct {
	term string
	day  time.Time
}

type modelDay struct {
	modelID int
	day     time.Time
}

// Store is an in-memory contracts.Store used by tests and dry runs.
// A single mutex makes the completeness check-then-write atomic.
type Store struct {
	mu sync.RWMutex

	models       map[int]*contracts.Model
	modelTerms   map[int][]string
	defaultModel int
	nextModelID  int

	terms        map[string]struct{}
	observations map[obsKey]float64
	completed    map[modelDay]struct{}
	scores       map[modelDay]contracts.ModelScore

	observationWrites int
}

// New creates an empty store
func New() *Store {
	return &Store{
		models:       make(map[int]*contracts.Model),
		modelTerms:   make(map[int][]string),
		nextModelID:  1,
		terms:        make(map[string]struct{}),
		observations: make(map[obsKey]float64),
		completed:    make(map[modelDay]struct{}),
		scores:       make(map[modelDay]contracts.ModelScore),
	}
}

// AddModel registers a model with its scoring function and ordered terms.
// A zero model.ID is assigned the next free id. Term text is de-duplicated.
func (s *Store) AddModel(model contracts.Model, terms []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model.ID == 0 {
		model.ID = s.nextModelID
	}
	if model.ID >= s.nextModelID {
		s.nextModelID = model.ID + 1
	}
	if model.Function != nil {
		fn := *model.Function
		fn.ModelID = model.ID
		model.Function = &fn
	}

	seen := make(map[string]struct{}, len(terms))
	ordered := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		s.terms[term] = struct{}{}
		ordered = append(ordered, term)
	}

	s.models[model.ID] = &model
	s.modelTerms[model.ID] = ordered
	return model.ID
}

// SetDefaultModel marks the model returned when a caller does not name one
func (s *Store) SetDefaultModel(modelID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultModel = modelID
}

// ObservationWrites counts the observations actually inserted
func (s *Store) ObservationWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observationWrites
}

// ObservationCount returns the number of stored observations
func (s *Store) ObservationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}

// ============================================================================
// Registry
// ============================================================================

func (s *Store) HasModel(_ context.Context, modelID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.models[modelID]
	return ok, nil
}

func (s *Store) Model(_ context.Context, modelID int) (*contracts.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[modelID]
	if !ok {
		return nil, fmt.Errorf("model %d: %w", modelID, contracts.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) Models(_ context.Context, publicOnly bool) ([]*contracts.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*contracts.Model, 0, len(s.models))
	for _, m := range s.models {
		if publicOnly && !m.IsPublic {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DefaultModelID(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultModel == 0 {
		return 0, fmt.Errorf("default model: %w", contracts.ErrNotFound)
	}
	return s.defaultModel, nil
}

func (s *Store) TermsForModel(_ context.Context, modelID int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	terms, ok := s.modelTerms[modelID]
	if !ok {
		return nil, fmt.Errorf("model %d: %w", modelID, contracts.ErrNotFound)
	}
	out := make([]string, len(terms))
	copy(out, terms)
	return out, nil
}

func (s *Store) ScoringConfig(_ context.Context, modelID int) (*contracts.ScoringFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[modelID]
	if !ok || m.Function == nil {
		return nil, fmt.Errorf("scoring function of model %d: %w", modelID, contracts.ErrNotFound)
	}
	fn := *m.Function
	return &fn, nil
}

func (s *Store) LastObservationDay(_ context.Context, modelID int) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for key := range s.completed {
		if key.modelID == modelID && key.day.After(last) {
			last = key.day
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("last observation day of model %d: %w", modelID, contracts.ErrNotFound)
	}
	return last, nil
}

// ============================================================================
// ObservationStore
// ============================================================================

func (s *Store) CompletedDays(_ context.Context, modelID int, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rng := contracts.NewDateRange(start, end)
	days := make([]time.Time, 0)
	for key := range s.completed {
		if key.modelID == modelID && rng.Contains(key.day) {
			days = append(days, key.day)
		}
	}
	sortDays(days)
	return days, nil
}

func (s *Store) RecordObservation(_ context.Context, term string, day time.Time, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.terms[term]; !ok {
		return fmt.Errorf("term %q: %w", term, contracts.ErrNotFound)
	}
	key := obsKey{term: term, day: contracts.Day(day)}
	if _, exists := s.observations[key]; exists {
		return nil
	}
	s.observations[key] = value
	s.observationWrites++
	return nil
}

func (s *Store) MarkObservationDayComplete(_ context.Context, modelID int, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms, ok := s.modelTerms[modelID]
	if !ok {
		return fmt.Errorf("model %d: %w", modelID, contracts.ErrNotFound)
	}

	d := contracts.Day(day)
	have := 0
	for _, term := range terms {
		if _, ok := s.observations[obsKey{term: term, day: d}]; ok {
			have++
		}
	}
	if len(terms) == 0 || have != len(terms) {
		return &contracts.IncompleteObservationSetError{ModelID: modelID, Day: d, Have: have, Want: len(terms)}
	}

	s.completed[modelDay{modelID: modelID, day: d}] = struct{}{}
	return nil
}

func (s *Store) TermValues(_ context.Context, modelID int, day time.Time) ([]contracts.TermValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := contracts.Day(day)
	out := make([]contracts.TermValue, 0, len(s.modelTerms[modelID]))
	for _, term := range s.modelTerms[modelID] {
		if v, ok := s.observations[obsKey{term: term, day: d}]; ok {
			out = append(out, contracts.TermValue{Term: term, Value: v})
		}
	}
	return out, nil
}

func (s *Store) TermAverages(_ context.Context, modelID int, center time.Time, window int) ([]contracts.TermValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rng := contracts.WindowAround(center, window)
	out := make([]contracts.TermValue, 0, len(s.modelTerms[modelID]))
	for _, term := range s.modelTerms[modelID] {
		sum, n := 0.0, 0
		for _, d := range rng.Days() {
			if v, ok := s.observations[obsKey{term: term, day: d}]; ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			out = append(out, contracts.TermValue{Term: term, Value: sum / float64(n)})
		}
	}
	return out, nil
}

// ============================================================================
// ScoreStore
// ============================================================================

func (s *Store) ScoredDays(_ context.Context, modelID int, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rng := contracts.NewDateRange(start, end)
	days := make([]time.Time, 0)
	for key := range s.scores {
		if key.modelID == modelID && rng.Contains(key.day) {
			days = append(days, key.day)
		}
	}
	sortDays(days)
	return days, nil
}

func (s *Store) LastScoreDay(_ context.Context, modelID int) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for key := range s.scores {
		if key.modelID == modelID && key.day.After(last) {
			last = key.day
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("last score day of model %d: %w", modelID, contracts.ErrNotFound)
	}
	return last, nil
}

func (s *Store) RecordScore(_ context.Context, modelID int, day time.Time, score contracts.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := modelDay{modelID: modelID, day: contracts.Day(day)}
	if _, exists := s.scores[key]; exists {
		return fmt.Errorf("score for model %d on %s already recorded", modelID, key.day.Format(contracts.DateLayout))
	}

	var interval *contracts.ConfidenceInterval
	if score.Interval != nil {
		ci := *score.Interval
		interval = &ci
	}
	s.scores[key] = contracts.ModelScore{
		ModelID:  modelID,
		Day:      key.day,
		Region:   contracts.DefaultRegion,
		Value:    score.Value,
		Interval: interval,
	}
	return nil
}

func (s *Store) Scores(_ context.Context, modelID int, start, end time.Time) ([]*contracts.ModelScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rng := contracts.NewDateRange(start, end)
	out := make([]*contracts.ModelScore, 0)
	for key, score := range s.scores {
		if key.modelID == modelID && rng.Contains(key.day) {
			sc := score
			out = append(out, &sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func sortDays(days []time.Time) {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
}

var _ contracts.Store = (*Store)(nil)
