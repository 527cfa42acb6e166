// Package variation holds in-flight variation records and the SSE
// broadcaster that streams their envelopes. Records live in process
// for the variation TTL; committed history belongs to the state store
// and Muse Hub, not here.
package variation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// Store is the mutex-guarded registry of variation records.
type Store struct {
	mu         sync.RWMutex
	variations map[string]*domain.Variation
	ttl        time.Duration
}

// NewStore creates an empty store. ttl bounds how long a non-terminal
// variation may live before the sweep expires it.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		variations: make(map[string]*domain.Variation),
		ttl:        ttl,
	}
}

// TTL returns the configured variation lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create registers a new variation record.
func (s *Store) Create(v *domain.Variation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.variations[v.ID]; exists {
		return apperrors.Conflict(apperrors.CodeValidationFailed, "variation id already exists")
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.ExpiresAt.IsZero() {
		v.ExpiresAt = now.Add(s.ttl)
	}
	if v.Status == "" {
		v.Status = domain.VariationCreated
	}
	s.variations[v.ID] = v
	return nil
}

// Get returns a copy of the record; mutating it does not touch the
// store.
func (s *Store) Get(id string) (*domain.Variation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variations[id]
	if !ok {
		return nil, false
	}
	return cloneVariation(v), true
}

// UpdateStatus moves a variation through its state machine. Illegal
// transitions fail with INVALID_TRANSITION and leave the record as is.
func (s *Store) UpdateStatus(id string, to domain.VariationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return apperrors.ErrVariationNotFoundf(id)
	}
	if !domain.CanTransition(v.Status, to) {
		return apperrors.Conflict(apperrors.CodeInvalidTransition,
			"cannot transition variation from "+string(v.Status)+" to "+string(to)).
			WithParams(map[string]interface{}{"from": v.Status, "to": to})
	}
	v.Status = to
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMeta records the stream metadata captured at generation start.
func (s *Store) SetMeta(id string, meta domain.VariationMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return apperrors.ErrVariationNotFoundf(id)
	}
	v.Meta = &meta
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendPhrase adds a streamed phrase to the record. Only a STREAMING
// variation accepts phrases.
func (s *Store) AppendPhrase(id string, p domain.Phrase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return apperrors.ErrVariationNotFoundf(id)
	}
	if v.Status != domain.VariationStreaming {
		return apperrors.Conflict(apperrors.CodeInvalidTransition,
			"variation is not streaming")
	}
	v.Phrases = append(v.Phrases, p)
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// SetError records the failure detail for a FAILED variation.
func (s *Store) SetError(id string, verr *domain.VariationError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return apperrors.ErrVariationNotFoundf(id)
	}
	v.Error = verr
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// SetCommitResult records which phrases were applied and the state id
// the commit produced.
func (s *Store) SetCommitResult(id string, appliedPhraseIDs []string, newStateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variations[id]
	if !ok {
		return apperrors.ErrVariationNotFoundf(id)
	}
	v.AppliedPhrases = append([]string(nil), appliedPhraseIDs...)
	v.NewStateID = newStateID
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a record.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variations, id)
}

// Len reports how many records are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.variations)
}

// CleanupExpired expires every non-terminal variation whose deadline
// passed and returns their ids so the caller can close streams.
// Terminal records past their deadline are dropped outright; their ids
// come back separately so the caller can release stream history too.
func (s *Store) CleanupExpired(now time.Time) (expired, dropped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range s.variations {
		if now.Before(v.ExpiresAt) {
			continue
		}
		if v.Status.IsTerminal() {
			delete(s.variations, id)
			dropped = append(dropped, id)
			continue
		}
		v.Status = domain.VariationExpired
		v.UpdatedAt = now
		expired = append(expired, id)
		logger.Info("variation expired",
			zap.String("variation_id", id),
			zap.String("project_id", v.ProjectID),
		)
	}
	return expired, dropped
}

func cloneVariation(v *domain.Variation) *domain.Variation {
	cp := *v
	cp.Phrases = append([]domain.Phrase(nil), v.Phrases...)
	cp.AppliedPhrases = append([]string(nil), v.AppliedPhrases...)
	if v.Error != nil {
		e := *v.Error
		cp.Error = &e
	}
	if v.Meta != nil {
		m := *v.Meta
		m.Instruments = append([]string(nil), v.Meta.Instruments...)
		cp.Meta = &m
	}
	return &cp
}
