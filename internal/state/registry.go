// Package state holds per-conversation project state: the entity
// registry that resolves names to ids, the transactional state store,
// and the manager that binds conversations to projects.
package state

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
)

// EntityRegistry resolves user-facing names to server-issued entity ids
// for one conversation. Names are not unique; ids are.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]*domain.Entity
	// byName indexes lowercased names per kind. Values are id slices
	// because duplicate names are allowed.
	byName map[domain.EntityKind]map[string][]string
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		entities: make(map[string]*domain.Entity),
		byName:   make(map[domain.EntityKind]map[string][]string),
	}
}

// Register creates an entity with a server-issued id.
// The parent, when given, must exist and be a legal parent kind.
func (r *EntityRegistry) Register(kind domain.EntityKind, name, parentID string, attrs map[string]string) (*domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked("", kind, name, parentID, attrs)
}

// registerLocked inserts an entity, minting an id when none is given.
func (r *EntityRegistry) registerLocked(id string, kind domain.EntityKind, name, parentID string, attrs map[string]string) (*domain.Entity, error) {
	if !domain.ValidKind(kind) {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown entity kind: "+string(kind))
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.BadRequest(apperrors.CodeNameInvalid, "entity name must not be empty")
	}
	if parentID != "" {
		parent, ok := r.entities[parentID]
		if !ok {
			return nil, apperrors.BadRequest(apperrors.CodeInvalidParent, "parent entity does not exist").
				WithParams(map[string]interface{}{"parent_id": parentID})
		}
		if !domain.CanParent(kind, parent.Kind) {
			return nil, apperrors.BadRequest(apperrors.CodeInvalidParent,
				"a "+string(kind)+" cannot attach to a "+string(parent.Kind)).
				WithParams(map[string]interface{}{"parent_id": parentID, "parent_kind": string(parent.Kind)})
		}
	}

	if id == "" {
		uid, err := uuid.NewV7()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "generate entity id", 500)
		}
		id = uid.String()
	} else if _, exists := r.entities[id]; exists {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "duplicate entity id: "+id)
	}

	e := &domain.Entity{
		ID:        id,
		Kind:      kind,
		Name:      name,
		ParentID:  parentID,
		Attrs:     attrs,
		CreatedAt: time.Now().UTC(),
	}
	r.entities[id] = e
	r.indexLocked(e)
	return e, nil
}

func (r *EntityRegistry) indexLocked(e *domain.Entity) {
	kindIdx := r.byName[e.Kind]
	if kindIdx == nil {
		kindIdx = make(map[string][]string)
		r.byName[e.Kind] = kindIdx
	}
	key := strings.ToLower(e.Name)
	kindIdx[key] = append(kindIdx[key], e.ID)
}

func (r *EntityRegistry) unindexLocked(e *domain.Entity) {
	key := strings.ToLower(e.Name)
	ids := r.byName[e.Kind][key]
	for i, id := range ids {
		if id == e.ID {
			r.byName[e.Kind][key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byName[e.Kind][key]) == 0 {
		delete(r.byName[e.Kind], key)
	}
}

// Adopt inserts an entity under a caller-issued id. Commit uses it for
// regions minted during generation, so the ids already embedded in
// phrases stay valid after they land in the registry.
func (r *EntityRegistry) Adopt(id string, kind domain.EntityKind, name, parentID string) (*domain.Entity, error) {
	if id == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "entity id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(id, kind, name, parentID, nil)
}

// Get returns the entity with the given id.
func (r *EntityRegistry) Get(id string) (*domain.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Resolve maps a user-supplied reference to an entity of the given kind.
// Resolution order: exact id, exact case-insensitive name, unique
// case-insensitive substring. Multiple matches fail with candidates.
func (r *EntityRegistry) Resolve(kind domain.EntityKind, ref string) (*domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "entity reference must not be empty")
	}

	if e, ok := r.entities[ref]; ok && e.Kind == kind {
		cp := *e
		return &cp, nil
	}

	lowered := strings.ToLower(ref)
	if ids := r.byName[kind][lowered]; len(ids) > 0 {
		if len(ids) == 1 {
			cp := *r.entities[ids[0]]
			return &cp, nil
		}
		return nil, r.ambiguousLocked(kind, ref, ids)
	}

	// Substring pass.
	var matches []string
	for key, ids := range r.byName[kind] {
		if strings.Contains(key, lowered) {
			matches = append(matches, ids...)
		}
	}
	switch len(matches) {
	case 0:
		return nil, apperrors.NotFound(apperrors.CodeEntityNotFound,
			"no "+string(kind)+" matches "+strconv.Quote(ref)).
			WithParams(map[string]interface{}{"kind": string(kind), "ref": ref})
	case 1:
		cp := *r.entities[matches[0]]
		return &cp, nil
	default:
		return nil, r.ambiguousLocked(kind, ref, matches)
	}
}

func (r *EntityRegistry) ambiguousLocked(kind domain.EntityKind, ref string, ids []string) *apperrors.AppError {
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entities[id]; ok {
			candidates = append(candidates, e.Name)
		}
	}
	sort.Strings(candidates)
	return apperrors.BadRequest(apperrors.CodeAmbiguousName,
		strconv.Quote(ref)+" matches multiple "+string(kind)+"s").
		WithParams(map[string]interface{}{"ref": ref, "candidates": candidates})
}

// Rename changes an entity's name and reindexes it.
func (r *EntityRegistry) Rename(id, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newName = strings.TrimSpace(newName)
	if newName == "" {
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "entity name must not be empty")
	}
	e, ok := r.entities[id]
	if !ok {
		return apperrors.NotFound(apperrors.CodeEntityNotFound, "entity not found").
			WithParams(map[string]interface{}{"id": id})
	}
	r.unindexLocked(e)
	e.Name = newName
	r.indexLocked(e)
	return nil
}

// Remove deletes an entity from the registry. Children are left in
// place; callers cascade when they need to.
func (r *EntityRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[id]; ok {
		r.unindexLocked(e)
		delete(r.entities, id)
	}
}

// List returns all entities of a kind, ordered by creation then name.
func (r *EntityRegistry) List(kind domain.EntityKind) []*domain.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Entity
	for _, e := range r.entities {
		if e.Kind == kind {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Clear drops every entity. Used by sync-from-client.
func (r *EntityRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = make(map[string]*domain.Entity)
	r.byName = make(map[domain.EntityKind]map[string][]string)
}
