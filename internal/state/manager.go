package state

import (
	"sync"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
)

// Conversation bundles the registry and state store for one
// conversation, bound to exactly one project.
type Conversation struct {
	ID        string
	ProjectID string
	Registry  *EntityRegistry
	Store     *StateStore
}

// Manager owns the conversation map. Conversation ids and project ids
// are distinct keys; the binding between them is recorded explicitly
// at creation and never inferred afterwards.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	byProject     map[string]string // project id → conversation id
}

// NewManager creates an empty conversation manager.
func NewManager() *Manager {
	return &Manager{
		conversations: make(map[string]*Conversation),
		byProject:     make(map[string]string),
	}
}

// Resolve finds or creates the conversation for a project. When the
// caller supplies an explicit conversation id it is bound on first use;
// rebinding a conversation to a different project is a conflict.
// Without an explicit id the project id doubles as the conversation id.
func (m *Manager) Resolve(projectID, conversationID string) (*Conversation, error) {
	if projectID == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "projectId is required")
	}
	if conversationID == "" {
		conversationID = projectID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conversations[conversationID]; ok {
		if c.ProjectID != projectID {
			return nil, apperrors.Conflict(apperrors.CodeValidationFailed,
				"conversation is bound to a different project").
				WithParams(map[string]interface{}{
					"conversation_id": conversationID,
					"bound_project":   c.ProjectID,
				})
		}
		return c, nil
	}

	c := &Conversation{
		ID:        conversationID,
		ProjectID: projectID,
		Registry:  NewEntityRegistry(),
		Store:     NewStateStore(conversationID, projectID),
	}
	m.conversations[conversationID] = c
	m.byProject[projectID] = conversationID
	logger.Debug("conversation created",
		zap.String("conversation_id", conversationID),
		zap.String("project_id", projectID),
	)
	return c, nil
}

// Get returns an existing conversation by id.
func (m *Manager) Get(conversationID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	return c, ok
}

// ForProject returns the conversation bound to a project, if any.
func (m *Manager) ForProject(projectID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid, ok := m.byProject[projectID]
	if !ok {
		return nil, false
	}
	c, ok := m.conversations[cid]
	return c, ok
}

// ClientRegion is a region in a client-supplied project tree.
type ClientRegion struct {
	ID            string                   `json:"id,omitempty"`
	Name          string                   `json:"name"`
	StartBeat     float64                  `json:"startBeat"`
	DurationBeats float64                  `json:"durationBeats"`
	Notes         []domain.Note            `json:"notes,omitempty"`
	Controllers   []domain.ControllerEvent `json:"controllers,omitempty"`
}

// ClientTrack is a track in a client-supplied project tree.
type ClientTrack struct {
	ID      string         `json:"id,omitempty"`
	Name    string         `json:"name"`
	Volume  float64        `json:"volume"`
	Pan     float64        `json:"pan"`
	Muted   bool           `json:"muted"`
	Regions []ClientRegion `json:"regions,omitempty"`
}

// ClientBus is a bus in a client-supplied project tree.
type ClientBus struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ClientProject is the full project tree a DAW client syncs up.
type ClientProject struct {
	ProjectID string        `json:"projectId"`
	Name      string        `json:"name"`
	Tempo     float64       `json:"tempo"`
	Key       string        `json:"key"`
	Tracks    []ClientTrack `json:"tracks,omitempty"`
	Buses     []ClientBus   `json:"buses,omitempty"`
}

// SyncFromClient rebuilds the registry and reseeds the state store from
// a client project tree. Entity ids supplied by the client (from an
// earlier sync) are preserved; missing ids are issued fresh. The
// reseed runs as one transaction, so the version moves exactly once.
func (m *Manager) SyncFromClient(proj ClientProject, conversationID string) (*Conversation, error) {
	c, err := m.Resolve(proj.ProjectID, conversationID)
	if err != nil {
		return nil, err
	}

	name := proj.Name
	if name == "" {
		name = proj.ProjectID
	}

	c.Registry.Clear()
	c.Registry.mu.Lock()
	projEntity, err := c.Registry.registerLocked(proj.ProjectID, domain.EntityProject, name, "", nil)
	if err != nil {
		c.Registry.mu.Unlock()
		return nil, err
	}

	type seededRegion struct {
		region  ClientRegion
		trackID string
	}
	var regions []seededRegion
	type seededTrack struct {
		track ClientTrack
		id    string
	}
	var tracks []seededTrack

	for _, t := range proj.Tracks {
		te, err := c.Registry.registerLocked(t.ID, domain.EntityTrack, t.Name, projEntity.ID, nil)
		if err != nil {
			c.Registry.mu.Unlock()
			return nil, err
		}
		tracks = append(tracks, seededTrack{track: t, id: te.ID})
		for _, r := range t.Regions {
			re, err := c.Registry.registerLocked(r.ID, domain.EntityRegion, r.Name, te.ID, nil)
			if err != nil {
				c.Registry.mu.Unlock()
				return nil, err
			}
			r.ID = re.ID
			regions = append(regions, seededRegion{region: r, trackID: te.ID})
		}
	}
	for _, b := range proj.Buses {
		if _, err := c.Registry.registerLocked(b.ID, domain.EntityBus, b.Name, projEntity.ID, nil); err != nil {
			c.Registry.mu.Unlock()
			return nil, err
		}
	}
	c.Registry.mu.Unlock()

	tx, err := c.Store.Begin()
	if err != nil {
		return nil, err
	}
	tx.ResetProject()
	if proj.Tempo > 0 {
		tx.SetTempo(proj.Tempo)
	}
	if proj.Key != "" {
		tx.SetKey(proj.Key)
	}
	for _, st := range tracks {
		tx.UpsertTrack(st.id, st.track.Name, domain.TrackLevels{
			Volume: st.track.Volume,
			Pan:    st.track.Pan,
			Muted:  st.track.Muted,
		})
	}
	for _, sr := range regions {
		tx.UpsertRegion(sr.region.ID, sr.trackID, domain.RegionGeometry{
			Name:          sr.region.Name,
			StartBeat:     sr.region.StartBeat,
			DurationBeats: sr.region.DurationBeats,
		})
		if len(sr.region.Notes) > 0 {
			tx.AddNotes(sr.region.ID, sr.region.Notes)
		}
		if len(sr.region.Controllers) > 0 {
			tx.AddControllerEvents(sr.region.ID, sr.region.Controllers)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.Info("project synced from client",
		zap.String("conversation_id", c.ID),
		zap.String("project_id", c.ProjectID),
		zap.Int("tracks", len(proj.Tracks)),
		zap.String("state_id", c.Store.GetStateID()),
	)
	return c, nil
}
