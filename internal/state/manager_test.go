package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/pkg/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

func TestManager_Resolve(t *testing.T) {
	m := NewManager()

	// Without an explicit conversation id the project id doubles as one.
	c1, err := m.Resolve("proj-a", "")
	require.NoError(t, err)
	assert.Equal(t, "proj-a", c1.ID)

	c2, err := m.Resolve("proj-a", "")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	// Explicit binding.
	c3, err := m.Resolve("proj-b", "conv-b")
	require.NoError(t, err)
	assert.Equal(t, "conv-b", c3.ID)

	got, ok := m.ForProject("proj-b")
	require.True(t, ok)
	assert.Same(t, c3, got)

	// Rebinding an existing conversation to another project is a conflict.
	_, err = m.Resolve("proj-c", "conv-b")
	require.Error(t, err)

	_, err = m.Resolve("", "")
	require.Error(t, err)
}

func clientFixture() ClientProject {
	return ClientProject{
		ProjectID: "proj-sync",
		Name:      "Night Drive",
		Tempo:     110,
		Key:       "F minor",
		Tracks: []ClientTrack{
			{
				ID: "trk-drums", Name: "Drums", Volume: 0.9,
				Regions: []ClientRegion{
					{
						ID: "reg-verse", Name: "Verse Beat", StartBeat: 0, DurationBeats: 32,
						Notes: []domain.Note{
							{ID: "n1", Pitch: 36, Velocity: 110, StartBeat: 0, DurationBeats: 0.5},
							{ID: "n2", Pitch: 38, Velocity: 95, StartBeat: 1, DurationBeats: 0.5},
						},
					},
				},
			},
			{ID: "trk-bass", Name: "Bass", Volume: 0.8, Pan: -0.2},
		},
		Buses: []ClientBus{{ID: "bus-rev", Name: "Reverb Bus"}},
	}
}

func TestManager_SyncFromClient(t *testing.T) {
	m := NewManager()
	c, err := m.SyncFromClient(clientFixture(), "")
	require.NoError(t, err)

	// Client-supplied ids survive registration.
	e, ok := c.Registry.Get("trk-drums")
	require.True(t, ok)
	assert.Equal(t, "Drums", e.Name)

	bus, err := c.Registry.Resolve(domain.EntityBus, "reverb")
	require.NoError(t, err)
	assert.Equal(t, "bus-rev", bus.ID)

	snap := c.Store.Snapshot()
	assert.Equal(t, float64(110), snap.Tempo)
	assert.Equal(t, "F minor", snap.Key)
	require.Contains(t, snap.Regions, "reg-verse")
	assert.Len(t, snap.Regions["reg-verse"].Notes, 2)
	assert.Equal(t, "trk-drums", snap.Regions["reg-verse"].TrackID)

	// One transaction per sync.
	assert.Equal(t, 1, c.Store.Version())
}

func TestManager_ReSyncReplacesState(t *testing.T) {
	m := NewManager()
	_, err := m.SyncFromClient(clientFixture(), "")
	require.NoError(t, err)

	// Second sync drops one track and renames a region.
	proj := clientFixture()
	proj.Tracks = proj.Tracks[:1]
	proj.Tracks[0].Regions[0].ID = "reg-chorus"
	proj.Tracks[0].Regions[0].Name = "Chorus Beat"

	c, err := m.SyncFromClient(proj, "")
	require.NoError(t, err)

	_, ok := c.Registry.Get("trk-bass")
	assert.False(t, ok, "entities absent from a re-sync must not survive")

	snap := c.Store.Snapshot()
	assert.NotContains(t, snap.Regions, "reg-verse")
	assert.Contains(t, snap.Regions, "reg-chorus")
	assert.Equal(t, 2, c.Store.Version(), "each sync commits exactly once")
}
