package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/usecase"
)

// SyncProject ingests a full client project snapshot and binds it to a
// conversation.
func (s *Server) SyncProject(c *gin.Context) {
	var input usecase.SyncProjectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid request body"))
		return
	}
	input.UserID = actorFromCtx(c)

	out, err := s.syncUC.Execute(c.Request.Context(), input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type regionSummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
	NoteCount     int     `json:"noteCount"`
}

type trackSummary struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Regions []regionSummary `json:"regions"`
}

type projectStateResponse struct {
	ProjectID      string         `json:"projectId"`
	ConversationID string         `json:"conversationId"`
	StateID        string         `json:"stateId"`
	Version        int            `json:"version"`
	Tempo          float64        `json:"tempo"`
	Key            string         `json:"key"`
	Tracks         []trackSummary `json:"tracks"`
}

// GetProjectState summarizes the server-side view of a project:
// identity, version, and the track/region tree with note counts.
func (s *Server) GetProjectState(c *gin.Context) {
	projectID := c.Param("projectId")
	conv, ok := s.manager.ForProject(projectID)
	if !ok {
		_ = c.Error(apperrors.NotFound(apperrors.CodeProjectNotFound, "project has not been synced").
			WithParams(map[string]interface{}{"project_id": projectID}))
		return
	}

	bundle := conv.Store.Snapshot()
	c.JSON(http.StatusOK, projectStateFromBundle(bundle))
}

func projectStateFromBundle(bundle state.SnapshotBundle) projectStateResponse {
	resp := projectStateResponse{
		ProjectID:      bundle.ProjectID,
		ConversationID: bundle.ConversationID,
		StateID:        bundle.StateID,
		Version:        bundle.Version,
		Tempo:          bundle.Tempo,
		Key:            bundle.Key,
		Tracks:         make([]trackSummary, 0, len(bundle.Tracks)),
	}

	regionsByTrack := make(map[string][]regionSummary, len(bundle.Tracks))
	for _, r := range bundle.Regions {
		regionsByTrack[r.TrackID] = append(regionsByTrack[r.TrackID], regionSummary{
			ID:            r.ID,
			Name:          r.Geometry.Name,
			StartBeat:     r.Geometry.StartBeat,
			DurationBeats: r.Geometry.DurationBeats,
			NoteCount:     len(r.Notes),
		})
	}

	for _, t := range bundle.Tracks {
		regions := regionsByTrack[t.ID]
		sort.Slice(regions, func(i, j int) bool {
			if regions[i].StartBeat != regions[j].StartBeat {
				return regions[i].StartBeat < regions[j].StartBeat
			}
			return regions[i].ID < regions[j].ID
		})
		if regions == nil {
			regions = []regionSummary{}
		}
		resp.Tracks = append(resp.Tracks, trackSummary{ID: t.ID, Name: t.Name, Regions: regions})
	}
	sort.Slice(resp.Tracks, func(i, j int) bool { return resp.Tracks[i].ID < resp.Tracks[j].ID })

	return resp
}
