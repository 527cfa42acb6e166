package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/state"
)

// SyncProjectInput represents a client pushing its full project tree.
type SyncProjectInput struct {
	Project        state.ClientProject `json:"project"`
	ConversationID string              `json:"conversationId,omitempty"`
	UserID         string              `json:"-"`
}

// SyncProjectOutput confirms the sync and hands back the ids the client
// needs for subsequent proposals.
type SyncProjectOutput struct {
	ConversationID string `json:"conversationId"`
	ProjectID      string `json:"projectId"`
	StateID        string `json:"stateId"`
	Version        int    `json:"version"`
	TrackCount     int    `json:"trackCount"`
	RegionCount    int    `json:"regionCount"`
}

// SyncProjectUseCase seeds or replaces a conversation's state from a
// client project tree. Sync is the entry path: nothing else works on a
// project until it has synced at least once.
type SyncProjectUseCase struct {
	manager *state.Manager
}

// NewSyncProjectUseCase creates a new SyncProjectUseCase.
func NewSyncProjectUseCase(manager *state.Manager) *SyncProjectUseCase {
	return &SyncProjectUseCase{manager: manager}
}

// Execute runs the sync use case.
func (uc *SyncProjectUseCase) Execute(ctx context.Context, input SyncProjectInput) (*SyncProjectOutput, error) {
	if strings.TrimSpace(input.Project.ProjectID) == "" {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "project.projectId is required")
	}

	conv, err := uc.manager.SyncFromClient(input.Project, input.ConversationID)
	if err != nil {
		return nil, err
	}

	regionCount := 0
	for _, t := range input.Project.Tracks {
		regionCount += len(t.Regions)
	}

	logger.Info("project sync accepted",
		zap.String("project_id", conv.ProjectID),
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", input.UserID),
		zap.Int("tracks", len(input.Project.Tracks)),
		zap.Int("regions", regionCount),
	)

	return &SyncProjectOutput{
		ConversationID: conv.ID,
		ProjectID:      conv.ProjectID,
		StateID:        conv.Store.GetStateID(),
		Version:        conv.Store.Version(),
		TrackCount:     len(input.Project.Tracks),
		RegionCount:    regionCount,
	}, nil
}
