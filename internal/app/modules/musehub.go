package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"musehub.io/musehub/internal/api/handlers"
	"musehub.io/musehub/internal/assets"
	"musehub.io/musehub/internal/jobs"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/pkg/logger"
)

// HubModule wires the version-control service: repos, refs, commits,
// objects, pull requests, and the sync protocol.
type HubModule struct {
	infra     *Infrastructure
	hub       *musehub.Service
	presigner assets.Presigner
}

// NewHubModule creates the hub module. Without configured asset
// delivery, object downloads fall back to inline content.
func NewHubModule(infra *Infrastructure) (*HubModule, error) {
	presigner := assets.Presigner(assets.Disabled{})
	if infra.Config.Assets.Enabled {
		s3, err := assets.NewS3Presigner(infra.Config.Assets)
		if err != nil {
			return nil, fmt.Errorf("init s3 presigner: %w", err)
		}
		presigner = s3
		logger.Info("asset presigning enabled",
			zap.String("bucket", infra.Config.Assets.Bucket),
		)
	}

	return &HubModule{
		infra:     infra,
		hub:       musehub.NewService(infra.HubStore),
		presigner: presigner,
	}, nil
}

func (m *HubModule) Name() string { return "musehub" }

// Hub exposes the service for out-of-process tooling (seeding).
func (m *HubModule) Hub() *musehub.Service { return m.hub }

func (m *HubModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Hub = m.hub
	deps.Presigner = m.presigner
}

func (m *HubModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	river.AddWorker(workers, jobs.NewActivityCleanupWorker(m.infra.HubStore, m.infra.Config.River.ActivityRetention))
}

func (m *HubModule) Shutdown(context.Context) error { return nil }
