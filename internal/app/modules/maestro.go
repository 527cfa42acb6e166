package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"musehub.io/musehub/internal/api/handlers"
	"musehub.io/musehub/internal/generation"
	"musehub.io/musehub/internal/jobs"
	apperrors "musehub.io/musehub/internal/pkg/errors"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/usecase"
	"musehub.io/musehub/internal/variation"
)

// VariationStreamBase is the URL prefix SSE clients resume streams on.
// It must agree with the route mounted in handlers.RegisterRoutes.
const VariationStreamBase = "/api/v1/variation"

// MaestroModule wires the live composition engine: project state,
// variation records and streams, and the generation pipeline.
type MaestroModule struct {
	infra       *Infrastructure
	manager     *state.Manager
	variations  *variation.Store
	broadcaster *variation.Broadcaster
	tasks       *generation.Tasks
	budget      provider.BudgetService
	syncUC      *usecase.SyncProjectUseCase
	proposeUC   *usecase.ProposeVariationUseCase
	commitUC    *usecase.CommitVariationUseCase
	discardUC   *usecase.DiscardVariationUseCase
	sweeper     *jobs.VariationExpiryWorker
}

// NewMaestroModule creates the maestro module with explicit constructor
// wiring. The planner is the deterministic built-in until a model
// backend is configured; the DAW adapter comes from the tool registry.
func NewMaestroModule(infra *Infrastructure) (*MaestroModule, error) {
	cfg := infra.Config

	adapter, err := provider.NewStandardAdapter()
	if err != nil {
		return nil, fmt.Errorf("init daw adapter: %w", err)
	}

	manager := state.NewManager()
	variations := variation.NewStore(cfg.Variation.TTL)
	broadcaster := variation.NewBroadcaster(cfg.Variation.SubscriberBuffer)
	tasks := generation.NewTasks()

	var budget provider.BudgetService = provider.UnlimitedBudget{}
	if cfg.Variation.BudgetAllowance > 0 {
		budget = provider.NewMeteredBudget(cfg.Variation.BudgetAllowance)
	}

	runner := &generation.Runner{
		Variations:  variations,
		Broadcaster: broadcaster,
		Planner:     provider.NewMockPlanner(),
		Adapter:     adapter,
		Budget:      budget,
		Pools:       infra.Pools,
		ToolTimeout: cfg.Variation.ToolCallTimeout,
	}

	return &MaestroModule{
		infra:       infra,
		manager:     manager,
		variations:  variations,
		broadcaster: broadcaster,
		tasks:       tasks,
		budget:      budget,
		syncUC:      usecase.NewSyncProjectUseCase(manager),
		proposeUC:   usecase.NewProposeVariationUseCase(manager, variations, runner, tasks, budget, infra.Pools, VariationStreamBase),
		commitUC:    usecase.NewCommitVariationUseCase(manager, variations),
		discardUC:   usecase.NewDiscardVariationUseCase(variations, broadcaster, tasks, budget),
		sweeper:     jobs.NewVariationExpiryWorker(variations, broadcaster),
	}, nil
}

func (m *MaestroModule) Name() string { return "maestro" }

func (m *MaestroModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Manager = m.manager
	deps.Variations = m.variations
	deps.Broadcaster = m.broadcaster
	deps.SyncUC = m.syncUC
	deps.ProposeUC = m.proposeUC
	deps.CommitUC = m.commitUC
	deps.DiscardUC = m.discardUC
}

func (m *MaestroModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, m.sweeper)
}

// Sweeper exposes the expiry worker so memory-backend deployments can
// run it on a ticker instead of River.
func (m *MaestroModule) Sweeper() *jobs.VariationExpiryWorker { return m.sweeper }

// Shutdown cancels in-flight generations, then ends every open stream
// with a terminal error envelope so clients stop reconnecting.
func (m *MaestroModule) Shutdown(context.Context) error {
	if m == nil {
		return nil
	}
	m.tasks.CancelAll()
	m.broadcaster.Drain(apperrors.CodeShuttingDown, "server is shutting down")
	return nil
}
