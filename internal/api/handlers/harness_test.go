package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/api/middleware"
	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/generation"
	"musehub.io/musehub/internal/musehub"
	"musehub.io/musehub/internal/musehub/store/memory"
	"musehub.io/musehub/internal/pkg/logger"
	"musehub.io/musehub/internal/pkg/worker"
	"musehub.io/musehub/internal/provider"
	"musehub.io/musehub/internal/state"
	"musehub.io/musehub/internal/usecase"
	"musehub.io/musehub/internal/variation"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

const (
	testSigningKey = "handler-test-signing-key-1234567890"
	testAllowance  = 50
)

// apiFixture wires a full in-memory server behind a real router so
// tests exercise the same registration production uses.
type apiFixture struct {
	router   *gin.Engine
	hub      *musehub.Service
	manager  *state.Manager
	vars     *variation.Store
	bcast    *variation.Broadcaster
	budget   *provider.MeteredBudget
	planner  *provider.MockPlanner
	draining *atomic.Bool
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureAllowance(t, testAllowance)
}

func newAPIFixtureAllowance(t *testing.T, allowance int) *apiFixture {
	t.Helper()

	adapter, err := provider.NewStandardAdapter()
	require.NoError(t, err)
	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	f := &apiFixture{
		hub:      musehub.NewService(memory.New()),
		manager:  state.NewManager(),
		vars:     variation.NewStore(time.Hour),
		bcast:    variation.NewBroadcaster(64),
		budget:   provider.NewMeteredBudget(allowance),
		planner:  provider.NewMockPlanner(),
		draining: &atomic.Bool{},
	}
	tasks := generation.NewTasks()
	runner := &generation.Runner{
		Variations:  f.vars,
		Broadcaster: f.bcast,
		Planner:     f.planner,
		Adapter:     adapter,
		Budget:      f.budget,
		Pools:       pools,
		ToolTimeout: 5 * time.Second,
	}

	srv := NewServer(ServerDeps{
		JWTCfg:      middleware.JWTConfig{SigningKey: []byte(testSigningKey), Issuer: "musehub", ExpiresIn: time.Hour},
		Hub:         f.hub,
		Manager:     f.manager,
		Variations:  f.vars,
		Broadcaster: f.bcast,
		SyncUC:      usecase.NewSyncProjectUseCase(f.manager),
		ProposeUC:   usecase.NewProposeVariationUseCase(f.manager, f.vars, runner, tasks, f.budget, pools, "/api/v1/variation"),
		CommitUC:    usecase.NewCommitVariationUseCase(f.manager, f.vars),
		DiscardUC:   usecase.NewDiscardVariationUseCase(f.vars, f.bcast, tasks, f.budget),
		Heartbeat:   50 * time.Millisecond,
		Draining:    f.draining,
	})

	f.router = gin.New()
	f.router.Use(middleware.RequestID(), middleware.ErrorHandler())
	RegisterRoutes(f.router, srv)
	return f
}

// do performs one request against the fixture router. A non-nil body
// is JSON-encoded; a non-empty token rides as a bearer header.
func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

// seedUser creates an account directly on the hub service and mints a
// token for it.
func (f *apiFixture) seedUser(t *testing.T, username string, roles ...string) (*domain.User, string) {
	t.Helper()
	user, err := f.hub.CreateUser(context.Background(), musehub.CreateUserInput{
		Username: username,
		Password: username + "-password",
		Email:    username + "@example.com",
		Roles:    roles,
	})
	require.NoError(t, err)

	token, _, err := middleware.GenerateToken(
		middleware.JWTConfig{SigningKey: []byte(testSigningKey), Issuer: "musehub", ExpiresIn: time.Hour},
		user.ID, user.Username, user.Roles,
	)
	require.NoError(t, err)
	return user, token
}

// syncDemo pushes a two-track project through the sync endpoint.
func (f *apiFixture) syncDemo(t *testing.T, token string) map[string]interface{} {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/project/sync", usecase.SyncProjectInput{
		Project: state.ClientProject{
			ProjectID: "proj-1",
			Name:      "Night Drive",
			Tempo:     110,
			Key:       "F minor",
			Tracks: []state.ClientTrack{
				{
					ID: "trk-drums", Name: "Drums", Volume: 0.8,
					Regions: []state.ClientRegion{{
						ID: "reg-verse", Name: "Verse Beat",
						StartBeat: 0, DurationBeats: 16,
						Notes: []domain.Note{{ID: "n1", Pitch: 36, Velocity: 100, StartBeat: 0, DurationBeats: 0.5}},
					}},
				},
				{
					ID: "trk-bass", Name: "Bass", Volume: 0.7,
					Regions: []state.ClientRegion{{
						ID: "reg-bassline", Name: "Bass Line",
						StartBeat: 0, DurationBeats: 16,
					}},
				},
			},
		},
	}, token)
	require.Equal(t, http.StatusOK, w.Code, "sync: %s", w.Body.String())
	return decodeBody(t, w)
}

// waitVariationStatus polls the variation endpoint until the wanted
// status shows up.
func (f *apiFixture) waitVariationStatus(t *testing.T, token, id string, want domain.VariationStatus) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		w := f.do(t, http.MethodGet, "/api/v1/variation/"+id, nil, token)
		require.Equal(t, http.StatusOK, w.Code, "poll: %s", w.Body.String())
		last = decodeBody(t, w)
		if last["status"] == string(want) {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("variation %s never reached %s, last: %v", id, want, last)
	return nil
}

// buildCommit assembles one content-addressed commit plus the objects
// backing it, ready for a push payload.
func buildCommit(t *testing.T, repoID string, parents []string, msg string, files map[string]string) (*domain.Commit, []*domain.Object) {
	t.Helper()

	var objs []*domain.Object
	var manifest domain.SnapshotManifest
	for path, content := range files {
		obj := &domain.Object{
			ID:          domain.ComputeObjectID([]byte(content)),
			RepoID:      repoID,
			SizeBytes:   int64(len(content)),
			ContentType: "audio/midi",
			Content:     []byte(content),
		}
		objs = append(objs, obj)
		manifest.Entries = append(manifest.Entries, domain.SnapshotEntry{Path: path, ObjectID: obj.ID})
	}
	snap, err := domain.NewSnapshotObject(repoID, manifest)
	require.NoError(t, err)
	objs = append(objs, snap)

	c := &domain.Commit{
		RepoID:     repoID,
		ParentIDs:  parents,
		SnapshotID: snap.ID,
		Message:    msg,
		Author:     domain.CommitAuthor{Name: "Ada Lovelace", Email: "ada@example.com"},
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(len(msg)) * time.Minute),
	}
	c.ID = c.ComputeID()
	return c, objs
}

// seedRepoWithCommit creates a repo over HTTP and pushes one commit to
// its default branch. Returns the repo body and the commit.
func (f *apiFixture) seedRepoWithCommit(t *testing.T, token, name, visibility string) (map[string]interface{}, *domain.Commit) {
	t.Helper()

	w := f.do(t, http.MethodPost, "/musehub/repos", map[string]interface{}{
		"name":       name,
		"visibility": visibility,
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, "create repo: %s", w.Body.String())
	repo := decodeBody(t, w)
	repoID, _ := repo["id"].(string)
	require.NotEmpty(t, repoID)

	head, objs := buildCommit(t, repoID, nil, "first mix", map[string]string{
		"tracks/drums.mid": "drum pattern",
	})
	pw := f.do(t, http.MethodPost, "/musehub/repos/"+repoID+"/push", musehub.PushInput{
		Branch:       "main",
		HeadCommitID: head.ID,
		Commits:      []*domain.Commit{head},
		Objects:      objs,
	}, token)
	require.Equal(t, http.StatusOK, pw.Code, "push: %s", pw.Body.String())
	return repo, head
}
