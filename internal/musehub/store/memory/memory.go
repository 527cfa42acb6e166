// Package memory implements the hub store with mutex-guarded maps.
// It backs tests and the single-node dev backend; production runs the
// postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/musehub/store"
)

// Memory is the in-process store. All public methods lock; the
// *Locked core methods assume the caller holds mu. WithTx holds the
// write lock for the whole transaction and hands fn an unlocked view,
// so transactions are fully isolated from concurrent calls.
type Memory struct {
	mu sync.RWMutex

	repos    map[string]*domain.Repo
	slugs    map[string]string
	branches map[string]map[string]*domain.Branch
	commits  map[string]map[string]*domain.Commit
	objects  map[string]map[string]*domain.Object
	tags     map[string]map[string]*domain.Tag
	pulls    map[string]map[int]*domain.PullRequest
	pullSeq  map[string]int
	users    map[string]*domain.User
	username map[string]string
	activity map[string][]*domain.ActivityEvent
}

// New creates an empty store.
func New() *Memory {
	return &Memory{
		repos:    make(map[string]*domain.Repo),
		slugs:    make(map[string]string),
		branches: make(map[string]map[string]*domain.Branch),
		commits:  make(map[string]map[string]*domain.Commit),
		objects:  make(map[string]map[string]*domain.Object),
		tags:     make(map[string]map[string]*domain.Tag),
		pulls:    make(map[string]map[int]*domain.PullRequest),
		pullSeq:  make(map[string]int),
		users:    make(map[string]*domain.User),
		username: make(map[string]string),
		activity: make(map[string][]*domain.ActivityEvent),
	}
}

var _ store.Store = (*Memory)(nil)

// --- Repos ---

func (m *Memory) CreateRepo(_ context.Context, repo *domain.Repo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createRepoLocked(repo)
}

func (m *Memory) createRepoLocked(repo *domain.Repo) error {
	if _, exists := m.repos[repo.ID]; exists {
		return fmt.Errorf("repo id %s: %w", repo.ID, store.ErrDuplicate)
	}
	if _, taken := m.slugs[repo.Slug]; taken {
		return fmt.Errorf("repo slug %s: %w", repo.Slug, store.ErrDuplicate)
	}
	now := time.Now().UTC()
	cp := cloneRepo(repo)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.repos[cp.ID] = cp
	m.slugs[cp.Slug] = cp.ID
	repo.CreatedAt = cp.CreatedAt
	repo.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *Memory) GetRepo(_ context.Context, id string) (*domain.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRepoLocked(id)
}

func (m *Memory) getRepoLocked(id string) (*domain.Repo, error) {
	r, ok := m.repos[id]
	if !ok {
		return nil, fmt.Errorf("repo %s: %w", id, store.ErrNotFound)
	}
	return cloneRepo(r), nil
}

func (m *Memory) GetRepoBySlug(_ context.Context, slug string) (*domain.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRepoBySlugLocked(slug)
}

func (m *Memory) getRepoBySlugLocked(slug string) (*domain.Repo, error) {
	id, ok := m.slugs[slug]
	if !ok {
		return nil, fmt.Errorf("repo slug %s: %w", slug, store.ErrNotFound)
	}
	return m.getRepoLocked(id)
}

func (m *Memory) ListRepos(_ context.Context, filter store.RepoFilter) ([]*domain.Repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReposLocked(filter)
}

func (m *Memory) listReposLocked(filter store.RepoFilter) ([]*domain.Repo, error) {
	out := make([]*domain.Repo, 0, len(m.repos))
	for _, r := range m.repos {
		if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Visibility != "" && r.Visibility != filter.Visibility {
			continue
		}
		out = append(out, cloneRepo(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *Memory) UpdateRepo(_ context.Context, repo *domain.Repo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRepoLocked(repo)
}

func (m *Memory) updateRepoLocked(repo *domain.Repo) error {
	prev, ok := m.repos[repo.ID]
	if !ok {
		return fmt.Errorf("repo %s: %w", repo.ID, store.ErrNotFound)
	}
	if repo.Slug != prev.Slug {
		if _, taken := m.slugs[repo.Slug]; taken {
			return fmt.Errorf("repo slug %s: %w", repo.Slug, store.ErrDuplicate)
		}
		delete(m.slugs, prev.Slug)
		m.slugs[repo.Slug] = repo.ID
	}
	cp := cloneRepo(repo)
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.repos[cp.ID] = cp
	repo.UpdatedAt = cp.UpdatedAt
	return nil
}

// --- Branches ---

func (m *Memory) GetBranch(_ context.Context, repoID, name string) (*domain.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBranchLocked(repoID, name)
}

func (m *Memory) getBranchLocked(repoID, name string) (*domain.Branch, error) {
	b, ok := m.branches[repoID][name]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", name, store.ErrNotFound)
	}
	return cloneBranch(b), nil
}

func (m *Memory) ListBranches(_ context.Context, repoID string) ([]*domain.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBranchesLocked(repoID)
}

func (m *Memory) listBranchesLocked(repoID string) ([]*domain.Branch, error) {
	out := make([]*domain.Branch, 0, len(m.branches[repoID]))
	for _, b := range m.branches[repoID] {
		out = append(out, cloneBranch(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpsertBranch(_ context.Context, branch *domain.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertBranchLocked(branch)
}

func (m *Memory) upsertBranchLocked(branch *domain.Branch) error {
	if m.branches[branch.RepoID] == nil {
		m.branches[branch.RepoID] = make(map[string]*domain.Branch)
	}
	cp := cloneBranch(branch)
	cp.UpdatedAt = time.Now().UTC()
	m.branches[branch.RepoID][branch.Name] = cp
	branch.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *Memory) DeleteBranch(_ context.Context, repoID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBranchLocked(repoID, name)
}

func (m *Memory) deleteBranchLocked(repoID, name string) error {
	if _, ok := m.branches[repoID][name]; !ok {
		return fmt.Errorf("branch %s: %w", name, store.ErrNotFound)
	}
	delete(m.branches[repoID], name)
	return nil
}

// --- Commits ---

func (m *Memory) PutCommit(_ context.Context, commit *domain.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCommitLocked(commit)
}

func (m *Memory) putCommitLocked(commit *domain.Commit) error {
	if m.commits[commit.RepoID] == nil {
		m.commits[commit.RepoID] = make(map[string]*domain.Commit)
	}
	if _, exists := m.commits[commit.RepoID][commit.ID]; exists {
		return nil
	}
	m.commits[commit.RepoID][commit.ID] = cloneCommit(commit)
	return nil
}

func (m *Memory) GetCommit(_ context.Context, repoID, id string) (*domain.Commit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCommitLocked(repoID, id)
}

func (m *Memory) getCommitLocked(repoID, id string) (*domain.Commit, error) {
	c, ok := m.commits[repoID][id]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", domain.ShortID(id), store.ErrNotFound)
	}
	return cloneCommit(c), nil
}

func (m *Memory) CommitExists(_ context.Context, repoID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.commits[repoID][id]
	return ok, nil
}

// --- Objects ---

func (m *Memory) PutObject(_ context.Context, obj *domain.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putObjectLocked(obj)
}

func (m *Memory) putObjectLocked(obj *domain.Object) error {
	if m.objects[obj.RepoID] == nil {
		m.objects[obj.RepoID] = make(map[string]*domain.Object)
	}
	if _, exists := m.objects[obj.RepoID][obj.ID]; exists {
		return nil
	}
	cp := cloneObject(obj)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.objects[obj.RepoID][obj.ID] = cp
	return nil
}

func (m *Memory) GetObject(_ context.Context, repoID, id string) (*domain.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getObjectLocked(repoID, id)
}

func (m *Memory) getObjectLocked(repoID, id string) (*domain.Object, error) {
	o, ok := m.objects[repoID][id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", domain.ShortID(id), store.ErrNotFound)
	}
	return cloneObject(o), nil
}

func (m *Memory) GetObjectMeta(_ context.Context, repoID, id string) (*domain.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getObjectMetaLocked(repoID, id)
}

func (m *Memory) getObjectMetaLocked(repoID, id string) (*domain.Object, error) {
	o, err := m.getObjectLocked(repoID, id)
	if err != nil {
		return nil, err
	}
	o.Content = nil
	return o, nil
}

func (m *Memory) ObjectExists(_ context.Context, repoID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[repoID][id]
	return ok, nil
}

// --- Tags ---

func (m *Memory) UpsertTag(_ context.Context, tag *domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertTagLocked(tag)
}

func (m *Memory) upsertTagLocked(tag *domain.Tag) error {
	if m.tags[tag.RepoID] == nil {
		m.tags[tag.RepoID] = make(map[string]*domain.Tag)
	}
	cp := cloneTag(tag)
	if prev, ok := m.tags[tag.RepoID][tag.Name]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.tags[tag.RepoID][tag.Name] = cp
	return nil
}

func (m *Memory) GetTag(_ context.Context, repoID, name string) (*domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTagLocked(repoID, name)
}

func (m *Memory) getTagLocked(repoID, name string) (*domain.Tag, error) {
	t, ok := m.tags[repoID][name]
	if !ok {
		return nil, fmt.Errorf("tag %s: %w", name, store.ErrNotFound)
	}
	return cloneTag(t), nil
}

func (m *Memory) ListTags(_ context.Context, repoID string) ([]*domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTagsLocked(repoID)
}

func (m *Memory) listTagsLocked(repoID string) ([]*domain.Tag, error) {
	out := make([]*domain.Tag, 0, len(m.tags[repoID]))
	for _, t := range m.tags[repoID] {
		out = append(out, cloneTag(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteTag(_ context.Context, repoID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTagLocked(repoID, name)
}

func (m *Memory) deleteTagLocked(repoID, name string) error {
	if _, ok := m.tags[repoID][name]; !ok {
		return fmt.Errorf("tag %s: %w", name, store.ErrNotFound)
	}
	delete(m.tags[repoID], name)
	return nil
}

// --- Pull requests ---

func (m *Memory) CreatePullRequest(_ context.Context, pr *domain.PullRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPullRequestLocked(pr)
}

func (m *Memory) createPullRequestLocked(pr *domain.PullRequest) error {
	if m.pulls[pr.RepoID] == nil {
		m.pulls[pr.RepoID] = make(map[int]*domain.PullRequest)
	}
	m.pullSeq[pr.RepoID]++
	now := time.Now().UTC()
	cp := clonePull(pr)
	cp.Number = m.pullSeq[pr.RepoID]
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.pulls[pr.RepoID][cp.Number] = cp
	pr.Number = cp.Number
	pr.CreatedAt = cp.CreatedAt
	pr.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *Memory) GetPullRequest(_ context.Context, repoID string, number int) (*domain.PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPullRequestLocked(repoID, number)
}

func (m *Memory) getPullRequestLocked(repoID string, number int) (*domain.PullRequest, error) {
	pr, ok := m.pulls[repoID][number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d: %w", number, store.ErrNotFound)
	}
	return clonePull(pr), nil
}

func (m *Memory) ListPullRequests(_ context.Context, repoID string, status domain.PullStatus) ([]*domain.PullRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPullRequestsLocked(repoID, status)
}

func (m *Memory) listPullRequestsLocked(repoID string, status domain.PullStatus) ([]*domain.PullRequest, error) {
	out := make([]*domain.PullRequest, 0, len(m.pulls[repoID]))
	for _, pr := range m.pulls[repoID] {
		if status != "" && pr.Status != status {
			continue
		}
		out = append(out, clonePull(pr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (m *Memory) UpdatePullRequest(_ context.Context, pr *domain.PullRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePullRequestLocked(pr)
}

func (m *Memory) updatePullRequestLocked(pr *domain.PullRequest) error {
	prev, ok := m.pulls[pr.RepoID][pr.Number]
	if !ok {
		return fmt.Errorf("pull request #%d: %w", pr.Number, store.ErrNotFound)
	}
	cp := clonePull(pr)
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.pulls[pr.RepoID][pr.Number] = cp
	pr.UpdatedAt = cp.UpdatedAt
	return nil
}

// --- Users ---

func (m *Memory) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(user)
}

func (m *Memory) createUserLocked(user *domain.User) error {
	key := usernameKey(user.Username)
	if _, taken := m.username[key]; taken {
		return fmt.Errorf("username %s: %w", user.Username, store.ErrDuplicate)
	}
	cp := cloneUser(user)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.users[cp.ID] = cp
	m.username[key] = cp.ID
	user.CreatedAt = cp.CreatedAt
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserByUsernameLocked(username)
}

func (m *Memory) getUserByUsernameLocked(username string) (*domain.User, error) {
	id, ok := m.username[usernameKey(username)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
	}
	return m.getUserLocked(id)
}

// --- Activity ---

func (m *Memory) AddActivity(_ context.Context, event *domain.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addActivityLocked(event)
}

func (m *Memory) addActivityLocked(event *domain.ActivityEvent) error {
	cp := *event
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.activity[event.RepoID] = append(m.activity[event.RepoID], &cp)
	return nil
}

func (m *Memory) ListActivity(_ context.Context, repoID string, limit int) ([]*domain.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActivityLocked(repoID, limit)
}

func (m *Memory) listActivityLocked(repoID string, limit int) ([]*domain.ActivityEvent, error) {
	feed := m.activity[repoID]
	if limit <= 0 || limit > len(feed) {
		limit = len(feed)
	}
	out := make([]*domain.ActivityEvent, 0, limit)
	for i := len(feed) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *feed[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DeleteActivityBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteActivityBeforeLocked(cutoff)
}

func (m *Memory) deleteActivityBeforeLocked(cutoff time.Time) (int64, error) {
	var deleted int64
	for repoID, feed := range m.activity {
		kept := feed[:0:0]
		for _, ev := range feed {
			if ev.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, ev)
		}
		m.activity[repoID] = kept
	}
	return deleted, nil
}

// --- Transactions ---

// WithTx holds the write lock for the duration of fn and hands it a
// view whose methods skip locking. On error the pre-transaction maps
// are restored, so partial writes never leak.
func (m *Memory) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked()
	if err := fn(txView{m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

// Ping always succeeds; the maps are process-local.
func (m *Memory) Ping(context.Context) error { return nil }

// txView exposes the locked cores as a store.Store while WithTx holds
// the write lock.
type txView struct{ m *Memory }

var _ store.Store = txView{}

func (t txView) CreateRepo(_ context.Context, repo *domain.Repo) error { return t.m.createRepoLocked(repo) }
func (t txView) GetRepo(_ context.Context, id string) (*domain.Repo, error) {
	return t.m.getRepoLocked(id)
}
func (t txView) GetRepoBySlug(_ context.Context, slug string) (*domain.Repo, error) {
	return t.m.getRepoBySlugLocked(slug)
}
func (t txView) ListRepos(_ context.Context, f store.RepoFilter) ([]*domain.Repo, error) {
	return t.m.listReposLocked(f)
}
func (t txView) UpdateRepo(_ context.Context, repo *domain.Repo) error { return t.m.updateRepoLocked(repo) }
func (t txView) GetBranch(_ context.Context, repoID, name string) (*domain.Branch, error) {
	return t.m.getBranchLocked(repoID, name)
}
func (t txView) ListBranches(_ context.Context, repoID string) ([]*domain.Branch, error) {
	return t.m.listBranchesLocked(repoID)
}
func (t txView) UpsertBranch(_ context.Context, b *domain.Branch) error {
	return t.m.upsertBranchLocked(b)
}
func (t txView) DeleteBranch(_ context.Context, repoID, name string) error {
	return t.m.deleteBranchLocked(repoID, name)
}
func (t txView) PutCommit(_ context.Context, c *domain.Commit) error { return t.m.putCommitLocked(c) }
func (t txView) GetCommit(_ context.Context, repoID, id string) (*domain.Commit, error) {
	return t.m.getCommitLocked(repoID, id)
}
func (t txView) CommitExists(_ context.Context, repoID, id string) (bool, error) {
	_, ok := t.m.commits[repoID][id]
	return ok, nil
}
func (t txView) PutObject(_ context.Context, o *domain.Object) error { return t.m.putObjectLocked(o) }
func (t txView) GetObject(_ context.Context, repoID, id string) (*domain.Object, error) {
	return t.m.getObjectLocked(repoID, id)
}
func (t txView) GetObjectMeta(_ context.Context, repoID, id string) (*domain.Object, error) {
	return t.m.getObjectMetaLocked(repoID, id)
}
func (t txView) ObjectExists(_ context.Context, repoID, id string) (bool, error) {
	_, ok := t.m.objects[repoID][id]
	return ok, nil
}
func (t txView) UpsertTag(_ context.Context, tag *domain.Tag) error { return t.m.upsertTagLocked(tag) }
func (t txView) GetTag(_ context.Context, repoID, name string) (*domain.Tag, error) {
	return t.m.getTagLocked(repoID, name)
}
func (t txView) ListTags(_ context.Context, repoID string) ([]*domain.Tag, error) {
	return t.m.listTagsLocked(repoID)
}
func (t txView) DeleteTag(_ context.Context, repoID, name string) error {
	return t.m.deleteTagLocked(repoID, name)
}
func (t txView) CreatePullRequest(_ context.Context, pr *domain.PullRequest) error {
	return t.m.createPullRequestLocked(pr)
}
func (t txView) GetPullRequest(_ context.Context, repoID string, number int) (*domain.PullRequest, error) {
	return t.m.getPullRequestLocked(repoID, number)
}
func (t txView) ListPullRequests(_ context.Context, repoID string, status domain.PullStatus) ([]*domain.PullRequest, error) {
	return t.m.listPullRequestsLocked(repoID, status)
}
func (t txView) UpdatePullRequest(_ context.Context, pr *domain.PullRequest) error {
	return t.m.updatePullRequestLocked(pr)
}
func (t txView) CreateUser(_ context.Context, u *domain.User) error { return t.m.createUserLocked(u) }
func (t txView) GetUser(_ context.Context, id string) (*domain.User, error) {
	return t.m.getUserLocked(id)
}
func (t txView) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return t.m.getUserByUsernameLocked(username)
}
func (t txView) AddActivity(_ context.Context, ev *domain.ActivityEvent) error {
	return t.m.addActivityLocked(ev)
}
func (t txView) ListActivity(_ context.Context, repoID string, limit int) ([]*domain.ActivityEvent, error) {
	return t.m.listActivityLocked(repoID, limit)
}
func (t txView) DeleteActivityBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return t.m.deleteActivityBeforeLocked(cutoff)
}

// WithTx on a transaction view runs fn against the same transaction.
func (t txView) WithTx(_ context.Context, fn func(tx store.Store) error) error { return fn(t) }

func (t txView) Ping(context.Context) error { return nil }

// --- Snapshot / restore ---

// memSnapshot captures map headers one level deep. Stored values are
// never mutated in place (writes always install clones), so sharing
// the value pointers between snapshot and live maps is safe.
type memSnapshot struct {
	repos    map[string]*domain.Repo
	slugs    map[string]string
	branches map[string]map[string]*domain.Branch
	commits  map[string]map[string]*domain.Commit
	objects  map[string]map[string]*domain.Object
	tags     map[string]map[string]*domain.Tag
	pulls    map[string]map[int]*domain.PullRequest
	pullSeq  map[string]int
	users    map[string]*domain.User
	username map[string]string
	activity map[string][]*domain.ActivityEvent
}

func (m *Memory) snapshotLocked() memSnapshot {
	return memSnapshot{
		repos:    copyMap(m.repos),
		slugs:    copyMap(m.slugs),
		branches: copyNested(m.branches),
		commits:  copyNested(m.commits),
		objects:  copyNested(m.objects),
		tags:     copyNested(m.tags),
		pulls:    copyNested(m.pulls),
		pullSeq:  copyMap(m.pullSeq),
		users:    copyMap(m.users),
		username: copyMap(m.username),
		activity: copyFeeds(m.activity),
	}
}

func (m *Memory) restoreLocked(snap memSnapshot) {
	m.repos = snap.repos
	m.slugs = snap.slugs
	m.branches = snap.branches
	m.commits = snap.commits
	m.objects = snap.objects
	m.tags = snap.tags
	m.pulls = snap.pulls
	m.pullSeq = snap.pullSeq
	m.users = snap.users
	m.username = snap.username
	m.activity = snap.activity
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyNested[K comparable, V any](src map[string]map[K]V) map[string]map[K]V {
	dst := make(map[string]map[K]V, len(src))
	for repoID, inner := range src {
		dst[repoID] = copyMap(inner)
	}
	return dst
}

func copyFeeds(src map[string][]*domain.ActivityEvent) map[string][]*domain.ActivityEvent {
	dst := make(map[string][]*domain.ActivityEvent, len(src))
	for repoID, feed := range src {
		dst[repoID] = append([]*domain.ActivityEvent(nil), feed...)
	}
	return dst
}

// --- Clones ---

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func cloneRepo(r *domain.Repo) *domain.Repo {
	cp := *r
	return &cp
}

func cloneBranch(b *domain.Branch) *domain.Branch {
	cp := *b
	return &cp
}

func cloneCommit(c *domain.Commit) *domain.Commit {
	cp := *c
	cp.ParentIDs = append([]string(nil), c.ParentIDs...)
	if c.Metadata != nil {
		cp.Metadata = copyMap(c.Metadata)
	}
	return &cp
}

func cloneObject(o *domain.Object) *domain.Object {
	cp := *o
	cp.Content = append([]byte(nil), o.Content...)
	return &cp
}

func cloneTag(t *domain.Tag) *domain.Tag {
	cp := *t
	return &cp
}

func clonePull(pr *domain.PullRequest) *domain.PullRequest {
	cp := *pr
	return &cp
}

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}
