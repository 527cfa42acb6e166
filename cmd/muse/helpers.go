package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/domain"
	"musehub.io/musehub/internal/hubclient"
	"musehub.io/musehub/internal/localdb"
	"musehub.io/musehub/internal/workspace"
)

// session bundles everything a command needs once it is inside a
// workspace: the checkout, its config, the mirror, and a logger.
type session struct {
	ws     *workspace.Workspace
	cfg    *workspace.Config
	mirror *localdb.DB
	log    *zap.Logger
}

// openSession locates the enclosing workspace and opens its state.
// Callers own Close.
func openSession() (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Find(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := ws.LoadConfig()
	if err != nil {
		return nil, err
	}
	mirror, err := localdb.Open(ws.DBPath())
	if err != nil {
		return nil, err
	}
	return &session{
		ws:     ws,
		cfg:    cfg,
		mirror: mirror,
		log:    workspace.NewCLILogger(ws.LogPath(), verbose),
	}, nil
}

func (s *session) Close() {
	if s.mirror != nil {
		s.mirror.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

// remoteClient builds a hub client for a named remote using the
// stored token.
func (s *session) remoteClient(name string) (*hubclient.Client, workspace.Remote, error) {
	remote, ok := s.cfg.Remote(name)
	if !ok {
		return nil, workspace.Remote{}, fmt.Errorf("unknown remote %q (muse remote add %s <url>)", name, name)
	}
	client := hubclient.New(remote.URL, s.cfg.Auth.Token, hubclient.WithLogger(s.log))
	return client, remote, nil
}

// resolveBranchRemote picks the branch (HEAD unless overridden) and
// its remote (flag, upstream config, or the lone remote).
func (s *session) resolveBranchRemote(remoteFlag, branchArg string) (remote, branch string, err error) {
	branch = branchArg
	if branch == "" {
		branch, err = s.ws.Head()
		if err != nil {
			return "", "", err
		}
	}
	remote = remoteFlag
	if remote == "" {
		var ok bool
		remote, _, ok = s.cfg.UpstreamFor(branch)
		if !ok {
			return "", "", fmt.Errorf("no upstream for branch %q; use --remote or muse push --set-upstream", branch)
		}
	}
	return remote, branch, nil
}

// collectPushDelta gathers the commits reachable from head but not
// from the remote tracking head, oldest first, plus every object
// their snapshots reference. The server skips duplicates, so
// over-sending is safe; under-sending is not.
func collectPushDelta(mirror *localdb.DB, head, trackingHead string) ([]*domain.Commit, []*domain.Object, error) {
	localReach, err := mirror.Ancestry(head)
	if err != nil {
		return nil, nil, err
	}
	remoteReach := map[string]bool{}
	if trackingHead != "" {
		remoteReach, err = mirror.Ancestry(trackingHead)
		if err != nil {
			return nil, nil, err
		}
	}

	var commits []*domain.Commit
	for id := range localReach {
		if remoteReach[id] {
			continue
		}
		c, err := mirror.GetCommit(id)
		if err != nil {
			return nil, nil, err
		}
		commits = append(commits, c)
	}
	// Oldest first so the server sees parents before children; ties
	// break on id for determinism.
	sort.Slice(commits, func(i, j int) bool {
		if !commits[i].Timestamp.Equal(commits[j].Timestamp) {
			return commits[i].Timestamp.Before(commits[j].Timestamp)
		}
		return commits[i].ID < commits[j].ID
	})

	var objects []*domain.Object
	seen := make(map[string]bool)
	addObject := func(id string) error {
		if id == "" || seen[id] {
			return nil
		}
		obj, err := mirror.GetObject(id)
		if err != nil {
			return fmt.Errorf("snapshot content missing from mirror: %w", err)
		}
		seen[id] = true
		objects = append(objects, obj)
		return nil
	}
	for _, c := range commits {
		if err := addObject(c.SnapshotID); err != nil {
			return nil, nil, err
		}
		manifestObj, err := mirror.GetObject(c.SnapshotID)
		if err != nil {
			return nil, nil, err
		}
		manifest, err := domain.DecodeSnapshot(manifestObj.Content)
		if err != nil {
			return nil, nil, err
		}
		for _, entry := range manifest.Entries {
			if err := addObject(entry.ObjectID); err != nil {
				return nil, nil, err
			}
		}
	}
	return commits, objects, nil
}

// storeSyncPayload mirrors commits and objects received from the hub.
func storeSyncPayload(mirror *localdb.DB, commits []*domain.Commit, objects []*domain.Object) error {
	for _, o := range objects {
		if err := mirror.PutObject(o); err != nil {
			return err
		}
	}
	for _, c := range commits {
		if err := mirror.PutCommit(c); err != nil {
			return err
		}
	}
	return nil
}

// checkoutManifest materializes a snapshot manifest from the mirror
// into the working tree.
func checkoutManifest(ws *workspace.Workspace, mirror *localdb.DB, manifestID string) error {
	if manifestID == "" {
		return nil
	}
	content, err := mirror.ObjectContent(manifestID)
	if err != nil {
		return err
	}
	manifest, err := domain.DecodeSnapshot(content)
	if err != nil {
		return err
	}
	return ws.Materialize(manifest, mirror.ObjectContent)
}

// localTags converts the workspace tag refs into push payload tags.
func localTags(ws *workspace.Workspace) ([]*domain.Tag, error) {
	refs, err := ws.Tags()
	if err != nil {
		return nil, err
	}
	var tags []*domain.Tag
	for _, name := range workspace.SortedRefNames(refs) {
		tags = append(tags, &domain.Tag{Name: name, CommitID: refs[name]})
	}
	return tags, nil
}

// commitAuthor resolves the author identity from config, falling back
// to the OS user for name only.
func commitAuthor(cfg *workspace.Config) (domain.CommitAuthor, error) {
	if cfg.User.Name == "" {
		return domain.CommitAuthor{}, fmt.Errorf("author identity not set; add [user] name/email to .muse/config.toml")
	}
	return domain.CommitAuthor{Name: cfg.User.Name, Email: cfg.User.Email}, nil
}

func shortTime(t time.Time) string { return t.Local().Format("2006-01-02 15:04") }

// firstLine truncates a commit message for one-line displays.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
