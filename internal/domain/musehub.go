package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RepoVisibility controls who may read a repository.
type RepoVisibility string

const (
	RepoPublic  RepoVisibility = "public"
	RepoPrivate RepoVisibility = "private"
)

// ValidVisibility reports whether v is a known visibility.
func ValidVisibility(v RepoVisibility) bool {
	return v == RepoPublic || v == RepoPrivate
}

// Repo is a hosted music repository. Branches and tags are refs owned by
// the repo; commits and objects are append-only content under it.
type Repo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Slug          string         `json:"slug"`
	OwnerID       string         `json:"owner_id"`
	Description   string         `json:"description,omitempty"`
	Visibility    RepoVisibility `json:"visibility"`
	DefaultBranch string         `json:"default_branch"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Branch is a mutable ref: one name pointing at a commit.
type Branch struct {
	RepoID       string    `json:"repo_id,omitempty"`
	Name         string    `json:"name"`
	HeadCommitID string    `json:"head_commit_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CommitAuthor identifies who wrote a commit. UserID is set when the
// author is a known hub account, empty for CLI-only identities.
type CommitAuthor struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	UserID string `json:"user_id,omitempty"`
}

// Commit is an immutable, content-addressed snapshot reference.
// ParentIDs are ordered: a merge commit lists the receiving branch head
// first. Metadata rides along but is excluded from the id hash.
type Commit struct {
	ID         string            `json:"id"`
	RepoID     string            `json:"repo_id,omitempty"`
	ParentIDs  []string          `json:"parent_ids"`
	SnapshotID string            `json:"snapshot_id"`
	Message    string            `json:"message"`
	Author     CommitAuthor      `json:"author"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ComputeCommitID hashes the identity fields of a commit. The canonical
// form is line-oriented so both the hub and the CLI derive identical ids:
//
//	parents <id>,<id>
//	snapshot <id>
//	author <name> <email>
//	time <unix-seconds>
//
//	<message>
//
// Timestamps hash at second precision; sub-second drift between client
// clocks and serialization formats must not change the id.
func ComputeCommitID(parentIDs []string, snapshotID, message string, author CommitAuthor, ts time.Time) string {
	h := sha256.New()
	io.WriteString(h, "parents "+strings.Join(parentIDs, ",")+"\n")
	io.WriteString(h, "snapshot "+snapshotID+"\n")
	io.WriteString(h, "author "+author.Name+" "+author.Email+"\n")
	io.WriteString(h, "time "+strconv.FormatInt(ts.UTC().Unix(), 10)+"\n")
	io.WriteString(h, "\n")
	io.WriteString(h, message)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeID returns the content address for the commit's current fields.
func (c *Commit) ComputeID() string {
	return ComputeCommitID(c.ParentIDs, c.SnapshotID, c.Message, c.Author, c.Timestamp)
}

// VerifyID reports whether the commit's stored ID matches its content.
func (c *Commit) VerifyID() bool {
	return c.ID != "" && c.ID == c.ComputeID()
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool { return len(c.ParentIDs) > 1 }

// ShortID returns the abbreviated form of a content address for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// SnapshotContentType marks an object as a snapshot manifest rather than
// raw track content.
const SnapshotContentType = "application/x-muse-snapshot"

// Object is a content-addressed artefact: track audio, MIDI, project
// files, or a snapshot manifest. ID is the sha256 of Content.
type Object struct {
	ID          string    `json:"id"`
	RepoID      string    `json:"repo_id,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"content,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// ComputeObjectID hashes object content into its address.
func ComputeObjectID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// VerifyID reports whether the object's stored ID matches its content.
func (o *Object) VerifyID() bool {
	return o.ID != "" && o.ID == ComputeObjectID(o.Content)
}

// SnapshotEntry maps one working-tree path to the object holding its
// content. Paths use forward slashes; the first segment is the track.
type SnapshotEntry struct {
	Path     string `json:"path"`
	ObjectID string `json:"objectId"`
}

// SnapshotManifest lists every file in a committed tree.
type SnapshotManifest struct {
	Entries []SnapshotEntry `json:"entries"`
}

// EncodeSnapshot renders the manifest in canonical form: entries sorted
// by path, compact JSON. Canonical encoding keeps manifest object ids
// stable regardless of tree-walk order.
func EncodeSnapshot(m SnapshotManifest) ([]byte, error) {
	entries := make([]SnapshotEntry, len(m.Entries))
	copy(entries, m.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return json.Marshal(SnapshotManifest{Entries: entries})
}

// DecodeSnapshot parses manifest content back into entries.
func DecodeSnapshot(content []byte) (SnapshotManifest, error) {
	var m SnapshotManifest
	if err := json.Unmarshal(content, &m); err != nil {
		return SnapshotManifest{}, fmt.Errorf("decode snapshot manifest: %w", err)
	}
	return m, nil
}

// NewSnapshotObject encodes a manifest and wraps it as a content-addressed
// object ready for storage.
func NewSnapshotObject(repoID string, m SnapshotManifest) (*Object, error) {
	content, err := EncodeSnapshot(m)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot manifest: %w", err)
	}
	return &Object{
		ID:          ComputeObjectID(content),
		RepoID:      repoID,
		SizeBytes:   int64(len(content)),
		ContentType: SnapshotContentType,
		Content:     content,
	}, nil
}

// FilterTrack returns the subset of the manifest whose paths live under
// the named first segment. Used for single-track checkouts.
func (m SnapshotManifest) FilterTrack(track string) SnapshotManifest {
	var out SnapshotManifest
	for _, e := range m.Entries {
		if TrackSegment(e.Path) == track {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// TrackSegment extracts the first path segment, the track directory.
func TrackSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// Tag is a static ref: a name frozen at a commit.
type Tag struct {
	RepoID    string    `json:"repo_id,omitempty"`
	Name      string    `json:"name"`
	CommitID  string    `json:"commit_id"`
	Message   string    `json:"message,omitempty"`
	TaggerID  string    `json:"tagger_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PullStatus is the lifecycle state of a pull request.
type PullStatus string

const (
	PullOpen   PullStatus = "open"
	PullMerged PullStatus = "merged"
	PullClosed PullStatus = "closed"
	PullDraft  PullStatus = "draft"
)

// ValidPullStatus reports whether s is a known pull request status.
func ValidPullStatus(s PullStatus) bool {
	switch s {
	case PullOpen, PullMerged, PullClosed, PullDraft:
		return true
	}
	return false
}

// PullRequest proposes merging FromBranch into ToBranch. Number is
// repo-scoped and monotonically assigned on open.
type PullRequest struct {
	ID            string     `json:"id"`
	RepoID        string     `json:"repo_id"`
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	Body          string     `json:"body,omitempty"`
	FromBranch    string     `json:"from_branch"`
	ToBranch      string     `json:"to_branch"`
	Status        PullStatus `json:"status"`
	AuthorID      string     `json:"author_id"`
	MergeCommitID string     `json:"merge_commit_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// User is a hub account. PasswordHash never serializes.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActivityKind classifies repo activity feed entries.
type ActivityKind string

const (
	ActivityPush          ActivityKind = "push"
	ActivityPROpened      ActivityKind = "pr_opened"
	ActivityPRMerged      ActivityKind = "pr_merged"
	ActivityPRClosed      ActivityKind = "pr_closed"
	ActivityTag           ActivityKind = "tag"
	ActivityBranchCreated ActivityKind = "branch_created"
	ActivityRepoCreated   ActivityKind = "repo_created"
)

// ActivityEvent is one entry in a repo's activity feed. Ref names the
// branch, tag, or PR the event touched; Detail is freeform display text.
type ActivityEvent struct {
	ID        string       `json:"id"`
	RepoID    string       `json:"repo_id"`
	Kind      ActivityKind `json:"kind"`
	ActorID   string       `json:"actor_id,omitempty"`
	Ref       string       `json:"ref,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Slugify normalizes a repo name into its URL slug: lowercase, spaces and
// runs of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
