// Package localdb is the CLI's local mirror of hub history: commits
// and content-addressed objects in a single SQLite file under .muse.
// The mirror is a cache of truth held elsewhere (the hub, the working
// tree), so the schema stays flat and rebuildable.
package localdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"musehub.io/musehub/internal/domain"
)

// ErrNotFound marks a missing commit or object.
var ErrNotFound = errors.New("localdb: not found")

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	id             TEXT PRIMARY KEY,
	parent_ids     TEXT NOT NULL DEFAULT '[]',
	snapshot_id    TEXT NOT NULL,
	message        TEXT NOT NULL,
	author_name    TEXT NOT NULL DEFAULT '',
	author_email   TEXT NOT NULL DEFAULT '',
	author_user_id TEXT NOT NULL DEFAULT '',
	ts             INTEGER NOT NULL,
	metadata       TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS objects (
	id           TEXT PRIMARY KEY,
	size_bytes   INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	content      BLOB NOT NULL
);
`

// DB is the open mirror.
type DB struct {
	sql *sql.DB
}

// Open opens (and if needed bootstraps) the mirror at path. Use
// ":memory:" in tests.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap mirror schema: %w", err)
	}
	return &DB{sql: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// PutCommit stores a commit. Content addressing makes re-inserting the
// same id a no-op.
func (d *DB) PutCommit(c *domain.Commit) error {
	parents, err := json.Marshal(c.ParentIDs)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	_, err = d.sql.Exec(`
		INSERT INTO commits (id, parent_ids, snapshot_id, message, author_name, author_email, author_user_id, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, string(parents), c.SnapshotID, c.Message,
		c.Author.Name, c.Author.Email, c.Author.UserID,
		c.Timestamp.UTC().Unix(), string(meta),
	)
	if err != nil {
		return fmt.Errorf("store commit %s: %w", domain.ShortID(c.ID), err)
	}
	return nil
}

// GetCommit loads one commit by id.
func (d *DB) GetCommit(id string) (*domain.Commit, error) {
	row := d.sql.QueryRow(`
		SELECT id, parent_ids, snapshot_id, message, author_name, author_email, author_user_id, ts, metadata
		FROM commits WHERE id = ?`, id)
	return scanCommit(row)
}

// HasCommit reports whether a commit is mirrored.
func (d *DB) HasCommit(id string) (bool, error) {
	var n int
	err := d.sql.QueryRow(`SELECT COUNT(1) FROM commits WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// CommitIDs lists every mirrored commit id. Push and pull send these
// as have sets.
func (d *DB) CommitIDs() ([]string, error) {
	return d.listIDs(`SELECT id FROM commits ORDER BY id`)
}

// PutObject stores a content-addressed object, idempotently.
func (d *DB) PutObject(o *domain.Object) error {
	_, err := d.sql.Exec(`
		INSERT INTO objects (id, size_bytes, content_type, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, int64(len(o.Content)), o.ContentType, o.Content,
	)
	if err != nil {
		return fmt.Errorf("store object %s: %w", domain.ShortID(o.ID), err)
	}
	return nil
}

// GetObject loads one object with its content.
func (d *DB) GetObject(id string) (*domain.Object, error) {
	var o domain.Object
	err := d.sql.QueryRow(`
		SELECT id, size_bytes, content_type, content FROM objects WHERE id = ?`, id).
		Scan(&o.ID, &o.SizeBytes, &o.ContentType, &o.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", domain.ShortID(id), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ObjectContent is GetObject for callers that only need bytes.
func (d *DB) ObjectContent(id string) ([]byte, error) {
	o, err := d.GetObject(id)
	if err != nil {
		return nil, err
	}
	return o.Content, nil
}

// HasObject reports whether an object is mirrored.
func (d *DB) HasObject(id string) (bool, error) {
	var n int
	err := d.sql.QueryRow(`SELECT COUNT(1) FROM objects WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// ObjectIDs lists every mirrored object id.
func (d *DB) ObjectIDs() ([]string, error) {
	return d.listIDs(`SELECT id FROM objects ORDER BY id`)
}

// Ancestry walks parents breadth-first from head and returns every
// reachable mirrored commit id, head included. Commits absent from the
// mirror terminate their branch of the walk (shallow clones).
func (d *DB) Ancestry(head string) (map[string]bool, error) {
	reach := make(map[string]bool)
	queue := []string{head}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == "" || reach[id] {
			continue
		}
		c, err := d.GetCommit(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reach[id] = true
		queue = append(queue, c.ParentIDs...)
	}
	return reach, nil
}

// IsAncestor reports whether ancestor is reachable from head. A commit
// is its own ancestor.
func (d *DB) IsAncestor(ancestor, head string) (bool, error) {
	if ancestor == "" || head == "" {
		return false, nil
	}
	reach, err := d.Ancestry(head)
	if err != nil {
		return false, err
	}
	return reach[ancestor], nil
}

// FirstParentLog returns up to limit commits following first parents
// from head, newest first. Merge side branches are skipped, matching
// what muse log prints.
func (d *DB) FirstParentLog(head string, limit int) ([]*domain.Commit, error) {
	var out []*domain.Commit
	id := head
	for id != "" && (limit <= 0 || len(out) < limit) {
		c, err := d.GetCommit(id)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if len(c.ParentIDs) == 0 {
			break
		}
		id = c.ParentIDs[0]
	}
	return out, nil
}

func (d *DB) listIDs(query string) ([]string, error) {
	rows, err := d.sql.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanCommit(row *sql.Row) (*domain.Commit, error) {
	var (
		c        domain.Commit
		parents  string
		meta     string
		unixSecs int64
	)
	err := row.Scan(&c.ID, &parents, &c.SnapshotID, &c.Message,
		&c.Author.Name, &c.Author.Email, &c.Author.UserID, &unixSecs, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("commit: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(parents), &c.ParentIDs); err != nil {
		return nil, fmt.Errorf("decode parent ids: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	c.Timestamp = time.Unix(unixSecs, 0).UTC()
	return &c, nil
}
