package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const headRefPrefix = "ref: refs/heads/"

// Head returns the branch HEAD points at.
func (w *Workspace) Head() (string, error) {
	data, err := os.ReadFile(w.headPath())
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, headRefPrefix) {
		return "", fmt.Errorf("malformed HEAD: %q", line)
	}
	return strings.TrimPrefix(line, headRefPrefix), nil
}

// SetHead points HEAD at a branch.
func (w *Workspace) SetHead(branch string) error {
	if err := validRefName(branch); err != nil {
		return err
	}
	return os.WriteFile(w.headPath(), []byte(headRefPrefix+branch+"\n"), 0o644)
}

// BranchRef returns the commit a local branch points at; empty for an
// unborn branch.
func (w *Workspace) BranchRef(branch string) (string, error) {
	return w.readRef(filepath.Join(refsDir, headsDir), branch)
}

// SetBranchRef moves a local branch to a commit.
func (w *Workspace) SetBranchRef(branch, commitID string) error {
	return w.writeRef(filepath.Join(refsDir, headsDir), branch, commitID)
}

// Branches lists local branch refs as name → head commit id.
func (w *Workspace) Branches() (map[string]string, error) {
	return w.listRefs(filepath.Join(refsDir, headsDir))
}

// TagRef returns the commit a tag points at; empty when absent.
func (w *Workspace) TagRef(name string) (string, error) {
	return w.readRef(filepath.Join(refsDir, tagsDir), name)
}

// SetTagRef freezes a tag at a commit.
func (w *Workspace) SetTagRef(name, commitID string) error {
	return w.writeRef(filepath.Join(refsDir, tagsDir), name, commitID)
}

// Tags lists tag refs as name → commit id.
func (w *Workspace) Tags() (map[string]string, error) {
	return w.listRefs(filepath.Join(refsDir, tagsDir))
}

// RemoteRef returns the last known head of remote/branch; empty when
// the branch has never been fetched.
func (w *Workspace) RemoteRef(remote, branch string) (string, error) {
	return w.readRef(filepath.Join(remotesDir, remote), branch)
}

// SetRemoteRef records the remote head observed by fetch, push, or
// pull.
func (w *Workspace) SetRemoteRef(remote, branch, commitID string) error {
	return w.writeRef(filepath.Join(remotesDir, remote), branch, commitID)
}

// DeleteRemoteRef drops a tracking file, used by fetch --prune.
func (w *Workspace) DeleteRemoteRef(remote, branch string) error {
	path := filepath.Join(w.MuseDir(), remotesDir, remote, filepath.FromSlash(branch))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoteRefs lists tracked branches for one remote.
func (w *Workspace) RemoteRefs(remote string) (map[string]string, error) {
	return w.listRefs(filepath.Join(remotesDir, remote))
}

func (w *Workspace) readRef(dir, name string) (string, error) {
	if err := validRefName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(w.MuseDir(), dir, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read ref %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (w *Workspace) writeRef(dir, name, commitID string) error {
	if err := validRefName(name); err != nil {
		return err
	}
	path := filepath.Join(w.MuseDir(), dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ref dir: %w", err)
	}
	return os.WriteFile(path, []byte(commitID+"\n"), 0o644)
}

// listRefs walks a ref directory. Branch names may contain slashes, so
// nested files map back to slash-joined names.
func (w *Workspace) listRefs(dir string) (map[string]string, error) {
	base := filepath.Join(w.MuseDir(), dir)
	refs := make(map[string]string)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		refs[filepath.ToSlash(rel)] = strings.TrimSpace(string(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// SortedRefNames returns the keys of a ref map in stable order for
// display.
func SortedRefNames(refs map[string]string) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validRefName rejects names that would escape the ref directory or
// collide with the filesystem.
func validRefName(name string) error {
	if name == "" {
		return fmt.Errorf("empty ref name")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("invalid ref name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("invalid ref name %q", name)
		}
	}
	return nil
}
