// Package workspace manages the on-disk layout of a muse checkout: the
// .muse directory with its config, refs, remote-tracking state, lock
// file, logs, and the SQLite mirror. Everything outside .muse is the
// working tree.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirName is the metadata directory at the workspace root.
const DirName = ".muse"

const (
	configFile = "config.toml"
	headFile   = "HEAD"
	lockFile   = "lock"
	dbFile     = "muse.db"
	logDir     = "logs"
	refsDir    = "refs"
	headsDir   = "heads"
	tagsDir    = "tags"
	remotesDir = "remotes"
)

// DefaultBranch is used by init and clone when nothing else is named.
const DefaultBranch = "main"

// ErrNotRepository means no .muse directory was found walking up from
// the starting point.
var ErrNotRepository = errors.New("not a muse repository (no .muse directory found)")

// ErrLocked means another muse process holds the workspace lock.
var ErrLocked = errors.New("workspace is locked by another muse process")

// Workspace is one muse checkout rooted at Root.
type Workspace struct {
	Root string
}

// MuseDir returns the metadata directory path.
func (w *Workspace) MuseDir() string { return filepath.Join(w.Root, DirName) }

// DBPath returns the SQLite mirror location.
func (w *Workspace) DBPath() string { return filepath.Join(w.MuseDir(), dbFile) }

// LogPath returns the rotating CLI log location.
func (w *Workspace) LogPath() string { return filepath.Join(w.MuseDir(), logDir, "muse.log") }

func (w *Workspace) configPath() string { return filepath.Join(w.MuseDir(), configFile) }
func (w *Workspace) headPath() string   { return filepath.Join(w.MuseDir(), headFile) }

// Init creates the .muse structure in dir. Initializing an existing
// workspace is an error; re-running init must not clobber state.
func Init(dir, defaultBranch string) (*Workspace, error) {
	if defaultBranch == "" {
		defaultBranch = DefaultBranch
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	museDir := filepath.Join(abs, DirName)
	if _, err := os.Stat(museDir); err == nil {
		return nil, fmt.Errorf("%s already exists", museDir)
	}
	for _, sub := range []string{
		filepath.Join(refsDir, headsDir),
		filepath.Join(refsDir, tagsDir),
		remotesDir,
		logDir,
	} {
		if err := os.MkdirAll(filepath.Join(museDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	w := &Workspace{Root: abs}
	if err := w.SetHead(defaultBranch); err != nil {
		return nil, err
	}
	if err := w.SaveConfig(&Config{}); err != nil {
		return nil, err
	}
	return w, nil
}

// Find walks up from start looking for a .muse directory.
func Find(start string) (*Workspace, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}
	for {
		info, err := os.Stat(filepath.Join(dir, DirName))
		if err == nil && info.IsDir() {
			return &Workspace{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotRepository
		}
		dir = parent
	}
}

// Lock takes the exclusive workspace lock. Mutating commands hold it
// for their whole run so concurrent muse invocations cannot corrupt
// refs or the mirror.
func (w *Workspace) Lock() (release func(), err error) {
	fl := flock.New(filepath.Join(w.MuseDir(), lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = fl.Unlock() }, nil
}
