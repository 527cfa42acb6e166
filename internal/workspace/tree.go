package workspace

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"musehub.io/musehub/internal/domain"
)

// SnapshotTree hashes every file in the working tree into
// content-addressed objects and builds the manifest that names them.
// The .muse directory and dotfiles at the root are skipped.
func (w *Workspace) SnapshotTree() (domain.SnapshotManifest, []*domain.Object, error) {
	var manifest domain.SnapshotManifest
	var objects []*domain.Object
	seen := make(map[string]bool)

	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == DirName || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		obj := &domain.Object{
			ID:          domain.ComputeObjectID(content),
			SizeBytes:   int64(len(content)),
			ContentType: contentTypeFor(rel),
			Content:     content,
		}
		manifest.Entries = append(manifest.Entries, domain.SnapshotEntry{
			Path:     filepath.ToSlash(rel),
			ObjectID: obj.ID,
		})
		if !seen[obj.ID] {
			seen[obj.ID] = true
			objects = append(objects, obj)
		}
		return nil
	})
	if err != nil {
		return domain.SnapshotManifest{}, nil, err
	}
	return manifest, objects, nil
}

// Materialize writes a manifest's files into the working tree. Lookup
// resolves object ids to content; paths are confined to the root.
func (w *Workspace) Materialize(manifest domain.SnapshotManifest, lookup func(objectID string) ([]byte, error)) error {
	for _, entry := range manifest.Entries {
		rel := filepath.FromSlash(entry.Path)
		if strings.Contains(entry.Path, "..") || filepath.IsAbs(rel) {
			return fmt.Errorf("refusing manifest path %q", entry.Path)
		}
		content, err := lookup(entry.ObjectID)
		if err != nil {
			return fmt.Errorf("object %s for %s: %w", domain.ShortID(entry.ObjectID), entry.Path, err)
		}
		dest := filepath.Join(w.Root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", entry.Path, err)
		}
	}
	return nil
}

// contentTypeFor guesses an object content type from the file
// extension, defaulting to octet-stream.
func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
