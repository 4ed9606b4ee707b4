package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cubeo/internal/cubeo"
)

// FileSystemCorpus is a remote corpus kept in a directory, typically a
// shared or synchronized folder:
//
//	<root>/
//	  palabras/
//	    <id>.json
//	  oraciones/
//	    <id>.json
//
// Subscriptions poll the directory for changed files.
type FileSystemCorpus struct {
	root         string
	pollInterval time.Duration
}

// NewFileSystemCorpus creates a corpus rooted at the given path.
func NewFileSystemCorpus(root string, pollInterval time.Duration) (*FileSystemCorpus, error) {
	for _, c := range cubeo.Collections {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create collection directory: %w", err)
		}
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &FileSystemCorpus{root: root, pollInterval: pollInterval}, nil
}

// Query returns active documents of a collection created after since.
func (f *FileSystemCorpus) Query(ctx context.Context, c cubeo.Collection, since time.Time) ([]cubeo.Document, error) {
	return queryObjects(ctx, f, c, since)
}

// Subscribe polls the collection directory for changes.
func (f *FileSystemCorpus) Subscribe(ctx context.Context, c cubeo.Collection, since time.Time) (<-chan cubeo.ChangeBatch, error) {
	if _, err := os.Stat(f.collectionDir(c)); err != nil {
		return nil, fmt.Errorf("collection not accessible: %w", err)
	}
	return pollChanges(ctx, f, c, since, f.pollInterval), nil
}

// Publish writes a document, replacing any previous version.
func (f *FileSystemCorpus) Publish(ctx context.Context, c cubeo.Collection, doc cubeo.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(f.collectionDir(c), objectName(doc.ID)), data)
}

// ValidateSetup verifies that the collection directories are accessible.
func (f *FileSystemCorpus) ValidateSetup() error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("corpus root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("corpus root is not a directory: %s", f.root)
	}

	for _, c := range cubeo.Collections {
		dir := f.collectionDir(c)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("collection directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("collection path is not a directory: %s", dir)
		}
	}
	return nil
}

func (f *FileSystemCorpus) collectionDir(c cubeo.Collection) string {
	return filepath.Join(f.root, string(c))
}

func (f *FileSystemCorpus) list(ctx context.Context, c cubeo.Collection) ([]objectInfo, error) {
	entries, err := os.ReadDir(f.collectionDir(c))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}

	objs := make([]objectInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := idFromName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		objs = append(objs, objectInfo{id: id, modified: info.ModTime()})
	}
	return objs, nil
}

func (f *FileSystemCorpus) fetch(_ context.Context, c cubeo.Collection, id string) (cubeo.Document, error) {
	data, err := os.ReadFile(filepath.Join(f.collectionDir(c), objectName(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return cubeo.Document{}, fmt.Errorf("document not found: %s/%s", c, id)
		}
		return cubeo.Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	return decodeDocument(id, data)
}

// writeFile writes data to the specified path using atomic write (temp file + rename).
func writeFile(destPath string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Corpus = (*FileSystemCorpus)(nil)
