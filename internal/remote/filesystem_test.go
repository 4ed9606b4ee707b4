package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cubeo/internal/cubeo"
)

func TestNewFileSystemCorpus(t *testing.T) {
	t.Run("creates collection directories", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "corpus")

		f, err := NewFileSystemCorpus(root, 0)
		if err != nil {
			t.Fatalf("NewFileSystemCorpus() error = %v", err)
		}

		for _, c := range cubeo.Collections {
			if _, err := os.Stat(filepath.Join(root, string(c))); err != nil {
				t.Errorf("%s directory not created: %v", c, err)
			}
		}
		if f.pollInterval != DefaultPollInterval {
			t.Errorf("pollInterval = %v, want %v", f.pollInterval, DefaultPollInterval)
		}
		if err := f.ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("validate fails when a collection is missing", func(t *testing.T) {
		root := t.TempDir()
		f, err := NewFileSystemCorpus(root, 0)
		if err != nil {
			t.Fatalf("NewFileSystemCorpus() error = %v", err)
		}
		if err := os.RemoveAll(filepath.Join(root, string(cubeo.CollectionSentences))); err != nil {
			t.Fatalf("RemoveAll() error = %v", err)
		}

		if err := f.ValidateSetup(); err == nil {
			t.Error("ValidateSetup() expected error")
		}
	})
}

func TestFileSystemCorpus_PublishQuery(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	f, err := NewFileSystemCorpus(root, 0)
	if err != nil {
		t.Fatalf("NewFileSystemCorpus() error = %v", err)
	}

	docs := []cubeo.Document{
		wordDoc("w1", "casa", "wi", t0),
		wordDoc("w2", "perro", "yai", t0.Add(time.Hour)),
	}
	for _, d := range docs {
		if err := f.Publish(ctx, cubeo.CollectionLexicon, d); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	// Stray files are ignored.
	if err := os.WriteFile(filepath.Join(root, "palabras", "README.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := f.Query(ctx, cubeo.CollectionLexicon, time.Time{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "w1" || got[1].ID != "w2" {
		t.Fatalf("Query() = %v, want [w1 w2]", docIDs(got))
	}

	got, err = f.Query(ctx, cubeo.CollectionLexicon, t0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "w2" {
		t.Errorf("Query(since) = %v, want [w2]", docIDs(got))
	}

	entries, err := os.ReadDir(filepath.Join(root, "palabras"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestFileSystemCorpus_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	f, err := NewFileSystemCorpus(root, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFileSystemCorpus() error = %v", err)
	}
	if err := f.Publish(ctx, cubeo.CollectionLexicon, wordDoc("w1", "casa", "wi", t0)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ch, err := f.Subscribe(ctx, cubeo.CollectionLexicon, time.Time{})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	b := receive(t, ch)
	if len(b.Changes) != 1 || b.Changes[0].Type != cubeo.ChangeAdded || b.Changes[0].Document.ID != "w1" {
		t.Fatalf("initial batch = %+v, want w1 added", b)
	}

	if err := f.Publish(ctx, cubeo.CollectionLexicon, wordDoc("w2", "perro", "yai", t0)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b = receive(t, ch)
	if len(b.Changes) != 1 || b.Changes[0].Type != cubeo.ChangeAdded || b.Changes[0].Document.ID != "w2" {
		t.Fatalf("batch = %+v, want w2 added", b)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "palabras", "w1.json"), later, later); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	b = receive(t, ch)
	if len(b.Changes) != 1 || b.Changes[0].Type != cubeo.ChangeModified {
		t.Fatalf("batch = %+v, want w1 modified", b)
	}

	if err := os.Remove(filepath.Join(root, "palabras", "w2.json")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	b = receive(t, ch)
	if len(b.Changes) != 1 || b.Changes[0].Type != cubeo.ChangeRemoved || b.Changes[0].Document.ID != "w2" {
		t.Fatalf("batch = %+v, want w2 removed", b)
	}

	cancel()
	waitClosed(t, ch)
}

func TestFileSystemCorpus_SubscribeSkipsOldFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	f, err := NewFileSystemCorpus(root, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFileSystemCorpus() error = %v", err)
	}
	if err := f.Publish(ctx, cubeo.CollectionLexicon, wordDoc("old", "casa", "wi", t0)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := os.Chtimes(filepath.Join(root, "palabras", "old.json"), t0, t0); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	ch, err := f.Subscribe(ctx, cubeo.CollectionLexicon, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := f.Publish(ctx, cubeo.CollectionLexicon, wordDoc("new", "perro", "yai", t0)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b := receive(t, ch)
	if len(b.Changes) != 1 || b.Changes[0].Document.ID != "new" {
		t.Errorf("batch = %+v, want only the new document", b)
	}
}
