package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kudrive/kudrive/internal/config"
)

func TestStartEmitsInitialSnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	w := New(dir, 50*time.Millisecond, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	select {
	case fm := <-w.Snapshots():
		if len(fm.Files) != 1 || fm.Files[0].Name != "home/a.txt" {
			t.Fatalf("initial snapshot files = %+v", fm.Files)
		}
		if len(fm.Folders) != 1 || fm.Folders[0].Name != "home/sub" {
			t.Fatalf("initial snapshot folders = %+v", fm.Folders)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot emitted")
	}
}

func TestDebouncedSnapshotAfterChange(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 50*time.Millisecond, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	<-w.Snapshots() // drain initial empty snapshot

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case fm := <-w.Snapshots():
		found := false
		for _, f := range fm.Files {
			if f.Name == "home/new.txt" {
				found = true
			}
		}
		if !found {
			t.Fatalf("debounced snapshot missing new.txt: %+v", fm.Files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no debounced snapshot emitted after change")
	}
}

func TestIgnoredComponentIsNotEligible(t *testing.T) {
	dir := t.TempDir()
	ignore := &config.IgnoreList{Patterns: []string{`^\.git$`}}
	w := New(dir, 30*time.Millisecond, ignore)

	gitPath := filepath.Join(dir, ".git", "HEAD")
	if w.isIgnored(gitPath) != true {
		t.Fatalf("expected %s to be ignored", gitPath)
	}
	if w.isIgnored(filepath.Join(dir, "src", "main.go")) {
		t.Fatal("src/main.go should not be ignored")
	}
}
