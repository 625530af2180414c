package images

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeAgedFiles(t *testing.T, folder string, count int) []string {
	t.Helper()
	base := time.Now().Add(-time.Duration(count) * time.Minute)
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		path := filepath.Join(folder, fmt.Sprintf("cam_%02d.jpg", i))
		if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
		// Explicit mtimes make the oldest-first ordering deterministic.
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestCleanOldImagesBoundary(t *testing.T) {
	folder := t.TempDir()
	paths := writeAgedFiles(t, folder, 12)

	store := NewStore(zerolog.Nop())
	if !store.CleanOldImages(folder, 10) {
		t.Fatal("cleanup reported failure")
	}

	// Exactly the two oldest files go; the newest ten stay.
	for _, path := range paths[:2] {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", filepath.Base(path))
		}
	}
	for _, path := range paths[2:] {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to survive: %v", filepath.Base(path), err)
		}
	}
}

func TestCleanOldImagesNoOp(t *testing.T) {
	folder := t.TempDir()
	paths := writeAgedFiles(t, folder, 10)

	store := NewStore(zerolog.Nop())
	if !store.CleanOldImages(folder, 10) {
		t.Fatal("cleanup reported failure")
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("no-op cleanup removed %s", filepath.Base(path))
		}
	}
}

func TestCleanOldImagesMissingFolder(t *testing.T) {
	store := NewStore(zerolog.Nop())
	if store.CleanOldImages(filepath.Join(t.TempDir(), "missing"), 10) {
		t.Fatal("expected failure for missing folder")
	}
}

func TestSaveFlags(t *testing.T) {
	folder := t.TempDir()
	store := NewStore(zerolog.Nop())

	saved := store.Save("Front Door", []byte("frame"), Policy{
		Folder:          folder,
		SaveTimestamped: true,
		SaveLatest:      true,
	})
	if len(saved) != 2 {
		t.Fatalf("saved %d files, want 2", len(saved))
	}

	latest := filepath.Join(folder, "front_door_latest.jpg")
	if _, err := os.Stat(latest); err != nil {
		t.Fatalf("latest file missing: %v", err)
	}

	// Latest-only policy overwrites in place.
	saved = store.Save("Front Door", []byte("frame2"), Policy{
		Folder:     folder,
		SaveLatest: true,
	})
	if len(saved) != 1 {
		t.Fatalf("saved %d files, want 1", len(saved))
	}
	data, err := os.ReadFile(latest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "frame2" {
		t.Fatalf("latest content = %q, want frame2", data)
	}
}

func TestSaveNoFolder(t *testing.T) {
	store := NewStore(zerolog.Nop())
	if saved := store.Save("cam", []byte("frame"), Policy{}); saved != nil {
		t.Fatalf("expected no saves without a folder, got %v", saved)
	}
}
