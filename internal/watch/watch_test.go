package watch_test

import (
	"fitsedit/internal/watch"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "m31.fits")
	other := filepath.Join(dir, "other.fits")
	os.WriteFile(target, []byte("v1"), 0644)

	changes := make(chan string, 16)
	w, err := watch.New(func(path string) { changes <- path })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Add(target); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("IgnoresOtherFiles", func(t *testing.T) {
		os.WriteFile(other, []byte("x"), 0644)
		select {
		case path := <-changes:
			t.Errorf("Unexpected change for %s", path)
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("Write", func(t *testing.T) {
		os.WriteFile(target, []byte("v2"), 0644)
		select {
		case path := <-changes:
			if path != target {
				t.Errorf("Expected %s, got %s", target, path)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for change")
		}
	})

	t.Run("Remove", func(t *testing.T) {
		w.Remove(target)
		if w.Watching(target) {
			t.Fatal("Expected target to be unwatched")
		}
		// Drain anything still in flight from the previous write.
		time.Sleep(50 * time.Millisecond)
		for len(changes) > 0 {
			<-changes
		}

		os.WriteFile(target, []byte("v3"), 0644)
		select {
		case path := <-changes:
			t.Errorf("Unexpected change after Remove: %s", path)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
