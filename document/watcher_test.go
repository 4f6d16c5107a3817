package document

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu      sync.Mutex
	nextID  int64
	added   map[int64]string
	updated []int64
	deleted []int64
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{added: make(map[int64]string)}
}

func (r *recordingIngester) Add(_ context.Context, title, content, source string, _ map[string]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.added[r.nextID] = content
	return r.nextID, nil
}

func (r *recordingIngester) Update(_ context.Context, id int64, u Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.added[id]; !ok {
		return false, nil
	}
	r.added[id] = *u.Content
	r.updated = append(r.updated, id)
	return true, nil
}

func (r *recordingIngester) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.added[id]
	delete(r.added, id)
	r.deleted = append(r.deleted, id)
	return ok, nil
}

func (r *recordingIngester) snapshot() (map[int64]string, []int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := make(map[int64]string, len(r.added))
	for k, v := range r.added {
		added[k] = v
	}
	return added, append([]int64(nil), r.updated...), append([]int64(nil), r.deleted...)
}

func TestWatcher_IngestUpdateRemove(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngester()
	w := NewWatcher(dir, ing, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("first version"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		added, _, _ := ing.snapshot()
		return len(added) == 1 && added[1] == "first version"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	require.Eventually(t, func() bool {
		added, updated, _ := ing.snapshot()
		return len(updated) > 0 && added[1] == "second version"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, _, deleted := ing.snapshot()
		return len(deleted) == 1 && deleted[0] == 1
	}, 2*time.Second, 10*time.Millisecond)

	added, _, _ := ing.snapshot()
	assert.Empty(t, added)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), newRecordingIngester(), 0)
	err := w.Run(context.Background())
	assert.Error(t, err)
}
