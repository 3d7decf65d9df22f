package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstIsDebounced(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := New(dir, "roi_metadata.json", func() { calls.Add(1) }, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "roi_metadata.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"states":{}}`), 0644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOtherFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := New(dir, "roi_metadata.json", func() { calls.Add(1) }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rois")
	w, err := New(dir, "roi_metadata.json", func() {})
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestCloseDropsPendingNotification(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := New(dir, "roi_metadata.json", func() { calls.Add(1) }, WithDebounce(300*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "roi_metadata.json"), []byte("{}"), 0644))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Close())

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
