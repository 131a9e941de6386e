package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivemind/internal/types"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	repo := NewRepository("x")

	var mu sync.Mutex
	var got []types.GlobalKnowledgeEntry
	w, err := NewWatcher(repo, root, func(entries []types.GlobalKnowledgeEntry) {
		mu.Lock()
		got = entries
		mu.Unlock()
	})
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	_, err = repo.SavePattern(ctx, root, samplePattern("from-elsewhere"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].ID == "from-elsewhere"
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Reloads, 1)
	assert.GreaterOrEqual(t, stats.Events, 1)
}

func TestWatcherIgnoresNonPatternFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	w, err := NewWatcher(NewRepository("x"), root, nil)
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(root, PatternsDir, "README.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, PatternsDir, ".hidden.json"), []byte("[]"), 0644))
	time.Sleep(200 * time.Millisecond)

	w.Stop()
	assert.Equal(t, 0, w.Stats().Events)
	assert.Equal(t, 0, w.Stats().Reloads)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := NewWatcher(NewRepository("x"), t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
