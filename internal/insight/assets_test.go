package insight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFrameIDCollapsesAndStrips(t *testing.T) {
	assert.Equal(t, "abc-def", sanitizeFrameID("abc!!def"))
	assert.Equal(t, "a.b-c_d", sanitizeFrameID("a.b-c_d"))
	assert.Equal(t, "frame", sanitizeFrameID("!!!"))
	assert.Equal(t, "frame", sanitizeFrameID(""))
}

func TestSanitizeFrameIDTruncatesTo80(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	out := sanitizeFrameID(long)
	assert.Len(t, out, 80)
}

func TestSanitizeFrameIDStripsLeadingTrailingCutset(t *testing.T) {
	assert.Equal(t, "abc", sanitizeFrameID("--abc__"))
}

func TestPruneClipsSkipsCurrentAndRespectsMaxClips(t *testing.T) {
	dir := t.TempDir()
	makeClip := func(name string, age time.Duration) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(p, 0o755))
		mt := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}

	makeClip("old-1", 10*time.Hour)
	makeClip("old-2", 9*time.Hour)
	makeClip("current", 0)

	require.NoError(t, pruneClips(dir, "current", 1, 1000))

	_, err1 := os.Stat(filepath.Join(dir, "old-2"))
	assert.NoError(t, err1, "most recent non-current clip survives under max_clips=1")

	_, errCurrent := os.Stat(filepath.Join(dir, "current"))
	assert.NoError(t, errCurrent, "current clip dir must never be pruned")
}

func TestPruneClipsRemovesStaleByAge(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ancient")
	require.NoError(t, os.MkdirAll(p, 0o755))
	mt := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(p, mt, mt))

	require.NoError(t, pruneClips(dir, "current", 100, 1))

	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}
