package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/riffengine/internal/model"
)

func sampleProject() *model.Project {
	track := &model.Track{
		ID:   model.NewUUID(),
		Name: "Lead",
		Kind: model.TrackInstrument,
	}
	return &model.Project{Song: &model.Song{
		Tempo:      128,
		SampleRate: 48000,
		BlockSize:  256,
		Tracks:     []*model.Track{track},
	}}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.json")
	project := sampleProject()

	require.NoError(t, Save(path, project))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  ", "expected pretty-printed JSON")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, project.Song.Tempo, loaded.Song.Tempo)
	assert.Equal(t, project.Song.Tracks[0].Name, loaded.Song.Tracks[0].Name)
}

func TestSaveToInvalidPath(t *testing.T) {
	// Save creates missing directories, so the invalid path puts a
	// regular file where the parent directory would have to be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err := Save(filepath.Join(blocker, "project.json"), sampleProject())
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/path/that/does/not/exist.json")
	assert.Error(t, err)
}

func TestAutosavePathSuffixAndFallback(t *testing.T) {
	at := time.Date(2026, 7, 31, 12, 30, 0, 0, time.UTC)

	known := AutosavePath("/home/user/mysong.json", at)
	assert.Equal(t, "/home/user", filepath.Dir(known))
	assert.Contains(t, filepath.Base(known), "mysong-")
	assert.True(t, len(known) > len(autosaveSuffix) && known[len(known)-len(autosaveSuffix):] == autosaveSuffix)

	unknown := AutosavePath("", at)
	assert.Equal(t, os.TempDir(), filepath.Dir(unknown))
	assert.Contains(t, filepath.Base(unknown), "untitled-")
}

func TestAutosaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosave-20260731-123000.fdaw.xz")
	project := sampleProject()

	require.NoError(t, WriteAutosave(path, project))

	loaded, err := ReadAutosave(path)
	require.NoError(t, err)
	assert.Equal(t, project.Song.Tempo, loaded.Song.Tempo)
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	knownPath := filepath.Join(dir, "song.json")
	project := sampleProject()

	d := NewDebouncer(100 * time.Millisecond)

	var mu sync.Mutex
	var errs []error
	onErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	d.Trigger(project, knownPath, onErr)
	d.Trigger(project, knownPath, onErr)
	d.Trigger(project, knownPath, onErr)

	matches, _ := filepath.Glob(filepath.Join(dir, "song-*"+autosaveSuffix))
	assert.Empty(t, matches, "autosave should not have fired yet")

	time.Sleep(300 * time.Millisecond)

	matches, _ = filepath.Glob(filepath.Join(dir, "song-*"+autosaveSuffix))
	assert.Len(t, matches, 1, "bursts of Trigger should collapse into a single autosave")

	mu.Lock()
	assert.Empty(t, errs)
	mu.Unlock()
}

func BenchmarkSave(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "bench.json")
	project := sampleProject()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Save(path, project)
	}
}

func BenchmarkLoad(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "bench.json")
	project := sampleProject()
	if err := Save(path, project); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(path); err != nil {
			b.Fatal(err)
		}
	}
}
