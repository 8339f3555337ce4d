package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/riffengine/internal/model"
	"github.com/schollz/riffengine/internal/track"
)

func newTestSong() (*model.Song, *model.Track, model.UUID) {
	riffA := model.Riff{ID: model.NewUUID(), Name: "a", LengthBeats: 4, Events: []model.TrackEvent{
		{Kind: model.EventNote, Position: 0, Pitch: 60, Velocity: 100, Length: 1},
	}}
	t1 := &model.Track{
		ID:     model.NewUUID(),
		Name:   "lead",
		Kind:   model.TrackInstrument,
		Volume: 1,
		Riffs:  []model.Riff{riffA},
		RiffRefs: []model.RiffReference{
			{RiffID: riffA.ID, Position: 0},
		},
	}
	song := &model.Song{
		Tempo:      120,
		SampleRate: 44100,
		BlockSize:  512,
		Tracks:     []*model.Track{t1},
	}
	return song, t1, riffA.ID
}

func newTestController(t *testing.T) (*Controller, *track.Processor, *model.Song, *model.Track) {
	t.Helper()
	song, t1, _ := newTestSong()
	c := NewController(song, "", 0)

	p := track.NewProcessor(t1.ID, t1.Kind, nil, nil, 64)
	go p.Run()
	t.Cleanup(p.Close)
	c.RegisterTrack(t1.ID, p)

	return c, p, song, t1
}

func TestPlaySongStartsTrackAtBlockZero(t *testing.T) {
	c, p, _, _ := newTestController(t)

	require.NoError(t, c.PlaySong())
	assert.Equal(t, ModeSong, c.Mode())

	p.Invoke()
	assert.True(t, p.IsPlaying())
	assert.Equal(t, int64(1), p.CurrentBlock())
}

func TestStopHaltsTrackAndResetsMode(t *testing.T) {
	c, p, _, _ := newTestController(t)
	require.NoError(t, c.PlaySong())
	p.Invoke()

	c.Stop()
	p.Invoke()
	assert.False(t, p.IsPlaying())
	assert.Equal(t, ModeStopped, c.Mode())
}

func TestSeekOnlyValidWhileStopped(t *testing.T) {
	c, _, _, _ := newTestController(t)
	require.NoError(t, c.Seek(1000))
	assert.Equal(t, int64(1000), c.PlayPositionFrames())

	require.NoError(t, c.PlaySong())
	assert.Error(t, c.Seek(2000))
}

func TestPlayRiffSetAsRiffSwitchesProcessorType(t *testing.T) {
	song, t1, riffID := newTestSong()
	set := &model.RiffSet{
		ID:   model.NewUUID(),
		Name: "verse",
		Refs: map[model.UUID]model.RiffReference{
			t1.ID: {RiffID: riffID, Position: 0},
		},
	}
	song.RiffSets = append(song.RiffSets, set)

	c := NewController(song, "", 0)
	p := track.NewProcessor(t1.ID, t1.Kind, nil, nil, 64)
	go p.Run()
	t.Cleanup(p.Close)
	c.RegisterTrack(t1.ID, p)

	require.NoError(t, c.PlayRiffSetAsRiff(set.ID))
	assert.Equal(t, ModeRiffSet, c.Mode())

	p.Invoke()
	assert.True(t, p.IsPlaying())
}

func TestPlayRiffSetInBlocksReconciles(t *testing.T) {
	song, t1, riffID := newTestSong() // riff length 4
	riffB := model.Riff{ID: model.NewUUID(), Name: "b", LengthBeats: 6}
	t2 := &model.Track{ID: model.NewUUID(), Kind: model.TrackInstrument, Riffs: []model.Riff{riffB}}
	song.Tracks = append(song.Tracks, t2)

	set := &model.RiffSet{
		ID: model.NewUUID(),
		Refs: map[model.UUID]model.RiffReference{
			t1.ID: {RiffID: riffID, Position: 0},
			t2.ID: {RiffID: riffB.ID, Position: 0},
		},
	}
	song.RiffSets = append(song.RiffSets, set)

	c := NewController(song, "", 0)
	p1 := track.NewProcessor(t1.ID, t1.Kind, nil, nil, 64)
	p2 := track.NewProcessor(t2.ID, t2.Kind, nil, nil, 64)
	go p1.Run()
	go p2.Run()
	t.Cleanup(p1.Close)
	t.Cleanup(p2.Close)
	c.RegisterTrack(t1.ID, p1)
	c.RegisterTrack(t2.ID, p2)

	require.NoError(t, c.PlayRiffSetInBlocks(set.ID))
	p1.Invoke()
	p2.Invoke()
	assert.True(t, p1.IsPlaying())
	assert.True(t, p2.IsPlaying())

	// 4 and 6 beats reconcile to 12 beats: ceil(12*60*44100/(120*512)) =
	// 517 blocks, so both tracks wrap back to block 0 after block 516.
	for i := 1; i < 517; i++ {
		p1.Invoke()
		p2.Invoke()
	}
	assert.Equal(t, int64(0), p1.CurrentBlock())
	assert.Equal(t, int64(0), p2.CurrentBlock())
}

// TestPlayRiffSetInBlocksLoops confirms the in-blocks variant enables
// looping over its reconciled block count (matching the original's
// LoopExtents+Loop(true) pair before Play) instead of running through the
// finite span once and going silent forever.
func TestPlayRiffSetInBlocksLoops(t *testing.T) {
	song, t1, riffID := newTestSong() // riff length 4 beats, the set's only riff, so it reconciles to 4 beats (173 blocks)

	c := NewController(song, "", 0)
	p1 := track.NewProcessor(t1.ID, t1.Kind, nil, nil, 64)
	go p1.Run()
	t.Cleanup(p1.Close)
	c.RegisterTrack(t1.ID, p1)

	set := &model.RiffSet{
		ID:   model.NewUUID(),
		Refs: map[model.UUID]model.RiffReference{t1.ID: {RiffID: riffID, Position: 0}},
	}
	song.RiffSets = append(song.RiffSets, set)

	require.NoError(t, c.PlayRiffSetInBlocks(set.ID))

	const invokes = 600 // well past the reconciled span's total block count
	for i := 0; i < invokes; i++ {
		p1.Invoke()
	}

	assert.True(t, p1.IsPlaying())
	assert.Less(t, p1.CurrentBlock(), int64(invokes), "block index should wrap via Loop/LoopExtents instead of growing unbounded")
}

func TestSequenceSummaryReportsReconciledElementLengths(t *testing.T) {
	song, t1, riffID := newTestSong()
	set := &model.RiffSet{
		ID: model.NewUUID(),
		Refs: map[model.UUID]model.RiffReference{
			t1.ID: {RiffID: riffID, Position: 0},
		},
	}
	song.RiffSets = append(song.RiffSets, set)
	seq := &model.RiffSequence{ID: model.NewUUID(), RiffSets: []model.UUID{set.ID, set.ID}}
	song.RiffSequences = append(song.RiffSequences, seq)

	c := NewController(song, "", 0)

	summary, err := c.SequenceSummaryFor(seq.ID)
	require.NoError(t, err)
	require.Len(t, summary.Elements, 2)
	assert.Equal(t, 4, summary.Elements[0].Length)
	assert.Equal(t, 8, summary.TotalLength)
}

func TestArrangementSummaryExpandsNestedSequence(t *testing.T) {
	song, t1, riffID := newTestSong()
	set := &model.RiffSet{
		ID: model.NewUUID(),
		Refs: map[model.UUID]model.RiffReference{
			t1.ID: {RiffID: riffID, Position: 0},
		},
	}
	song.RiffSets = append(song.RiffSets, set)
	seq := &model.RiffSequence{ID: model.NewUUID(), RiffSets: []model.UUID{set.ID}}
	song.RiffSequences = append(song.RiffSequences, seq)
	arr := &model.RiffArrangement{
		ID: model.NewUUID(),
		Items: []model.RiffItem{
			{Kind: model.RiffItemSet, RefID: set.ID},
			{Kind: model.RiffItemSequence, RefID: seq.ID},
		},
	}
	song.RiffArrangements = append(song.RiffArrangements, arr)

	c := NewController(song, "", 0)
	summary, err := c.ArrangementSummaryFor(arr.ID)
	require.NoError(t, err)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, 4, summary.Items[0].Length)
	require.Len(t, summary.Items[1].SubItems, 1)
	assert.Equal(t, 8, summary.TotalLength)
}

func TestPlayRiffArrangementDoesNotLoop(t *testing.T) {
	song, t1, riffID := newTestSong()
	set := &model.RiffSet{
		ID: model.NewUUID(),
		Refs: map[model.UUID]model.RiffReference{
			t1.ID: {RiffID: riffID, Position: 0},
		},
	}
	song.RiffSets = append(song.RiffSets, set)
	arr := &model.RiffArrangement{ID: model.NewUUID(), Items: []model.RiffItem{{Kind: model.RiffItemSet, RefID: set.ID}}}
	song.RiffArrangements = append(song.RiffArrangements, arr)

	c := NewController(song, "", 0)
	p := track.NewProcessor(t1.ID, t1.Kind, nil, nil, 64)
	go p.Run()
	t.Cleanup(p.Close)
	c.RegisterTrack(t1.ID, p)

	require.NoError(t, c.PlayRiffArrangement(arr.ID, 0))
	p.Invoke()
	assert.True(t, p.IsPlaying())

	// The 4-beat arrangement spans 173 blocks; without a loop the block
	// index keeps advancing past that span instead of wrapping.
	for i := 1; i < 200; i++ {
		p.Invoke()
	}
	assert.Equal(t, int64(200), p.CurrentBlock())
}
