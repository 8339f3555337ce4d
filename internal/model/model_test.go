package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiffValidate(t *testing.T) {
	t.Run("positive length with in-range events passes", func(t *testing.T) {
		r := &Riff{ID: NewUUID(), LengthBeats: 4, Events: []TrackEvent{
			{Kind: EventNote, Position: 0, Pitch: 60, Velocity: 100, Length: 1},
		}}
		assert.NoError(t, r.Validate())
	})

	t.Run("zero length rejected", func(t *testing.T) {
		r := &Riff{ID: NewUUID(), LengthBeats: 0}
		assert.Error(t, r.Validate())
	})

	t.Run("event at or beyond length rejected", func(t *testing.T) {
		r := &Riff{ID: NewUUID(), LengthBeats: 4, Events: []TrackEvent{
			{Kind: EventNote, Position: 4},
		}}
		assert.Error(t, r.Validate())
	})
}

func TestBuildIndex(t *testing.T) {
	trackID := NewUUID()
	riffID := NewUUID()
	song := &Song{
		Tracks: []*Track{
			{ID: trackID, Riffs: []Riff{{ID: riffID, LengthBeats: 4}}},
		},
		RiffSets: []*RiffSet{{ID: NewUUID()}},
	}

	idx := BuildIndex(song)

	require.NotNil(t, idx.Track(trackID))
	require.NotNil(t, idx.Riff(riffID))
	owner, ok := idx.RiffOwner(riffID)
	require.True(t, ok)
	assert.Equal(t, trackID, owner)
	assert.Nil(t, idx.Riff(NewUUID()))
}

func TestRecalculateLength(t *testing.T) {
	riffA := Riff{ID: NewUUID(), LengthBeats: 4}
	riffB := Riff{ID: NewUUID(), LengthBeats: 8}

	song := &Song{
		Tracks: []*Track{
			{
				ID:    NewUUID(),
				Riffs: []Riff{riffA},
				RiffRefs: []RiffReference{
					{ID: NewUUID(), RiffID: riffA.ID, Position: 0},
					{ID: NewUUID(), RiffID: riffA.ID, Position: 10},
				},
			},
			{
				ID:    NewUUID(),
				Riffs: []Riff{riffB},
				RiffRefs: []RiffReference{
					{ID: NewUUID(), RiffID: riffB.ID, Position: 2},
				},
			},
		},
	}

	// track 0: last ref at 10 + riffA(4) = 14
	// track 1: last ref at 2 + riffB(8) = 10
	assert.Equal(t, 14.0, RecalculateLength(song))
}

func TestRecalculateLengthSkipsUnknownRiff(t *testing.T) {
	song := &Song{
		Tracks: []*Track{
			{
				ID: NewUUID(),
				RiffRefs: []RiffReference{
					{ID: NewUUID(), RiffID: NewUUID(), Position: 100}, // dangling
				},
			},
		},
	}
	assert.Equal(t, 0.0, RecalculateLength(song))
}

func TestEventKindSortOrder(t *testing.T) {
	assert.Less(t, EventNoteOff.SortOrder(), EventNoteOn.SortOrder())
}

func TestTrackEventShiftAndChannel(t *testing.T) {
	e := TrackEvent{Kind: EventController, Position: 1, Controller: 7, Value: 100}
	shifted := e.Shift(3)
	assert.Equal(t, 4.0, shifted.Position)

	withCh := e.WithChannel(5)
	assert.Equal(t, 5, withCh.Channel)

	sampleEvt := TrackEvent{Kind: EventSample}
	assert.Equal(t, 0, sampleEvt.WithChannel(5).Channel)
}
