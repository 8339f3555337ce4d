package export

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/riffengine/internal/routing"
)

func TestMixMasterAveragesTracks(t *testing.T) {
	trackA := []routing.AudioFrame{{L: 1, R: 1}, {L: 0, R: 0}}
	trackB := []routing.AudioFrame{{L: -1, R: 0}, {L: 1, R: 1}}

	master := MixMaster([][]routing.AudioFrame{trackA, trackB})

	require.Len(t, master, 2)
	assert.InDelta(t, 0, master[0].L, 1e-6)
	assert.InDelta(t, 0.5, master[0].R, 1e-6)
	assert.InDelta(t, 0.5, master[1].L, 1e-6)
	assert.InDelta(t, 0.5, master[1].R, 1e-6)
}

func TestMixMasterEmpty(t *testing.T) {
	assert.Nil(t, MixMaster(nil))
}

func TestDrainFramesPadsShortfallWithSilence(t *testing.T) {
	producer, consumer := routing.NewAudioRouting(4)
	producer.Send(routing.AudioFrame{L: 0.25, R: -0.25})

	frames := DrainFrames(consumer, 3)

	require.Len(t, frames, 3)
	assert.Equal(t, routing.AudioFrame{L: 0.25, R: -0.25}, frames[0])
	assert.Equal(t, routing.AudioFrame{}, frames[1])
	assert.Equal(t, routing.AudioFrame{}, frames[2])
}

// TestWriteWAVHeaderRoundTrip decodes a file written by WriteWAV with
// go-audio/wav, the same decoder the teacher's getbpm.go uses. WriteWAV's
// format (IEEE float, §6) isn't WavAudioFormat PCM, so like getbpm.go's own
// non-PCM branch this only validates header fields and duration through the
// decoder; raw sample values are checked separately by reading the data
// chunk directly.
func TestWriteWAVHeaderRoundTrip(t *testing.T) {
	frames := []routing.AudioFrame{
		{L: 0.5, R: -0.5},
		{L: 1, R: 1},
		{L: -1, R: 0},
	}
	const sampleRate = 48000

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, sampleRate, frames))

	d := wav.NewDecoder(bytes.NewReader(buf.Bytes()))
	require.True(t, d.IsValidFile())
	d.ReadInfo()

	assert.EqualValues(t, sampleRate, d.SampleRate)
	assert.EqualValues(t, wavChannels, d.NumChans)
	assert.EqualValues(t, wavBitsPerSample, d.BitDepth)
	assert.EqualValues(t, wavFormatIEEEFloat, d.WavAudioFormat)

	dur, err := d.Duration()
	require.NoError(t, err)
	assert.InDelta(t, float64(len(frames))/float64(sampleRate), dur.Seconds(), 1e-6)
}

func TestWriteWAVSampleValues(t *testing.T) {
	frames := []routing.AudioFrame{
		{L: 0.5, R: -0.5},
		{L: 1, R: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, 44100, frames))

	data := buf.Bytes()
	dataChunk := data[len(data)-int(len(frames))*wavChannels*4:]

	var got []float32
	r := bytes.NewReader(dataChunk)
	for i := 0; i < len(frames)*wavChannels; i++ {
		var v float32
		require.NoError(t, binary.Read(r, binary.LittleEndian, &v))
		got = append(got, v)
	}

	assert.Equal(t, []float32{0.5, -0.5, 1, 1}, got)
}
