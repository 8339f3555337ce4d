// Package export turns a compiled Song's rendered audio and event data
// into the two interchange formats spec.md §6 asks for: a WAV master bus
// render and three flavors of standard MIDI file.
package export

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/schollz/riffengine/internal/routing"
)

const (
	wavFormatIEEEFloat = 3
	wavBitsPerSample   = 32
	wavChannels        = 2
)

// MixMaster computes the arithmetic mean, sample by sample, of every
// audio-type track's rendered output (spec §6: "master is the arithmetic
// mean of audio-type track outputs at every sample"). Every slice in
// perTrack must have the same length; callers are expected to have
// already padded short tracks with silence.
func MixMaster(perTrack [][]routing.AudioFrame) []routing.AudioFrame {
	if len(perTrack) == 0 {
		return nil
	}
	n := len(perTrack[0])
	out := make([]routing.AudioFrame, n)
	inv := 1 / float32(len(perTrack))
	for _, track := range perTrack {
		for i := 0; i < n && i < len(track); i++ {
			out[i].L += track[i].L * inv
			out[i].R += track[i].R * inv
		}
	}
	return out
}

// DrainFrames pulls exactly count frames from c, blocking-free. A
// producer that fell behind (the audio backend skipped a block, or the
// track never rendered) leaves the remainder silent rather than
// stalling the exporter.
func DrainFrames(c *routing.AudioConsumer, count int) []routing.AudioFrame {
	out := make([]routing.AudioFrame, count)
	for i := 0; i < count; i++ {
		f, ok := c.Recv()
		if !ok {
			break
		}
		out[i] = f
	}
	return out
}

// WriteWAV writes frames as a 32-bit float, interleaved stereo PCM WAV
// file at sampleRate (spec §6: "header written first, then
// number_of_blocks * block_size * 2 float samples"). go-audio/wav's
// Encoder writes through audio.IntBuffer and cannot produce this float
// layout, so the RIFF/fmt/data chunks are written directly.
func WriteWAV(w io.Writer, sampleRate int, frames []routing.AudioFrame) error {
	dataSize := uint32(len(frames)) * wavChannels * (wavBitsPerSample / 8)
	byteRate := uint32(sampleRate) * wavChannels * (wavBitsPerSample / 8)
	blockAlign := uint16(wavChannels * (wavBitsPerSample / 8))

	if _, err := io.WriteString(w, "RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36+dataSize)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "WAVE"); err != nil {
		return err
	}

	if _, err := io.WriteString(w, "fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	fields := []interface{}{
		uint16(wavFormatIEEEFloat),
		uint16(wavChannels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(wavBitsPerSample),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	for _, f := range frames {
		if err := binary.Write(w, binary.LittleEndian, f.L); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, f.R); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	return nil
}
