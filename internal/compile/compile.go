// Package compile turns timed musical events (notes, automation, samples)
// at beat-domain positions into sample-accurate, block-indexed event
// lists (spec §4.2). It has two output shapes: CompileBlocks produces the
// pre-bucketed per-block lists the Block event processor consumes, and
// CompileFlat produces one absolute-sample-positioned list for the
// RiffBufferEventProcessor's sliding-cursor consumption.
//
// This is the spec's Event-Block Compiler; it descends from the
// teacher's internal/ticks beat/tick accounting, generalized from
// "sum child durations" to "convert beat position to sample position and
// bucket into fixed-size blocks".
package compile

import (
	"math"
	"sort"

	"github.com/schollz/riffengine/internal/model"
)

// ClampMode selects how an expanded Note's NoteOff is clamped when it
// would land past the compiled span (spec §4.2 step 2).
type ClampMode int

const (
	// ClampToTotalLength clamps an overrunning NoteOff to TotalBeats.
	ClampToTotalLength ClampMode = iota
	// ClampToRiffEnd clamps to the owning riff's own length minus one
	// tick (one compiler sample), the riff-scoped ceiling of spec §4.2
	// step 2; internal/transport's as-riff playback compiles with it.
	ClampToRiffEnd
)

// Options carries the tempo/sample-rate/block-size/span quadruple every
// compile call needs, plus the MIDI channel stamped onto channel-bearing
// events (spec §4.2 step 6).
type Options struct {
	Tempo       float64 // beats per minute
	SampleRate  int
	BlockSize   int
	TotalBeats  float64
	MIDIChannel int
	Clamp       ClampMode
}

// TotalBlocks returns ceil(TotalBeats * 60 * SampleRate / (Tempo * BlockSize)),
// the block count spec §4.2 defines the output index range over.
func (o Options) TotalBlocks() int {
	if o.Tempo <= 0 || o.BlockSize <= 0 {
		return 0
	}
	totalSamples := o.TotalBeats * 60 * float64(o.SampleRate) / o.Tempo
	return int(math.Ceil(totalSamples / float64(o.BlockSize)))
}

// BeatsToSample converts a beat position to a sample position per spec
// §4.2 step 3: sample = position * 60 * sr / bpm.
func (o Options) BeatsToSample(positionBeats float64) int64 {
	return int64(positionBeats * 60 * float64(o.SampleRate) / o.Tempo)
}

// CompiledEvent pairs an expanded TrackEvent with its resolved sample
// position and in-block offset.
type CompiledEvent struct {
	Event          model.TrackEvent
	SamplePosition int64
	BlockIndex     int
	Offset         int
}

// Compiled is the Block-mode compiler's output: one event list and one
// automation-update list, both indexed by block.
type Compiled struct {
	Blocks           [][]CompiledEvent
	AutomationBlocks [][]CompiledEvent
}

// riffIndex maps each riff id in a flat slice to its riff, so a riff
// reference's linked riff is resolved by one map lookup. Callers pass a
// single track's own riffs (an owned, typically small list).
func riffIndex(riffs []model.Riff) map[model.UUID]*model.Riff {
	m := make(map[model.UUID]*model.Riff, len(riffs))
	for i := range riffs {
		m[riffs[i].ID] = &riffs[i]
	}
	return m
}

// expandRiffReferences performs spec §4.2 steps 1-2: for each reference,
// clone the linked riff's events shifted by the reference's position, and
// expand Note events into NoteOn/NoteOff pairs clamped per opts.Clamp.
// References to an unknown riff are skipped (spec §7).
func expandRiffReferences(riffs []model.Riff, refs []model.RiffReference, opts Options) []model.TrackEvent {
	byID := riffIndex(riffs)
	var out []model.TrackEvent

	for _, ref := range refs {
		riff, ok := byID[ref.RiffID]
		if !ok {
			continue
		}
		ceiling := opts.TotalBeats
		if opts.Clamp == ClampToRiffEnd {
			// one tick before the riff's own end; a "tick" here is one
			// compiler sample, expressed back in beats.
			tick := float64(1) * opts.Tempo / (60 * float64(opts.SampleRate))
			ceiling = riff.LengthBeats - tick
		}

		for _, e := range riff.Events {
			shifted := e.Shift(ref.Position)
			if shifted.Kind != model.EventNote {
				out = append(out, shifted)
				continue
			}

			noteOn := shifted
			noteOn.Kind = model.EventNoteOn
			out = append(out, noteOn)

			noteOff := shifted
			noteOff.Kind = model.EventNoteOff
			noteOff.Position = shifted.Position + shifted.Length
			if noteOff.Position > ceiling {
				noteOff.Position = ceiling
			}
			out = append(out, noteOff)
		}
	}
	return out
}

// toCompiled converts beat-positioned events into sample-positioned,
// channel-stamped CompiledEvents (spec §4.2 steps 3 and 6).
func toCompiled(events []model.TrackEvent, opts Options) []CompiledEvent {
	out := make([]CompiledEvent, 0, len(events))
	for _, e := range events {
		e = e.WithChannel(opts.MIDIChannel)
		sample := opts.BeatsToSample(e.Position)
		ce := CompiledEvent{Event: e, SamplePosition: sample}
		if opts.BlockSize > 0 {
			ce.BlockIndex = int(sample / int64(opts.BlockSize))
			ce.Offset = int(sample % int64(opts.BlockSize))
		}
		out = append(out, ce)
	}
	return out
}

// stableSortKey implements spec §4.2 step 5 and §8's loop-safety
// property: within a block, sort by (offset, kind order), where NoteOff
// precedes NoteOn at equal offsets.
func stableSortKey(events []CompiledEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Offset != events[j].Offset {
			return events[i].Offset < events[j].Offset
		}
		return events[i].Event.Kind.SortOrder() < events[j].Event.Kind.SortOrder()
	})
}

func bucketByBlock(events []CompiledEvent, totalBlocks int) [][]CompiledEvent {
	buckets := make([][]CompiledEvent, totalBlocks)
	for _, ce := range events {
		if ce.BlockIndex < 0 || ce.BlockIndex >= totalBlocks {
			continue
		}
		buckets[ce.BlockIndex] = append(buckets[ce.BlockIndex], ce)
	}
	for i := range buckets {
		stableSortKey(buckets[i])
	}
	return buckets
}

// CompileBlocks is the Block event processor (spec §4.2): it expands
// every riff reference, converts positions to samples, and buckets the
// result into fixed-size, block-indexed lists. Automation events are
// compiled the same way as a parallel stream.
func CompileBlocks(riffs []model.Riff, refs []model.RiffReference, automation []model.TrackEvent, opts Options) *Compiled {
	totalBlocks := opts.TotalBlocks()

	expanded := expandRiffReferences(riffs, refs, opts)
	eventCompiled := toCompiled(expanded, opts)
	automationCompiled := toCompiled(automation, opts)

	return &Compiled{
		Blocks:           bucketByBlock(eventCompiled, totalBlocks),
		AutomationBlocks: bucketByBlock(automationCompiled, totalBlocks),
	}
}

// CompileFlat is the RiffBufferEventProcessor (spec §4.2 second mode): a
// single, absolute-sample-positioned, fully ordered event list, intended
// for a Track Processor to walk with a sliding cursor rather than index
// by block.
func CompileFlat(riffs []model.Riff, refs []model.RiffReference, automation []model.TrackEvent, opts Options) []CompiledEvent {
	expanded := expandRiffReferences(riffs, refs, opts)
	expanded = append(expanded, automation...)
	flat := toCompiled(expanded, opts)

	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].SamplePosition != flat[j].SamplePosition {
			return flat[i].SamplePosition < flat[j].SamplePosition
		}
		return flat[i].Event.Kind.SortOrder() < flat[j].Event.Kind.SortOrder()
	})
	return flat
}
