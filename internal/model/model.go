// Package model holds the composition entities a Project is built from:
// tracks, riffs, riff sets, riff sequences, riff arrangements, and the
// automation/loop/sample data they reference. Entities are considered a
// stable snapshot during playback (see internal/transport); edits during
// playback must be routed through the Transport rather than mutating these
// structs directly from another goroutine.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID is this module's stable identity type. Every composition entity
// gets one at creation time and it never changes; riff references and
// routing descriptors carry only the UUID, never a pointer, so the
// composition graph has no cycles (spec §9).
type UUID = uuid.UUID

// NewUUID mints a fresh random identity.
func NewUUID() UUID { return uuid.New() }

// TrackKind tags the variant held by a Track.
type TrackKind int

const (
	TrackInstrument TrackKind = iota
	TrackAudio
	TrackMIDI
)

func (k TrackKind) String() string {
	switch k {
	case TrackInstrument:
		return "instrument"
	case TrackAudio:
		return "audio"
	case TrackMIDI:
		return "midi"
	default:
		return "unknown"
	}
}

// NodeKind distinguishes the destination kinds a Routing can target.
type NodeKind int

const (
	NodeTrack NodeKind = iota
	NodeInstrument
	NodeEffect
)

// RoutingDescriptor names a directed event/audio connection endpoint.
// PluginIndex is only meaningful for NodeInstrument (ignored, there is at
// most one instrument per track) and NodeEffect (index into the owning
// track's Effects slice).
type RoutingDescriptor struct {
	Kind        NodeKind `json:"kind"`
	TrackID     UUID     `json:"trackId"`
	PluginIndex int      `json:"pluginIndex"`
}

// PluginDescriptor names an opaque instrument/effect instantiator. The
// plugin itself is a black box (spec §1); this module only carries enough
// to ask the loader registry (internal/plugin) to instantiate one and to
// persist/restore a preset blob.
type PluginDescriptor struct {
	Name       string `json:"name"`
	PresetData []byte `json:"presetData,omitempty"`
}

// Sample is a recorded audio asset referenced by Audio tracks and by
// Sample TrackEvents. Actual sample decode/playback is out of scope here
// (spec §1); this struct only carries enough identity+path for routing
// and export to resolve a reference.
type Sample struct {
	ID   UUID   `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Loop marks a start/end pair in beats, used by Transport to set
// LoopExtents on every track when the active loop is non-empty.
type Loop struct {
	ID         UUID    `json:"id"`
	StartBeat  float64 `json:"startBeat"`
	EndBeat    float64 `json:"endBeat"`
}

// Riff is a bounded musical fragment: a positive beat length and an
// ordered set of events whose positions all satisfy 0 <= pos < Length.
type Riff struct {
	ID          UUID         `json:"id"`
	Name        string       `json:"name"`
	LengthBeats float64      `json:"lengthBeats"`
	Events      []TrackEvent `json:"events"`
}

// Validate enforces the riff-level invariants from spec §3.
func (r *Riff) Validate() error {
	if r.LengthBeats <= 0 {
		return fmt.Errorf("riff %s: length must be positive, got %v", r.ID, r.LengthBeats)
	}
	for i, e := range r.Events {
		if e.Position < 0 || e.Position >= r.LengthBeats {
			return fmt.Errorf("riff %s: event %d position %v out of [0, %v)", r.ID, i, e.Position, r.LengthBeats)
		}
	}
	return nil
}

// RiffReference places a Riff at a position, either on a track's own
// timeline (song-level) or inside a RiffSet's per-track slot (where
// Position is always 0 prior to reconciliation, spec §3).
type RiffReference struct {
	ID       UUID    `json:"id"`
	RiffID   UUID    `json:"riffId"`
	Position float64 `json:"position"` // beats, >= 0
}

// RiffSet bundles at most one riff reference per track, meant to be
// played back together as a coherent, length-reconciled loop.
type RiffSet struct {
	ID   UUID                     `json:"id"`
	Name string                   `json:"name"`
	Refs map[UUID]RiffReference   `json:"refs"` // trackID -> reference
}

// RiffItemKind tags what a RiffArrangement item points at.
type RiffItemKind int

const (
	RiffItemSet RiffItemKind = iota
	RiffItemSequence
)

// RiffItem is one entry in a RiffArrangement: either a RiffSet or a
// RiffSequence, named by UUID.
type RiffItem struct {
	Kind RiffItemKind `json:"kind"`
	RefID UUID        `json:"refId"`
}

// RiffSequence is an ordered chain of RiffSet references.
type RiffSequence struct {
	ID      UUID     `json:"id"`
	Name    string   `json:"name"`
	RiffSets []UUID  `json:"riffSets"`
}

// RiffArrangement is an ordered chain of RiffItems (sets or sequences)
// forming a song-level structure, with optional per-track automation
// overrides that take effect only while the arrangement is playing.
type RiffArrangement struct {
	ID              UUID                  `json:"id"`
	Name            string                `json:"name"`
	Items           []RiffItem            `json:"items"`
	TrackAutomation map[UUID]Automation   `json:"trackAutomation"` // trackID -> override automation
}

// TrackState is transient, per-track runtime data that is never
// persisted (spec §3: "Transient identifiers ... assigned after load and
// never persisted"). It is reset whenever a Song is loaded.
type TrackState struct {
	OverflowCount   uint64 // routing send-buffer overrun counter (§4.3, §7)
	LastPluginError error  // most recent non-fatal plugin-load failure
}

// Track is the tagged variant over {Instrument, Audio, MIDI}. Fields that
// apply only to one variant are zero-valued on the others; spec §9 asks
// for the common part (volume/pan/automation) to live on the shared
// struct rather than behind a second layer of indirection.
type Track struct {
	ID     UUID      `json:"id"`
	Name   string    `json:"name"`
	Kind   TrackKind `json:"kind"`
	Volume float32   `json:"volume"` // normalized 0..1
	Pan    float32   `json:"pan"`    // normalized -1..1

	Automation Automation      `json:"automation"`
	Riffs      []Riff          `json:"riffs"`
	RiffRefs   []RiffReference `json:"riffRefs"` // song-level timeline placements

	MIDIRouting  []RoutingDescriptor `json:"midiRouting"`
	AudioRouting []RoutingDescriptor `json:"audioRouting"`

	// Instrument-track only.
	Instrument *PluginDescriptor  `json:"instrument,omitempty"`
	Effects    []PluginDescriptor `json:"effects,omitempty"`

	// MIDI-track only.
	MIDIChannel    int    `json:"midiChannel,omitempty"`
	DeviceBinding  string `json:"deviceBinding,omitempty"`

	// Audio-track only.
	SampleRefs []UUID `json:"sampleRefs,omitempty"`

	State TrackState `json:"-"` // never persisted
}

// RiffByID returns the track's own riff with the given id, or nil.
func (t *Track) RiffByID(id UUID) *Riff {
	for i := range t.Riffs {
		if t.Riffs[i].ID == id {
			return &t.Riffs[i]
		}
	}
	return nil
}

// Song owns the full set of tracks and composition collections, plus the
// tempo/sample-rate/block-size triple the compiler needs to turn beats
// into samples and samples into blocks.
type Song struct {
	Tempo     float64 `json:"tempo"`     // beats per minute
	SampleRate int    `json:"sampleRate"`
	BlockSize  int    `json:"blockSize"`

	Tracks           []*Track           `json:"tracks"`
	RiffSets         []*RiffSet         `json:"riffSets"`
	RiffSequences    []*RiffSequence    `json:"riffSequences"`
	RiffArrangements []*RiffArrangement `json:"riffArrangements"`
	Loops            []*Loop            `json:"loops"`
	Samples          []*Sample          `json:"samples"`

	ActiveLoop UUID `json:"activeLoop,omitempty"`
}

// TrackByID returns the song's track with the given id, or nil.
func (s *Song) TrackByID(id UUID) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RiffSetByID returns the song's riff set with the given id, or nil.
func (s *Song) RiffSetByID(id UUID) *RiffSet {
	for _, rs := range s.RiffSets {
		if rs.ID == id {
			return rs
		}
	}
	return nil
}

// RiffSequenceByID returns the song's riff sequence with the given id, or nil.
func (s *Song) RiffSequenceByID(id UUID) *RiffSequence {
	for _, seq := range s.RiffSequences {
		if seq.ID == id {
			return seq
		}
	}
	return nil
}

// Project is the on-disk/in-memory root: one Song plus nothing else yet
// (spec §1 places serialization format and file I/O beyond the model
// itself out of scope; internal/storage owns turning this into bytes).
type Project struct {
	Song *Song `json:"song"`
}
