package model

// EventKind tags the variant held by a TrackEvent. The zero value is
// EventNote so an accidentally-unset event reads as the most common case.
type EventKind int

const (
	EventNote EventKind = iota
	EventNoteOn
	EventNoteOff
	EventNoteExpression
	EventController
	EventPitchBend
	EventProgramChange
	EventAfterTouch
	EventKeyPressure
	EventActiveSense
	EventAudioPluginParameter
	EventSample
	EventMeasure
)

// eventKindOrder fixes the tie-break order used when two events land at the
// same in-block sample offset (spec: NoteOff must precede NoteOn so a
// retriggered note never gets stuck from the previous loop pass).
var eventKindOrder = map[EventKind]int{
	EventNoteOff:              0,
	EventNoteOn:               1,
	EventNote:                 2,
	EventNoteExpression:       3,
	EventController:           4,
	EventPitchBend:            5,
	EventProgramChange:        6,
	EventAfterTouch:           7,
	EventKeyPressure:          8,
	EventActiveSense:          9,
	EventAudioPluginParameter: 10,
	EventSample:               11,
	EventMeasure:              12,
}

// SortOrder returns this event's position in the stable, within-block
// ordering key (sample_offset, SortOrder()).
func (k EventKind) SortOrder() int {
	if v, ok := eventKindOrder[k]; ok {
		return v
	}
	return len(eventKindOrder)
}

// TrackEvent is the tagged variant over every event a Riff or an Automation
// stream can carry. Position is always in beats; callers outside this
// package never see sample positions (that conversion is the compiler's
// job, internal/compile).
type TrackEvent struct {
	Kind     EventKind
	Position float64 // beats, 0 <= Position < riff.LengthBeats for riff-owned events

	// Note / NoteOn / NoteOff / NoteExpression
	Pitch    int
	Velocity int
	Length   float64 // beats; only meaningful for EventNote

	// Controller
	Controller int
	Value      int

	// PitchBend (14-bit, -8192..8191), ProgramChange, AfterTouch, KeyPressure
	Bend    int
	Program int

	// AudioPluginParameter
	ParamName  string
	ParamValue float64

	// Sample
	SampleID UUID

	// Channel is applied at compile time from the owning track/reference
	// (spec §4.2 step 6); left at its zero value until the compiler
	// stamps it.
	Channel int
}

// Shift returns a copy of the event with Position moved by delta beats.
func (e TrackEvent) Shift(delta float64) TrackEvent {
	e.Position += delta
	return e
}

// WithChannel returns a copy of the event with Channel set, leaving
// channel-less event kinds (Sample, Measure, AudioPluginParameter)
// untouched since they carry no MIDI channel semantics.
func (e TrackEvent) WithChannel(ch int) TrackEvent {
	switch e.Kind {
	case EventNote, EventNoteOn, EventNoteOff, EventNoteExpression,
		EventController, EventPitchBend, EventProgramChange,
		EventAfterTouch, EventKeyPressure, EventActiveSense:
		e.Channel = ch
	}
	return e
}

// Automation is an ordered set of TrackEvents (typically Controller,
// PitchBend, AudioPluginParameter) with beat-domain positions.
type Automation struct {
	Events []TrackEvent `json:"events"`
}
