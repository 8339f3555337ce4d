package export

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/schollz/riffengine/internal/model"
)

// PPQN is the pulses-per-quarter-note resolution every exported file is
// written at (spec §6: "PPQN as assigned by the MIDI writer"). 480 matches
// the resolution the pack's own MIDI exporters default to.
const PPQN = smf.MetricTicks(480)

// ccVolume and ccPan are the only two Controller numbers spec §6 carries
// through to the exported file; every other controller number is dropped.
const (
	ccVolume = 7
	ccPan    = 10
)

// microsecondsPerBeat mirrors spec §6's SetTempo formula
// (1/bpm * 60 * 10^6) for the MIDI export round-trip property in §8;
// smf.MetaTempo computes the same value internally from bpm.
func microsecondsPerBeat(bpm float64) uint32 {
	return uint32(60 * 1e6 / bpm)
}

// expandNotes turns Note events into NoteOn/NoteOff pairs (spec §6:
// "Notes expanded to NoteOn/NoteOff at channel 0"), clamping an
// overrunning NoteOff to ceilingBeats, and leaves every other event kind
// untouched for the caller to filter.
func expandNotes(events []model.TrackEvent, ceilingBeats float64) []model.TrackEvent {
	out := make([]model.TrackEvent, 0, len(events))
	for _, e := range events {
		if e.Kind != model.EventNote {
			out = append(out, e)
			continue
		}
		on := e
		on.Kind = model.EventNoteOn
		out = append(out, on)

		off := e
		off.Kind = model.EventNoteOff
		off.Position = e.Position + e.Length
		if off.Position > ceilingBeats {
			off.Position = ceilingBeats
		}
		out = append(out, off)
	}
	return out
}

// sortForExport orders events by beat position, NoteOff before NoteOn at
// ties, matching the loop-safety ordering internal/compile applies to the
// real-time path (spec §8).
func sortForExport(events []model.TrackEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Position != events[j].Position {
			return events[i].Position < events[j].Position
		}
		return events[i].Kind.SortOrder() < events[j].Kind.SortOrder()
	})
}

func beatsToTicks(beats float64) uint32 {
	if beats < 0 {
		return 0
	}
	return uint32(math.Round(beats * float64(PPQN)))
}

// midiMessageFor returns the exported MIDI message for e at channel 0, or
// ok=false if e's kind is one spec §6 says to drop (Sample,
// AudioPluginParameter, Measure, and any Controller other than CC7/CC10).
func midiMessageFor(e model.TrackEvent) (midi.Message, bool) {
	const channel = 0
	switch e.Kind {
	case model.EventNoteOn:
		return midi.NoteOn(channel, uint8(e.Pitch), uint8(e.Velocity)), true
	case model.EventNoteOff:
		return midi.NoteOff(channel, uint8(e.Pitch)), true
	case model.EventController:
		switch e.Controller {
		case ccVolume, ccPan:
			return midi.ControlChange(channel, uint8(e.Controller), uint8(e.Value)), true
		default:
			return nil, false
		}
	case model.EventPitchBend:
		return midi.Pitchbend(channel, int16(e.Bend)), true
	default:
		return nil, false
	}
}

// buildTrack emits one smf.Track for events, with a track name and
// (optionally) an instrument-name meta event at the start (spec §6:
// "track name and instrument-name meta events at the start of each
// non-tempo track"), ending with EndOfTrack at endBeats.
func buildTrack(name, instrumentName string, events []model.TrackEvent, endBeats float64) smf.Track {
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName(name))
	if instrumentName != "" {
		track.Add(0, smf.MetaInstrument(instrumentName))
	}

	sortForExport(events)

	var lastTick uint32
	for _, e := range events {
		msg, ok := midiMessageFor(e)
		if !ok {
			continue
		}
		tick := beatsToTicks(e.Position)
		delta := uint32(0)
		if tick > lastTick {
			delta = tick - lastTick
		}
		track.Add(delta, msg)
		lastTick = tick
	}

	endTick := beatsToTicks(endBeats)
	closeDelta := uint32(0)
	if endTick > lastTick {
		closeDelta = endTick - lastTick
	}
	track.Close(closeDelta)
	return track
}

// tempoTrack is the conductor track every exported file starts with:
// SetTempo per spec §6's microseconds-per-beat formula, closed at
// endBeats.
func tempoTrack(bpm float64, endBeats float64) smf.Track {
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName("Tempo"))
	track.Add(0, smf.MetaTempo(bpm))
	track.Close(beatsToTicks(endBeats))
	return track
}

// instrumentName resolves the instrument/device label spec §6's
// instrument-name meta event carries; MIDI tracks use their device
// binding, instrument tracks their plugin descriptor's name, audio
// tracks have none.
func instrumentName(t *model.Track) string {
	switch t.Kind {
	case model.TrackInstrument:
		if t.Instrument != nil {
			return t.Instrument.Name
		}
	case model.TrackMIDI:
		return t.DeviceBinding
	}
	return ""
}

// trackEventsForExport gathers a track's song-level timeline into one
// beat-positioned event list: its riff references expanded (Note->
// NoteOn/NoteOff) plus its own Automation stream. Riff references to an
// unknown riff are skipped (spec §7).
func trackEventsForExport(t *model.Track, endBeats float64) []model.TrackEvent {
	byID := make(map[model.UUID]*model.Riff, len(t.Riffs))
	for i := range t.Riffs {
		byID[t.Riffs[i].ID] = &t.Riffs[i]
	}

	var raw []model.TrackEvent
	for _, ref := range t.RiffRefs {
		riff, ok := byID[ref.RiffID]
		if !ok {
			continue
		}
		for _, e := range riff.Events {
			raw = append(raw, e.Shift(ref.Position))
		}
	}
	raw = append(raw, t.Automation.Events...)
	return expandNotes(raw, endBeats)
}

// ProjectMIDI builds the "full project" export variant: one tempo track
// plus one track per Song track, using each track's song-level riff
// references and automation (spec §6).
func ProjectMIDI(song *model.Song) *smf.SMF {
	endBeats := model.RecalculateLength(song)

	out := smf.New()
	out.TimeFormat = PPQN
	out.Add(tempoTrack(song.Tempo, endBeats))

	for _, t := range song.Tracks {
		events := trackEventsForExport(t, endBeats)
		out.Add(buildTrack(t.Name, instrumentName(t), events, endBeats))
	}
	return out
}

// WriteMIDI writes s as a Standard MIDI File to w.
func WriteMIDI(w io.Writer, s *smf.SMF) error {
	if s == nil {
		return fmt.Errorf("export: nil SMF")
	}
	_, err := s.WriteTo(w)
	return err
}

// AllRiffsPerTrackMIDI builds the "all-riffs-per-track" export variant:
// one file per Song track, concatenating that track's own Riffs
// back-to-back in slice order (spec §6).
func AllRiffsPerTrackMIDI(song *model.Song) map[model.UUID]*smf.SMF {
	out := make(map[model.UUID]*smf.SMF, len(song.Tracks))
	for _, t := range song.Tracks {
		var cursor float64
		var raw []model.TrackEvent
		for _, riff := range t.Riffs {
			for _, e := range riff.Events {
				raw = append(raw, e.Shift(cursor))
			}
			cursor += riff.LengthBeats
		}
		events := expandNotes(raw, cursor)

		s := smf.New()
		s.TimeFormat = PPQN
		s.Add(tempoTrack(song.Tempo, cursor))
		s.Add(buildTrack(t.Name, instrumentName(t), events, cursor))
		out[t.ID] = s
	}
	return out
}

// RiffFilesMIDI builds the "one-file-per-riff" export variant: one file
// per Riff across the whole song, clamped to that riff's own length
// (spec §4.2 step 2: "for riff-scoped export, to riff_length - 1 tick").
func RiffFilesMIDI(song *model.Song) map[model.UUID]*smf.SMF {
	out := make(map[model.UUID]*smf.SMF, 0)
	oneTick := 1.0 / float64(PPQN)

	for _, t := range song.Tracks {
		for i := range t.Riffs {
			riff := &t.Riffs[i]
			ceiling := riff.LengthBeats - oneTick
			if ceiling < 0 {
				ceiling = 0
			}
			events := expandNotes(riff.Events, ceiling)

			s := smf.New()
			s.TimeFormat = PPQN
			s.Add(tempoTrack(song.Tempo, riff.LengthBeats))
			s.Add(buildTrack(riff.Name, instrumentName(t), events, riff.LengthBeats))
			out[riff.ID] = s
		}
	}
	return out
}
