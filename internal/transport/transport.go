// Package transport implements the Transport Controller (spec §4.5): play
// mode selection (Song/RiffSet/RiffSequence/RiffArrangement), stop, seek,
// playing-summary tables for the UI, and OSC playback telemetry.
//
// The Controller is the one process-wide owner of mutable transport state
// (spec §5 "confine global mutable state to the Transport Controller");
// it drives each track's internal/track.Processor via Enqueue, which is
// the control-plane path and may block, never the real-time one.
package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/schollz/riffengine/internal/compile"
	"github.com/schollz/riffengine/internal/model"
	"github.com/schollz/riffengine/internal/reconcile"
	"github.com/schollz/riffengine/internal/routing"
	"github.com/schollz/riffengine/internal/track"
)

// PlayMode tags which composition scope is currently playing.
type PlayMode int

const (
	ModeStopped PlayMode = iota
	ModeSong
	ModeRiffSet
	ModeRiffSequence
	ModeRiffArrangement
)

func (m PlayMode) String() string {
	switch m {
	case ModeSong:
		return "song"
	case ModeRiffSet:
		return "riffset"
	case ModeRiffSequence:
		return "riffsequence"
	case ModeRiffArrangement:
		return "riffarrangement"
	default:
		return "stopped"
	}
}

// SequenceElement is one entry in a RiffSequence's playing-summary table
// (spec §4.5: "(element_length, ref_uuid, set_uuid)"). This model's
// RiffSequence stores RiffSet ids directly, with no intervening
// reference entity, so RefID and SetID are the same value here (see
// DESIGN.md).
type SequenceElement struct {
	Length int
	RefID  model.UUID
	SetID  model.UUID
}

// SequenceSummary is a RiffSequence's playing-summary table.
type SequenceSummary struct {
	TotalLength int
	Elements    []SequenceElement
}

// ArrangementSubItem is a nested element of an expanded RiffSequence item
// within an ArrangementItemSummary.
type ArrangementSubItem struct {
	Length int
	Item   model.RiffItem
}

// ArrangementItemSummary is one top-level RiffItem's entry in an
// arrangement's playing-summary table, with nested sequence items
// expanded (spec §4.5).
type ArrangementItemSummary struct {
	Length   int
	Item     model.RiffItem
	SubItems []ArrangementSubItem
}

// ArrangementSummary is a RiffArrangement's playing-summary table.
type ArrangementSummary struct {
	TotalLength int
	Items       []ArrangementItemSummary
}

// Controller owns playback state for one Song. Construct one per loaded
// project; RegisterTrack each of the Song's tracks before calling any
// Play* method.
type Controller struct {
	mu sync.Mutex

	song *model.Song
	idx  *model.Index

	tracks map[model.UUID]*track.Processor

	renderMu  sync.Mutex
	consumers map[model.UUID]*routing.AudioConsumer

	osc *osc.Client

	mode              PlayMode
	playPositionFrame int64
}

// NewController builds a Controller over song. oscAddr/oscPort may be
// empty/0 to disable telemetry (spec §5's "outward notification" is
// best-effort, never required for playback correctness).
func NewController(song *model.Song, oscAddr string, oscPort int) *Controller {
	var client *osc.Client
	if oscAddr != "" && oscPort > 0 {
		client = osc.NewClient(oscAddr, oscPort)
	}
	return &Controller{
		song:      song,
		idx:       model.BuildIndex(song),
		tracks:    make(map[model.UUID]*track.Processor),
		consumers: make(map[model.UUID]*routing.AudioConsumer),
		osc:       client,
	}
}

// RegisterTrack attaches a running track.Processor to this track id and
// records its output consumer in the render-consumer map shared with the
// export worker (spec §5).
func (c *Controller) RegisterTrack(trackID model.UUID, p *track.Processor) {
	c.mu.Lock()
	c.tracks[trackID] = p
	c.mu.Unlock()

	c.renderMu.Lock()
	c.consumers[trackID] = p.OutputConsumer()
	c.renderMu.Unlock()
}

// RenderConsumer returns the registered track's output consumer, for the
// export worker to pull rendered audio from (spec §5 shared-resource).
func (c *Controller) RenderConsumer(trackID model.UUID) (*routing.AudioConsumer, bool) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	cons, ok := c.consumers[trackID]
	return cons, ok
}

// Mode returns the current play mode.
func (c *Controller) Mode() PlayMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) setMode(m PlayMode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

func (c *Controller) baseOptions() compile.Options {
	return compile.Options{
		Tempo:      c.song.Tempo,
		SampleRate: c.song.SampleRate,
		BlockSize:  c.song.BlockSize,
		Clamp:      compile.ClampToTotalLength,
	}
}

func (c *Controller) trackOptions(t *model.Track, totalBeats float64) compile.Options {
	opts := c.baseOptions()
	opts.TotalBeats = totalBeats
	opts.MIDIChannel = t.MIDIChannel
	return opts
}

func (c *Controller) notifyOSC(address string, args ...interface{}) {
	if c.osc == nil {
		return
	}
	msg := osc.NewMessage(address)
	for _, a := range args {
		msg.Append(a)
	}
	if err := c.osc.Send(msg); err != nil {
		log.Printf("[TRANSPORT] osc send %s: %v", address, err)
	}
}

// PlaySong implements spec §4.5 play_song: compiles block-mode events for
// every track using the song's own riff references and track-level
// automation, applies the active Loop if one is set, and starts every
// track at block 0.
func (c *Controller) PlaySong() error {
	totalBeats := model.RecalculateLength(c.song)
	opts0 := c.baseOptions()
	opts0.TotalBeats = totalBeats
	totalBlocks := opts0.TotalBlocks()

	for _, t := range c.song.Tracks {
		p, ok := c.tracks[t.ID]
		if !ok {
			continue
		}
		opts := c.trackOptions(t, totalBeats)
		compiled := compile.CompileBlocks(t.Riffs, t.RiffRefs, t.Automation.Events, opts)
		p.Enqueue(track.Command{Kind: track.CmdSetEventProcessorType, ProcessorType: track.ProcessorBlock})
		p.Enqueue(track.Command{Kind: track.CmdSetEvents, Blocks: compiled, BlockSize: c.song.BlockSize})

		if loop := activeLoop(c.song); loop != nil {
			p.Enqueue(track.Command{Kind: track.CmdLoop, LoopEnabled: true})
			p.Enqueue(track.Command{
				Kind:      track.CmdLoopExtents,
				LoopStart: int(opts.BeatsToSample(loop.StartBeat) / int64(c.song.BlockSize)),
				LoopEnd:   int(opts.BeatsToSample(loop.EndBeat) / int64(c.song.BlockSize)),
			})
		}
		p.Enqueue(track.Command{Kind: track.CmdPlay, StartBlock: 0})
	}

	c.setMode(ModeSong)
	c.notifyOSC("/transport/play", "song", totalBlocks)
	return nil
}

func activeLoop(song *model.Song) *model.Loop {
	if song.ActiveLoop == (model.UUID{}) {
		return nil
	}
	for _, l := range song.Loops {
		if l.ID == song.ActiveLoop {
			return l
		}
	}
	return nil
}

// PlayRiffSetAsRiff implements the "as-riff" variant of spec §4.5
// play_riff_set: each participating track's processor switches to
// RiffBufferEventProcessor mode and loops its own riff indefinitely.
func (c *Controller) PlayRiffSetAsRiff(setID model.UUID) error {
	set := c.idx.RiffSet(setID)
	if set == nil {
		return fmt.Errorf("riff set %s not found", setID)
	}

	for trackID, ref := range set.Refs {
		t := c.idx.Track(trackID)
		p, ok := c.tracks[trackID]
		if t == nil || !ok {
			continue
		}
		riff := c.idx.Riff(ref.RiffID)
		if riff == nil {
			continue
		}

		opts := c.trackOptions(t, riff.LengthBeats)
		opts.Clamp = compile.ClampToRiffEnd
		flat := compile.CompileFlat([]model.Riff{*riff}, []model.RiffReference{{RiffID: riff.ID, Position: 0}}, nil, opts)
		loopSpan := opts.BeatsToSample(riff.LengthBeats)

		p.Enqueue(track.Command{Kind: track.CmdSetEventProcessorType, ProcessorType: track.ProcessorRiffBuffer})
		p.Enqueue(track.Command{Kind: track.CmdSetEvents, FlatEvents: flat, LoopSpan: loopSpan, BlockSize: c.song.BlockSize})
		p.Enqueue(track.Command{Kind: track.CmdPlay, StartBlock: 0})
	}

	c.setMode(ModeRiffSet)
	c.notifyOSC("/transport/play", "riffset-asriff", setID.String())
	return nil
}

// PlayRiffSetInBlocks implements the "in-blocks" variant of spec §4.5
// play_riff_set: reconciles the set's length via internal/reconcile,
// expands each track's single riff reference into `repeats` references
// covering the reconciled span, and compiles in Block mode over a finite
// block count. On first start it enables looping over that block count
// (LoopExtents(0, total_blocks-1) + Loop(true)) so the finite, reconciled
// span repeats instead of playing once and falling silent.
//
// When already playing, per SPEC_FULL.md's Open Question decision, Play
// (and the loop setup) is suppressed and only the event set is replaced:
// the track keeps its current block_index and loop extents.
func (c *Controller) PlayRiffSetInBlocks(setID model.UUID) error {
	set := c.idx.RiffSet(setID)
	if set == nil {
		return fmt.Errorf("riff set %s not found", setID)
	}
	reconciledLen := reconcile.LengthWithIndex(c.idx, set)
	if reconciledLen <= 0 {
		return fmt.Errorf("riff set %s has no resolvable riffs", setID)
	}
	wasPlaying := c.Mode() == ModeRiffSet

	for trackID, ref := range set.Refs {
		t := c.idx.Track(trackID)
		p, ok := c.tracks[trackID]
		if t == nil || !ok {
			continue
		}
		riff := c.idx.Riff(ref.RiffID)
		if riff == nil || riff.LengthBeats <= 0 {
			continue
		}

		repeats := reconciledLen / int(riff.LengthBeats)
		refs := make([]model.RiffReference, 0, repeats)
		for r := 0; r < repeats; r++ {
			refs = append(refs, model.RiffReference{RiffID: riff.ID, Position: float64(r) * riff.LengthBeats})
		}

		opts := c.trackOptions(t, float64(reconciledLen))
		compiled := compile.CompileBlocks([]model.Riff{*riff}, refs, t.Automation.Events, opts)

		p.Enqueue(track.Command{Kind: track.CmdSetEventProcessorType, ProcessorType: track.ProcessorBlock})
		p.Enqueue(track.Command{Kind: track.CmdSetEvents, Blocks: compiled, BlockSize: c.song.BlockSize})
		if !wasPlaying {
			p.Enqueue(track.Command{Kind: track.CmdLoop, LoopEnabled: true})
			p.Enqueue(track.Command{Kind: track.CmdLoopExtents, LoopStart: 0, LoopEnd: opts.TotalBlocks() - 1})
			p.Enqueue(track.Command{Kind: track.CmdPlay, StartBlock: 0})
		}
	}

	c.setMode(ModeRiffSet)
	c.notifyOSC("/transport/play", "riffset-blocks", setID.String(), reconciledLen)
	return nil
}

// sequenceComposition is the per-track result of composing a
// RiffSequence: the riff references produced and the total reconciled
// beat span, for either direct play or arrangement expansion.
type sequenceComposition struct {
	refsByTrack map[model.UUID][]model.RiffReference
	totalBeats  float64
	summary     SequenceSummary
}

// composeSequence implements spec §4.5 play_riff_sequence's reference-
// building: iterate the sequence's RiffSet references, advancing every
// track's running position by each set's reconciled length, whether or
// not that track participates in a given set.
func (c *Controller) composeSequence(seq *model.RiffSequence, startBeat float64) sequenceComposition {
	comp := sequenceComposition{refsByTrack: make(map[model.UUID][]model.RiffReference)}
	pos := startBeat

	for _, setID := range seq.RiffSets {
		set := c.idx.RiffSet(setID)
		if set == nil {
			continue
		}
		length := reconcile.LengthWithIndex(c.idx, set)

		for trackID, ref := range set.Refs {
			riff := c.idx.Riff(ref.RiffID)
			if riff == nil || riff.LengthBeats <= 0 {
				continue
			}
			repeats := length / int(riff.LengthBeats)
			for r := 0; r < repeats; r++ {
				comp.refsByTrack[trackID] = append(comp.refsByTrack[trackID], model.RiffReference{
					RiffID:   riff.ID,
					Position: pos + float64(r)*riff.LengthBeats,
				})
			}
		}

		comp.summary.Elements = append(comp.summary.Elements, SequenceElement{Length: length, RefID: setID, SetID: setID})
		pos += float64(length)
	}

	comp.totalBeats = pos - startBeat
	comp.summary.TotalLength = int(comp.totalBeats)
	return comp
}

// PlayRiffSequence implements spec §4.5 play_riff_sequence.
func (c *Controller) PlayRiffSequence(seqID model.UUID) error {
	seq := c.idx.RiffSequence(seqID)
	if seq == nil {
		return fmt.Errorf("riff sequence %s not found", seqID)
	}
	comp := c.composeSequence(seq, 0)

	for _, t := range c.song.Tracks {
		p, ok := c.tracks[t.ID]
		if !ok {
			continue
		}
		refs := comp.refsByTrack[t.ID]
		opts := c.trackOptions(t, comp.totalBeats)
		compiled := compile.CompileBlocks(t.Riffs, refs, t.Automation.Events, opts)

		p.Enqueue(track.Command{Kind: track.CmdSetEventProcessorType, ProcessorType: track.ProcessorBlock})
		p.Enqueue(track.Command{Kind: track.CmdSetEvents, Blocks: compiled, BlockSize: c.song.BlockSize})
		p.Enqueue(track.Command{Kind: track.CmdPlay, StartBlock: 0})
	}

	c.setMode(ModeRiffSequence)
	c.notifyOSC("/transport/play", "riffsequence", seqID.String())
	return nil
}

// SequenceSummaryFor returns the playing-summary table for a sequence
// without starting playback, for UI highlighting (spec §4.5).
func (c *Controller) SequenceSummaryFor(seqID model.UUID) (SequenceSummary, error) {
	seq := c.idx.RiffSequence(seqID)
	if seq == nil {
		return SequenceSummary{}, fmt.Errorf("riff sequence %s not found", seqID)
	}
	return c.composeSequence(seq, 0).summary, nil
}

// PlayRiffArrangement implements spec §4.5 play_riff_arrangement(start_beat):
// each RiffItem (Set or Sequence) is composed in turn, every track's
// running position advancing by that item's reconciled length; arrangement-
// scoped automation overrides a track's own automation where provided;
// playback does not loop.
func (c *Controller) PlayRiffArrangement(arrID model.UUID, startBeat float64) error {
	arr := c.idx.RiffArrangement(arrID)
	if arr == nil {
		return fmt.Errorf("riff arrangement %s not found", arrID)
	}

	refsByTrack := make(map[model.UUID][]model.RiffReference)
	pos := startBeat

	for _, item := range arr.Items {
		switch item.Kind {
		case model.RiffItemSet:
			set := c.idx.RiffSet(item.RefID)
			if set == nil {
				continue
			}
			length := reconcile.LengthWithIndex(c.idx, set)
			for trackID, ref := range set.Refs {
				riff := c.idx.Riff(ref.RiffID)
				if riff == nil || riff.LengthBeats <= 0 {
					continue
				}
				repeats := length / int(riff.LengthBeats)
				for r := 0; r < repeats; r++ {
					refsByTrack[trackID] = append(refsByTrack[trackID], model.RiffReference{
						RiffID:   riff.ID,
						Position: pos + float64(r)*riff.LengthBeats,
					})
				}
			}
			pos += float64(length)
		case model.RiffItemSequence:
			seq := c.idx.RiffSequence(item.RefID)
			if seq == nil {
				continue
			}
			comp := c.composeSequence(seq, pos)
			for trackID, refs := range comp.refsByTrack {
				refsByTrack[trackID] = append(refsByTrack[trackID], refs...)
			}
			pos += comp.totalBeats
		}
	}

	totalBeats := pos - startBeat

	for _, t := range c.song.Tracks {
		p, ok := c.tracks[t.ID]
		if !ok {
			continue
		}
		automation := t.Automation.Events
		if arr.TrackAutomation != nil {
			if override, has := arr.TrackAutomation[t.ID]; has {
				automation = override.Events
			}
		}
		opts := c.trackOptions(t, totalBeats)
		compiled := compile.CompileBlocks(t.Riffs, refsByTrack[t.ID], automation, opts)

		p.Enqueue(track.Command{Kind: track.CmdSetEventProcessorType, ProcessorType: track.ProcessorBlock})
		p.Enqueue(track.Command{Kind: track.CmdSetEvents, Blocks: compiled, BlockSize: c.song.BlockSize})
		p.Enqueue(track.Command{Kind: track.CmdPlay, StartBlock: 0})
	}

	c.setMode(ModeRiffArrangement)
	c.notifyOSC("/transport/play", "riffarrangement", arrID.String(), startBeat)
	return nil
}

// ArrangementSummaryFor returns the playing-summary table for an
// arrangement, expanding nested sequence items into sub-items (spec
// §4.5).
func (c *Controller) ArrangementSummaryFor(arrID model.UUID) (ArrangementSummary, error) {
	arr := c.idx.RiffArrangement(arrID)
	if arr == nil {
		return ArrangementSummary{}, fmt.Errorf("riff arrangement %s not found", arrID)
	}

	summary := ArrangementSummary{}
	pos := 0.0
	for _, item := range arr.Items {
		switch item.Kind {
		case model.RiffItemSet:
			set := c.idx.RiffSet(item.RefID)
			if set == nil {
				continue
			}
			length := reconcile.LengthWithIndex(c.idx, set)
			summary.Items = append(summary.Items, ArrangementItemSummary{Length: length, Item: item})
			pos += float64(length)
		case model.RiffItemSequence:
			seq := c.idx.RiffSequence(item.RefID)
			if seq == nil {
				continue
			}
			seqSummary := c.composeSequence(seq, pos).summary
			sub := make([]ArrangementSubItem, 0, len(seqSummary.Elements))
			for _, el := range seqSummary.Elements {
				sub = append(sub, ArrangementSubItem{Length: el.Length, Item: model.RiffItem{Kind: model.RiffItemSet, RefID: el.SetID}})
			}
			summary.Items = append(summary.Items, ArrangementItemSummary{Length: seqSummary.TotalLength, Item: item, SubItems: sub})
			pos += float64(seqSummary.TotalLength)
		}
	}
	summary.TotalLength = int(pos)
	return summary, nil
}

// Stop implements spec §4.5 stop: fire-and-forget Stop to every track.
func (c *Controller) Stop() {
	for _, p := range c.tracks {
		p.Enqueue(track.Command{Kind: track.CmdStop})
	}
	c.setMode(ModeStopped)
	c.notifyOSC("/transport/stop")
}

// Seek implements spec §4.5 seek: valid only when stopped.
func (c *Controller) Seek(frames int64) error {
	if c.Mode() != ModeStopped {
		return fmt.Errorf("seek is only valid while stopped")
	}
	c.mu.Lock()
	c.playPositionFrame = frames
	c.mu.Unlock()
	return nil
}

// PlayPositionFrames returns the current seek position.
func (c *Controller) PlayPositionFrames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playPositionFrame
}

// PresetRequestTimeout is the bounded wait spec §4.5/§5 specifies for a
// preset request ("~1 second per track ... after which the track's
// preset is skipped").
const PresetRequestTimeout = time.Second

// RequestPresetData asks a track for its current preset blobs, waiting at
// most PresetRequestTimeout before giving up without blocking the
// Transport indefinitely on an unresponsive track.
func (c *Controller) RequestPresetData(trackID model.UUID) (track.Notification, bool) {
	p, ok := c.tracks[trackID]
	if !ok {
		return track.Notification{}, false
	}
	p.Enqueue(track.Command{Kind: track.CmdRequestPresetData})
	select {
	case n := <-p.Notifications():
		return n, true
	case <-time.After(PresetRequestTimeout):
		log.Printf("[TRANSPORT] preset request for track %s timed out", trackID)
		return track.Notification{}, false
	}
}
