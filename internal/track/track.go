// Package track implements the Track Processor (spec §4.3): one
// independent, long-lived worker per Song track, driven by an inward
// command queue and an audio-backend process callback, dispatching
// events to its plugin chain and routing audio/MIDI to other tracks
// through internal/routing.
//
// Concurrency follows the teacher's internal/midiplayer texture —
// per-note goroutine-friendly state, a single owner goroutine for the
// mutable parts — but the process callback itself never takes a lock:
// every field processBlock touches is either owned exclusively by the
// Processor's own goroutine or is a sync/atomic counter read by other
// goroutines for telemetry only.
package track

import (
	"log"

	"github.com/schollz/riffengine/internal/compile"
	"github.com/schollz/riffengine/internal/midiconnector"
	"github.com/schollz/riffengine/internal/model"
	"github.com/schollz/riffengine/internal/music"
	"github.com/schollz/riffengine/internal/plugin"
	"github.com/schollz/riffengine/internal/routing"
)

// ProcessorType selects how a Processor consumes its compiled events
// (spec §4.2 "Processor type is selected per play mode").
type ProcessorType int

const (
	ProcessorBlock ProcessorType = iota
	ProcessorRiffBuffer
)

// CommandKind tags the inward command queue's variants (spec §4.3).
type CommandKind int

const (
	CmdAddEffect CommandKind = iota
	CmdChangeInstrument
	CmdSetPresetData
	CmdSetEvents
	CmdSetEventProcessorType
	CmdPlay
	CmdStop
	CmdLoop
	CmdLoopExtents
	CmdAddTrackEventSendRouting
	CmdAddTrackEventReceiveRouting
	CmdAddAudioSendRouting
	CmdAddAudioReceiveRouting
	CmdSetSample
	CmdRequestPresetData
)

// Command is the tagged variant every inward queue entry takes.
type Command struct {
	Kind CommandKind

	Effect     model.PluginDescriptor
	Instrument model.PluginDescriptor
	PresetData []byte
	EffectIndex int

	Blocks      *compile.Compiled
	FlatEvents  []compile.CompiledEvent
	LoopSpan    int64 // sample span one lap of FlatEvents covers, for RiffBuffer wraparound
	BlockSize   int
	IsLoopScope bool

	ProcessorType ProcessorType

	StartBlock  int
	LoopEnabled bool
	LoopStart   int
	LoopEnd     int

	Destination   model.RoutingDescriptor
	EventProducer *routing.EventProducer
	EventConsumer *routing.EventConsumer
	AudioProducer *routing.AudioProducer
	AudioConsumer *routing.AudioConsumer

	Sample *model.Sample
}

// NotificationKind tags the outward notification queue's variants.
type NotificationKind int

const (
	NotifyPresetData NotificationKind = iota
	NotifyPluginLoadFailed
	NotifyTelemetry
)

// Notification is one outward message (spec §4.3: "GetPresetData ...,
// transport telemetry").
type Notification struct {
	Kind NotificationKind

	InstrumentPreset []byte
	EffectPresets    [][]byte

	Err error

	BlockIndex int
	Playing    bool
}

// RenderFunc synthesizes audio for one block from the block's dispatched
// events. It stands in for the out-of-scope plugin DSP chain (spec §1);
// tests and cmd/riffengine supply one, the zero value renders silence.
type RenderFunc func(blockIndex int, events []model.TrackEvent) []routing.AudioFrame

// EventSink is the optional interface a plugin.Instance may implement to
// receive dispatched TrackEvents (instrument first, then effects in
// order, spec §4.3 step 3).
type EventSink interface {
	HandleEvent(e model.TrackEvent)
}

type sendRoute struct {
	dest     model.RoutingDescriptor
	producer *routing.EventProducer
}

type receiveRoute struct {
	dest     model.RoutingDescriptor
	consumer *routing.EventConsumer
}

type audioSendRoute struct {
	dest     model.RoutingDescriptor
	producer *routing.AudioProducer
}

type audioReceiveRoute struct {
	dest     model.RoutingDescriptor
	consumer *routing.AudioConsumer
}

// Processor is one track's worker. Every field below processBlock/
// drainCommands touch is private to the goroutine running Run; external
// callers only ever go through Enqueue, Invoke, Notifications, and the
// atomic telemetry getters.
type Processor struct {
	TrackID model.UUID
	Kind    model.TrackKind

	commands      chan Command
	notifications chan Notification
	invoke        chan struct{}
	ack           chan struct{}
	stop          chan struct{}
	done          chan struct{}

	instrumentRegistry *plugin.Registry
	effectRegistry     *plugin.Registry

	instrument     plugin.Instance
	instrumentDesc model.PluginDescriptor
	effects        []plugin.Instance
	effectDescs    []model.PluginDescriptor

	midiDevice *midiconnector.Device

	render RenderFunc

	blocks        *compile.Compiled
	flat          []compile.CompiledEvent
	loopSpan      int64
	blockSize     int
	flatCursor    int
	lapElapsed    int64
	processorType ProcessorType

	sendRoutes    []sendRoute
	receiveRoutes []receiveRoute
	audioSends    []audioSendRoute
	audioReceives []audioReceiveRoute

	outputProducer *routing.AudioProducer
	outputConsumer *routing.AudioConsumer

	Volume float32
	Pan    float32

	state *atomicState
}

// NewProcessor creates a Processor for trackID/kind. Both plugin
// registries are shared process-wide (spec §5); outputCapacity sizes the
// ring the backend will later pull rendered audio from.
func NewProcessor(trackID model.UUID, kind model.TrackKind, instrumentRegistry, effectRegistry *plugin.Registry, outputCapacity int) *Processor {
	outProducer, outConsumer := routing.NewAudioRouting(outputCapacity)
	return &Processor{
		TrackID:            trackID,
		Kind:               kind,
		commands:           make(chan Command, 256),
		notifications:      make(chan Notification, 64),
		invoke:             make(chan struct{}),
		ack:                make(chan struct{}),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		instrumentRegistry: instrumentRegistry,
		effectRegistry:     effectRegistry,
		outputProducer:     outProducer,
		outputConsumer:     outConsumer,
		Volume:             1,
		Pan:                0,
		state:              newAtomicState(),
	}
}

// OutputConsumer returns the consumer half of this processor's rendered
// output ring, for the audio backend to pull from and sum to the master
// bus (spec §6).
func (p *Processor) OutputConsumer() *routing.AudioConsumer {
	return p.outputConsumer
}

// SetRenderFunc installs the synthesis stand-in used during processBlock.
func (p *Processor) SetRenderFunc(fn RenderFunc) { p.render = fn }

// SetMIDIDevice binds a live MIDI output for an instrument track (spec
// §4.3: a MIDI-kind track's dispatched NoteOn/NoteOff events reach an
// external device through internal/midiconnector, the same device
// wrapper the teacher used). Every dispatched event already carries its
// MIDI channel, stamped at compile time (internal/compile), so no
// separate default channel is needed here.
func (p *Processor) SetMIDIDevice(d *midiconnector.Device) {
	p.midiDevice = d
}

// Enqueue places a command on the inward MPSC queue. Multiple producers
// (the Transport, potentially other control-plane callers) may call this
// concurrently; it blocks if the queue is momentarily full, which is
// acceptable off the real-time path (spec §5).
func (p *Processor) Enqueue(cmd Command) { p.commands <- cmd }

// Notifications returns the outward notification channel.
func (p *Processor) Notifications() <-chan Notification { return p.notifications }

// Overflows returns the cumulative routing-send drop count across every
// send routing this processor owns (spec §4.3 failure semantics).
func (p *Processor) Overflows() uint64 { return p.state.overflow.Load() }

// CurrentBlock returns the processor's current block index.
func (p *Processor) CurrentBlock() int64 { return p.state.blockIndex.Load() }

// IsPlaying reports whether the processor is in the Playing state.
func (p *Processor) IsPlaying() bool { return p.state.playing.Load() }

// Invoke is the process callback's entry point (spec §4.3): it hands one
// block off to the Processor's own goroutine and waits for that block to
// finish, which is how distinct tracks stay block-index aligned (spec §5:
// "all tracks ... will be at the same block_index at the end of each
// audio callback").
func (p *Processor) Invoke() {
	select {
	case p.invoke <- struct{}{}:
		<-p.ack
	case <-p.done:
	}
}

// Run is the Processor's worker loop; call it once, in its own goroutine,
// for the lifetime of the track (spec §5: "one thread per Track
// Processor").
func (p *Processor) Run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.invoke:
			p.drainCommands()
			p.processBlock()
			p.ack <- struct{}{}
		}
	}
}

// Close stops the Run loop and releases owned plugin instances (spec §5:
// "releasing a track releases its plugins").
func (p *Processor) Close() {
	close(p.stop)
	<-p.done
	if p.instrument != nil {
		p.instrument.Close()
	}
	for _, fx := range p.effects {
		fx.Close()
	}
}

func (p *Processor) drainCommands() {
	for {
		select {
		case cmd := <-p.commands:
			p.handleCommand(cmd)
		default:
			return
		}
	}
}

func (p *Processor) handleCommand(cmd Command) {
	switch cmd.Kind {
	case CmdChangeInstrument:
		p.loadInstrument(cmd.Instrument)
	case CmdAddEffect:
		p.loadEffect(cmd.Effect)
	case CmdSetPresetData:
		p.instrumentDesc.PresetData = cmd.PresetData
	case CmdSetEvents:
		p.blocks = cmd.Blocks
		p.flat = cmd.FlatEvents
		p.loopSpan = cmd.LoopSpan
		if cmd.BlockSize > 0 {
			p.blockSize = cmd.BlockSize
		}
		p.flatCursor = 0
		p.lapElapsed = 0
	case CmdSetEventProcessorType:
		p.processorType = cmd.ProcessorType
	case CmdPlay:
		p.state.blockIndex.Store(int64(cmd.StartBlock))
		p.state.playing.Store(true)
	case CmdStop:
		p.state.playing.Store(false)
		p.emitAllNotesOff()
	case CmdLoop:
		p.state.loopEnabled.Store(cmd.LoopEnabled)
	case CmdLoopExtents:
		p.state.loopStart.Store(int64(cmd.LoopStart))
		p.state.loopEnd.Store(int64(cmd.LoopEnd))
	case CmdAddTrackEventSendRouting:
		p.sendRoutes = append(p.sendRoutes, sendRoute{dest: cmd.Destination, producer: cmd.EventProducer})
	case CmdAddTrackEventReceiveRouting:
		p.receiveRoutes = append(p.receiveRoutes, receiveRoute{dest: cmd.Destination, consumer: cmd.EventConsumer})
	case CmdAddAudioSendRouting:
		p.audioSends = append(p.audioSends, audioSendRoute{dest: cmd.Destination, producer: cmd.AudioProducer})
	case CmdAddAudioReceiveRouting:
		p.audioReceives = append(p.audioReceives, audioReceiveRoute{dest: cmd.Destination, consumer: cmd.AudioConsumer})
	case CmdSetSample:
		// Sample decode/playback is out of scope (spec §1); the command
		// is accepted and its sample reference is discarded, not stored.
		_ = cmd.Sample
	case CmdRequestPresetData:
		p.notify(Notification{
			Kind:             NotifyPresetData,
			InstrumentPreset: p.instrumentDesc.PresetData,
			EffectPresets:    presetBlobs(p.effectDescs),
		})
	}
}

func (p *Processor) loadInstrument(desc model.PluginDescriptor) {
	if p.instrumentRegistry == nil {
		return
	}
	inst, err := p.instrumentRegistry.Load(desc)
	if err != nil {
		log.Printf("[TRACK %s] instrument load failed: %v", p.TrackID, err)
		p.notify(Notification{Kind: NotifyPluginLoadFailed, Err: err})
		return
	}
	if p.instrument != nil {
		p.instrument.Close()
	}
	p.instrument = inst
	p.instrumentDesc = desc
}

func (p *Processor) loadEffect(desc model.PluginDescriptor) {
	if p.effectRegistry == nil {
		return
	}
	inst, err := p.effectRegistry.Load(desc)
	if err != nil {
		log.Printf("[TRACK %s] effect load failed: %v", p.TrackID, err)
		p.notify(Notification{Kind: NotifyPluginLoadFailed, Err: err})
		return
	}
	p.effects = append(p.effects, inst)
	p.effectDescs = append(p.effectDescs, desc)
}

func (p *Processor) notify(n Notification) {
	select {
	case p.notifications <- n:
	default:
		log.Printf("[TRACK %s] notification queue full, dropping", p.TrackID)
	}
}

func (p *Processor) emitAllNotesOff() {
	if p.midiDevice == nil {
		return
	}
	p.midiDevice.StopAllNotes()
}

func (p *Processor) processBlock() {
	if !p.state.playing.Load() {
		return
	}
	blockIndex := int(p.state.blockIndex.Load())

	events := p.eventsForBlock(blockIndex)

	for _, rr := range p.receiveRoutes {
		for {
			e, ok := rr.consumer.Recv()
			if !ok {
				break
			}
			events = append(events, e)
		}
	}

	p.dispatch(events)
	p.sendToMIDIDevice(events)

	var frames []routing.AudioFrame
	if p.render != nil {
		frames = p.render(blockIndex, events)
	}
	p.writeOutput(frames)

	for _, e := range events {
		for _, sr := range p.sendRoutes {
			if !sr.producer.Send(e) {
				p.state.overflow.Add(1)
			}
		}
	}

	next := blockIndex + 1
	if p.state.loopEnabled.Load() && int64(blockIndex) == p.state.loopEnd.Load() {
		next = int(p.state.loopStart.Load())
	}
	p.state.blockIndex.Store(int64(next))
}

func (p *Processor) dispatch(events []model.TrackEvent) {
	if p.instrument != nil {
		if sink, ok := p.instrument.(EventSink); ok {
			for _, e := range events {
				sink.HandleEvent(e)
			}
		}
	}
	for _, fx := range p.effects {
		if sink, ok := fx.(EventSink); ok {
			for _, e := range events {
				sink.HandleEvent(e)
			}
		}
	}
}

// sendToMIDIDevice fans NoteOn/NoteOff events out to the bound live MIDI
// device, if any (spec §4.3). A device error is logged and otherwise
// ignored: a dropped MIDI message is not a track-processing failure.
func (p *Processor) sendToMIDIDevice(events []model.TrackEvent) {
	if p.midiDevice == nil {
		return
	}
	for _, e := range events {
		ch := uint8(e.Channel)
		switch e.Kind {
		case model.EventNoteOn:
			if err := p.midiDevice.NoteOn(ch, uint8(e.Pitch), uint8(e.Velocity)); err != nil {
				log.Printf("[TRACK %s] midi noteon %s: %v", p.TrackID, music.MidiToNoteName(int(e.Pitch)), err)
			}
		case model.EventNoteOff:
			if err := p.midiDevice.NoteOff(ch, uint8(e.Pitch)); err != nil {
				log.Printf("[TRACK %s] midi noteoff %s: %v", p.TrackID, music.MidiToNoteName(int(e.Pitch)), err)
			}
		}
	}
}

func (p *Processor) writeOutput(frames []routing.AudioFrame) {
	for _, f := range frames {
		f.L *= p.Volume
		f.R *= p.Volume
		f = applyPan(f, p.Pan)
		p.outputProducer.Send(f)
		for _, as := range p.audioSends {
			if !as.producer.Send(f) {
				p.state.overflow.Add(1)
			}
		}
	}
}

func applyPan(f routing.AudioFrame, pan float32) routing.AudioFrame {
	// Linear pan law: pan=-1 full left, pan=1 full right, 0 centered.
	l := float32(1)
	r := float32(1)
	if pan > 0 {
		l = 1 - pan
	} else if pan < 0 {
		r = 1 + pan
	}
	return routing.AudioFrame{L: f.L * l, R: f.R * r}
}

// eventsForBlock resolves this block's own scheduled events, per the
// processor's event-processor type (spec §4.2 "Processor type is
// selected per play mode").
func (p *Processor) eventsForBlock(blockIndex int) []model.TrackEvent {
	switch p.processorType {
	case ProcessorRiffBuffer:
		return p.eventsForBlockRiffBuffer(blockIndex)
	default:
		return p.eventsForBlockCompiled(blockIndex)
	}
}

func (p *Processor) eventsForBlockCompiled(blockIndex int) []model.TrackEvent {
	if p.blocks == nil || blockIndex < 0 || blockIndex >= len(p.blocks.Blocks) {
		return nil
	}
	out := make([]model.TrackEvent, 0, len(p.blocks.Blocks[blockIndex])+len(p.blocks.AutomationBlocks[blockIndex]))
	for _, ce := range p.blocks.Blocks[blockIndex] {
		out = append(out, ce.Event)
	}
	for _, ce := range p.blocks.AutomationBlocks[blockIndex] {
		out = append(out, ce.Event)
	}
	return out
}

// eventsForBlockRiffBuffer walks the flat, absolute-sample-positioned
// event list with a sliding cursor (spec §4.2 second mode), wrapping the
// cursor by one lap's worth of sample span each time it runs off the end
// so an as-riff play loops indefinitely.
func (p *Processor) eventsForBlockRiffBuffer(blockIndex int) []model.TrackEvent {
	if len(p.flat) == 0 || p.blockSize <= 0 || p.loopSpan <= 0 {
		return nil
	}
	windowStart := int64(blockIndex) * int64(p.blockSize)
	windowEnd := windowStart + int64(p.blockSize)

	var out []model.TrackEvent
	for {
		if p.flatCursor >= len(p.flat) {
			p.flatCursor = 0
			p.lapElapsed += p.loopSpan
		}
		abs := p.flat[p.flatCursor].SamplePosition + p.lapElapsed
		if abs >= windowEnd {
			break
		}
		if abs >= windowStart {
			out = append(out, p.flat[p.flatCursor].Event)
		}
		p.flatCursor++
	}
	return out
}

func presetBlobs(descs []model.PluginDescriptor) [][]byte {
	blobs := make([][]byte, len(descs))
	for i, d := range descs {
		blobs[i] = d.PresetData
	}
	return blobs
}
