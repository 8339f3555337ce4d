// Package routing implements the single-producer/single-consumer
// lock-free ring buffers the spec's Routing Fabric is built from (§4.4):
// inter-track MIDI event sends and inter-track stereo audio sends. The
// producer half is created for (and owned by) the upstream Track
// Processor, the consumer half for the downstream one; both halves share
// one backing ring, created by the Transport Controller when a routing is
// established (§4.4, §5).
//
// The audio callback path must never block, allocate, or take a lock
// (spec §5), which rules out the teacher's usual mutex-guarded shared
// state (see internal/midiplayer) for this specific primitive: Push/Pop
// here only ever touch sync/atomic counters and a pre-allocated backing
// array.
package routing

import (
	"sync/atomic"

	"github.com/schollz/riffengine/internal/model"
)

// DefaultCapacity is the routing buffer size spec §4.4/§9 names as a
// fixed constant implementers may make configurable without changing
// semantics; this module exposes it as a constructor parameter.
const DefaultCapacity = 1024

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// EventRing is the backing store for a MIDI/control event routing.
type EventRing struct {
	buf   []model.TrackEvent
	mask  uint64
	head  atomic.Uint64 // next write slot, producer-owned
	tail  atomic.Uint64 // next read slot, consumer-owned
	drops atomic.Uint64
}

// NewEventRing allocates a ring sized to at least capacity slots (rounded
// up to the next power of two so index wrapping is a mask, not a mod).
func NewEventRing(capacity int) *EventRing {
	size := nextPowerOfTwo(capacity)
	return &EventRing{buf: make([]model.TrackEvent, size), mask: uint64(size - 1)}
}

// Push enqueues an event. It never blocks: if the ring is full the event
// is dropped and the overflow counter increments (spec §4.3, §4.4, §7 —
// "routing send full: dropped with counter increment, not fatal").
func (r *EventRing) Push(e model.TrackEvent) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t >= uint64(len(r.buf)) {
		r.drops.Add(1)
		return false
	}
	r.buf[h&r.mask] = e
	r.head.Store(h + 1)
	return true
}

// Pop dequeues the oldest event, if any. Producer-enqueue order is
// preserved within a single routing (spec §4.4, §8).
func (r *EventRing) Pop() (model.TrackEvent, bool) {
	t := r.tail.Load()
	h := r.head.Load()
	if t >= h {
		return model.TrackEvent{}, false
	}
	e := r.buf[t&r.mask]
	r.tail.Store(t + 1)
	return e, true
}

// Overflows returns the cumulative drop count for this ring.
func (r *EventRing) Overflows() uint64 { return r.drops.Load() }

// EventProducer is the upstream half of an event routing: the only
// goroutine that may call Send.
type EventProducer struct{ ring *EventRing }

func (p *EventProducer) Send(e model.TrackEvent) bool { return p.ring.Push(e) }
func (p *EventProducer) Overflows() uint64            { return p.ring.Overflows() }

// EventConsumer is the downstream half: the only goroutine that may call
// Recv.
type EventConsumer struct{ ring *EventRing }

func (c *EventConsumer) Recv() (model.TrackEvent, bool) { return c.ring.Pop() }

// NewEventRouting creates one ring and returns its producer/consumer
// halves, to be handed to the upstream and downstream Track Processors
// respectively (spec §4.4).
func NewEventRouting(capacity int) (*EventProducer, *EventConsumer) {
	ring := NewEventRing(capacity)
	return &EventProducer{ring: ring}, &EventConsumer{ring: ring}
}

// AudioFrame is one stereo sample pair sent across an audio routing.
type AudioFrame struct {
	L, R float32
}

// AudioRing is the backing store for a stereo audio send (spec §4.4:
// "audio routings are a stereo pair (left, right)" — modeled here as one
// ring of paired frames rather than two independent rings, so a
// downstream consumer can never observe L/R drift out of sample-lockstep
// under overflow).
type AudioRing struct {
	buf   []AudioFrame
	mask  uint64
	head  atomic.Uint64
	tail  atomic.Uint64
	drops atomic.Uint64
}

func NewAudioRing(capacity int) *AudioRing {
	size := nextPowerOfTwo(capacity)
	return &AudioRing{buf: make([]AudioFrame, size), mask: uint64(size - 1)}
}

func (r *AudioRing) Push(f AudioFrame) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t >= uint64(len(r.buf)) {
		r.drops.Add(1)
		return false
	}
	r.buf[h&r.mask] = f
	r.head.Store(h + 1)
	return true
}

func (r *AudioRing) Pop() (AudioFrame, bool) {
	t := r.tail.Load()
	h := r.head.Load()
	if t >= h {
		return AudioFrame{}, false
	}
	f := r.buf[t&r.mask]
	r.tail.Store(t + 1)
	return f, true
}

func (r *AudioRing) Overflows() uint64 { return r.drops.Load() }

type AudioProducer struct{ ring *AudioRing }

func (p *AudioProducer) Send(f AudioFrame) bool { return p.ring.Push(f) }
func (p *AudioProducer) Overflows() uint64      { return p.ring.Overflows() }

type AudioConsumer struct{ ring *AudioRing }

func (c *AudioConsumer) Recv() (AudioFrame, bool) { return c.ring.Pop() }

// NewAudioRouting creates one audio ring and returns its producer/
// consumer halves.
func NewAudioRouting(capacity int) (*AudioProducer, *AudioConsumer) {
	ring := NewAudioRing(capacity)
	return &AudioProducer{ring: ring}, &AudioConsumer{ring: ring}
}
