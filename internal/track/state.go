package track

import "sync/atomic"

// atomicState holds the Processor fields other goroutines may read for
// telemetry (spec §4.3's playing-summary tables, the Transport's
// lockstep checks) without taking a lock. Only Run's own goroutine ever
// writes blockIndex/playing during processBlock; command handling, which
// also runs on that goroutine, writes the loop fields.
type atomicState struct {
	playing     atomic.Bool
	blockIndex  atomic.Int64
	loopEnabled atomic.Bool
	loopStart   atomic.Int64
	loopEnd     atomic.Int64
	overflow    atomic.Uint64
}

func newAtomicState() *atomicState {
	return &atomicState{}
}
