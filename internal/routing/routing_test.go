package routing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/riffengine/internal/model"
)

func TestEventRoutingOrderPreserved(t *testing.T) {
	producer, consumer := NewEventRouting(8)

	for i := 0; i < 5; i++ {
		ok := producer.Send(model.TrackEvent{Kind: model.EventController, Value: i})
		require.True(t, ok)
	}

	for i := 0; i < 5; i++ {
		e, ok := consumer.Recv()
		require.True(t, ok)
		assert.Equal(t, i, e.Value)
	}

	_, ok := consumer.Recv()
	assert.False(t, ok)
}

func TestEventRoutingOverflowDrops(t *testing.T) {
	producer, _ := NewEventRouting(4) // rounds up to 4

	sent := 0
	for i := 0; i < 10; i++ {
		if producer.Send(model.TrackEvent{Value: i}) {
			sent++
		}
	}
	assert.Less(t, sent, 10)
	assert.Greater(t, producer.Overflows(), uint64(0))
}

func TestEventRoutingConcurrentSPSC(t *testing.T) {
	producer, consumer := NewEventRouting(64)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !producer.Send(model.TrackEvent{Value: i}) {
				// spin until there's room; never blocks on a lock
			}
		}
	}()

	received := make([]int, 0, n)
	for len(received) < n {
		if e, ok := consumer.Recv(); ok {
			received = append(received, e.Value)
		}
	}
	wg.Wait()

	for i, v := range received {
		assert.Equal(t, i, v)
	}
}

func TestAudioRoutingStereoPairStaysLockstep(t *testing.T) {
	producer, consumer := NewAudioRouting(4)

	require.True(t, producer.Send(AudioFrame{L: 0.5, R: -0.5}))
	f, ok := consumer.Recv()
	require.True(t, ok)
	assert.Equal(t, AudioFrame{L: 0.5, R: -0.5}, f)
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 4, nextPowerOfTwo(3))
	assert.Equal(t, 1024, nextPowerOfTwo(1024))
	assert.Equal(t, 2048, nextPowerOfTwo(1025))
}
