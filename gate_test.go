package pyharbor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSerializes(t *testing.T) {
	g := NewGate()

	const workers = 50
	const rounds = 20

	var inside int
	var counter int
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				err := g.With(func() error {
					inside++
					require.Equal(t, 1, inside, "two holders inside the gate")
					counter++
					inside--
					return nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*rounds, counter)
}

func TestGateReleasesOnError(t *testing.T) {
	g := NewGate()
	err := g.With(func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	// a failed critical section must not leave the gate held
	done := make(chan struct{})
	go func() {
		_ = g.With(func() error { return nil })
		close(done)
	}()
	<-done
}

func TestGateReleasesOnPanic(t *testing.T) {
	g := NewGate()
	func() {
		defer func() { _ = recover() }()
		_ = g.With(func() error { panic("boom") })
	}()

	require.NoError(t, g.With(func() error { return nil }))
}
