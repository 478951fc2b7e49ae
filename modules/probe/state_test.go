package probe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateCountProbe(t *testing.T) {
	var state State
	require.Zero(t, state.Served())

	state.CountProbe()
	state.CountProbe()
	state.CountProbe()
	require.Equal(t, uint64(3), state.Served())
}

func TestStateCountProbeConcurrent(t *testing.T) {
	var state State
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				state.CountProbe()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(800), state.Served())
}
