package ldap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatchFirstSignalWins(t *testing.T) {
	t.Run("end then error", func(t *testing.T) {
		l := newLatch[[]string]()
		assert.True(t, l.resolve([]string{"a"}))
		assert.False(t, l.reject(errors.New("late stream error")))

		v, err := l.wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, v)
	})

	t.Run("error then end", func(t *testing.T) {
		l := newLatch[[]string]()
		boom := errors.New("stream error")
		assert.True(t, l.reject(boom))
		assert.False(t, l.resolve([]string{"a"}))

		v, err := l.wait(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, v)
	})

	t.Run("context first", func(t *testing.T) {
		l := newLatch[int]()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := l.wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, l.resolve(1), "producer settling after the deadline is ignored")
	})
}

func TestLatchConcurrentSignals(t *testing.T) {
	for i := 0; i < 100; i++ {
		l := newLatch[int]()
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				var won bool
				if j%2 == 0 {
					won = l.resolve(j)
				} else {
					won = l.reject(errors.New("stream error"))
				}
				if won {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(j)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	}
}
