package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitFansOutToAllHandlers(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []interface{}

	for i := 0; i < 2; i++ {
		bus.On("tick", func(payload interface{}) {
			mu.Lock()
			got = append(got, payload)
			mu.Unlock()
			wg.Done()
		})
	}

	bus.Emit("tick", 7)
	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []interface{}{7, 7}, got)
}

func TestEmitWithoutListenersIsHarmless(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Emit("nobody-home", "payload")
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(1)
	kept := 0

	off := bus.On("evt", func(payload interface{}) {
		t.Error("unsubscribed handler should not fire")
	})
	bus.On("evt", func(payload interface{}) {
		kept++
		wg.Done()
	})

	off()
	bus.Emit("evt", nil)
	waitOrFail(t, &wg)

	assert.Equal(t, 1, kept)
}

func TestQueryReply(t *testing.T) {
	bus := NewBus()

	require.NoError(t, bus.HandleQuery("sum", func(payload interface{}) (interface{}, error) {
		nums := payload.([]int)
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	}))

	reply, err := bus.Query("sum", []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 6, reply)
}

func TestQueryErrors(t *testing.T) {
	bus := NewBus()

	t.Run("no responder", func(t *testing.T) {
		_, err := bus.Query("missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no responder")
	})

	t.Run("responder error propagates", func(t *testing.T) {
		require.NoError(t, bus.HandleQuery("boom", func(payload interface{}) (interface{}, error) {
			return nil, errors.New("nope")
		}))
		_, err := bus.Query("boom", nil)
		assert.EqualError(t, err, "nope")
	})

	t.Run("duplicate responder rejected", func(t *testing.T) {
		require.NoError(t, bus.HandleQuery("dup", func(payload interface{}) (interface{}, error) {
			return nil, nil
		}))
		err := bus.HandleQuery("dup", func(payload interface{}) (interface{}, error) {
			return nil, nil
		})
		require.Error(t, err)
	})
}

func TestRemoveAllListeners(t *testing.T) {
	bus := NewBus()
	bus.On("evt", func(payload interface{}) {
		t.Error("handler should have been removed")
	})
	require.NoError(t, bus.HandleQuery("q", func(payload interface{}) (interface{}, error) {
		return nil, nil
	}))

	bus.RemoveAllListeners()

	bus.Emit("evt", nil)
	_, err := bus.Query("q", nil)
	assert.Error(t, err)

	time.Sleep(20 * time.Millisecond)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
