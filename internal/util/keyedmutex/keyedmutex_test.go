package keyedmutex_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultline/internal/util/keyedmutex"
)

func TestMap_SerializesSameKey(t *testing.T) {
	var m keyedmutex.Map
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("alice")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	require.Equal(t, 0, m.Len())
}

func TestMap_DifferentKeysDoNotBlock(t *testing.T) {
	var m keyedmutex.Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestMap_UnlockIsIdempotent(t *testing.T) {
	var m keyedmutex.Map
	unlock := m.Lock("k")
	unlock()
	unlock()
	require.Equal(t, 0, m.Len())
}
