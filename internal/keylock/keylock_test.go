package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockIsExclusivePerKey(t *testing.T) {
	var m Map[string]
	var a, b int
	counts := map[string]*int{"a": &a, "b": &b}
	var wg sync.WaitGroup
	for i := range 100 {
		key := []string{"a", "b"}[i%2]
		wg.Go(func() {
			unlock := m.Lock(key)
			defer unlock()
			*counts[key]++
		})
	}
	wg.Wait()
	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
}

func TestLockDropsReleasedKeys(t *testing.T) {
	var m Map[int]
	unlock1 := m.Lock(1)
	unlock2 := m.Lock(2)
	assert.Equal(t, 2, m.Len())

	unlock1()
	assert.Equal(t, 1, m.Len())

	waiting := make(chan struct{})
	released := make(chan struct{})
	go func() {
		close(waiting)
		unlock := m.Lock(2)
		unlock()
		close(released)
	}()
	<-waiting
	unlock2()
	<-released
	assert.Zero(t, m.Len())
}
