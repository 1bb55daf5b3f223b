package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/stepflow/pkg/schema"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to schema.ExecutionStatus }{
		{schema.StatusPending, schema.StatusRunning},
		{schema.StatusRunning, schema.StatusRunning},
		{schema.StatusRunning, schema.StatusWaiting},
		{schema.StatusRunning, schema.StatusPaused},
		{schema.StatusRunning, schema.StatusCompleted},
		{schema.StatusRunning, schema.StatusFailed},
		{schema.StatusWaiting, schema.StatusRunning},
		{schema.StatusWaiting, schema.StatusPaused},
		{schema.StatusWaiting, schema.StatusFailed},
		{schema.StatusPaused, schema.StatusRunning},
		{schema.StatusPaused, schema.StatusCompleted},
		{schema.StatusPaused, schema.StatusFailed},
	}
	for _, tr := range allowed {
		assert.True(t, canTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	denied := []struct{ from, to schema.ExecutionStatus }{
		{schema.StatusPending, schema.StatusCompleted},
		{schema.StatusPending, schema.StatusWaiting},
		{schema.StatusWaiting, schema.StatusCompleted},
		{schema.StatusPaused, schema.StatusWaiting},
		{schema.StatusCompleted, schema.StatusRunning},
		{schema.StatusFailed, schema.StatusRunning},
		{schema.StatusCompleted, schema.StatusFailed},
	}
	for _, tr := range denied {
		assert.False(t, canTransition(tr.from, tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestKeyedLocksSerializePerKey(t *testing.T) {
	locks := newKeyedLocks()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("ex-1")
			defer release()
			mu.Lock()
			seen["ex-1"]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, seen["ex-1"])

	// All entries are released once nothing holds them.
	locks.mu.Lock()
	assert.Empty(t, locks.entries)
	locks.mu.Unlock()
}
