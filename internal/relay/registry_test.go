package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Add(t *testing.T) {
	t.Run("DuplicateRejected", func(t *testing.T) {
		registry := NewRegistry()
		assert.True(t, registry.Add(Controller("c1")))
		assert.False(t, registry.Add(Controller("c1")))
		assert.Equal(t, 1, registry.Count())
	})

	t.Run("SameNameDifferentKind", func(t *testing.T) {
		registry := NewRegistry()
		assert.True(t, registry.Add(Controller("x")))
		assert.True(t, registry.Add(Receiver("x")))
		assert.Equal(t, 2, registry.Count())
	})

	t.Run("UnknownNeverStored", func(t *testing.T) {
		registry := NewRegistry()
		assert.False(t, registry.Add(Unknown()))
		assert.False(t, registry.Add(ParseHandshake("garbage")))
		assert.Equal(t, 0, registry.Count())
	})
}

func TestRegistry_Remove(t *testing.T) {
	registry := NewRegistry()
	assert.False(t, registry.Remove(Receiver("never")))

	registry.Add(Receiver("r1"))
	assert.True(t, registry.Remove(Receiver("r1")))
	assert.False(t, registry.Remove(Receiver("r1")))
	assert.False(t, registry.Contains(Receiver("r1")))
}

func TestRegistry_ListsKeepInsertionOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Add(Receiver("r2"))
	registry.Add(Controller("c1"))
	registry.Add(Receiver("r1"))
	registry.Add(Controller("c2"))

	roles := registry.List()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}
	assert.Equal(t, []string{"receiver:r2", "controller:c1", "receiver:r1", "controller:c2"}, names)
	assert.Equal(t, []string{"c1", "c2"}, registry.ListControllers())
	assert.Equal(t, []string{"r2", "r1"}, registry.ListReceivers())

	// snapshot is a copy
	roles[0] = Controller("mutated")
	assert.True(t, registry.Contains(Receiver("r2")))
}

func TestRegistry_EmptyListsAreNotNil(t *testing.T) {
	registry := NewRegistry()
	assert.NotNil(t, registry.ListControllers())
	assert.NotNil(t, registry.ListReceivers())
	assert.Empty(t, registry.List())
}

func TestRegistry_ConcurrentAddSameRole(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.Add(Receiver("shared")) {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_ConcurrentReadersAndWriters(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			role := Controller(fmt.Sprintf("c%d", i))
			registry.Add(role)
			registry.Remove(role)
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.List()
			_ = registry.ListReceivers()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, registry.Count())
}
