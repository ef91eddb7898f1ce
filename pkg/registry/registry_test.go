package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDIsStablePerName(t *testing.T) {
	r := New()

	id1 := r.GetID("quality_manager")
	id2 := r.GetID("quality_manager")
	assert.Equal(t, id1, id2, "same name must resolve to the same instance id")

	id3 := r.GetID("insight_manager")
	assert.NotEqual(t, id1, id3, "different names must get different instance ids")
}

func TestGetIDConcurrent(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	ids := make([]string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ids[idx] = r.GetID("shared_component")
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestRegisterTracksDependents(t *testing.T) {
	r := New()

	r.Register("quality_handler", []string{"quality_manager"}, []string{"analyze"})
	r.Register("quality_processor", []string{"quality_manager"}, nil)

	dependents := r.Dependents("quality_manager")
	assert.ElementsMatch(t, []string{"quality_handler", "quality_processor"}, dependents)
}

func TestInfoNotFound(t *testing.T) {
	r := New()
	_, ok := r.Info("nonexistent")
	assert.False(t, ok)
}
