package ephemeron

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndContains(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Contains("h1"))

	tbl.Add(map[string]int{"h1": 1})
	assert.True(t, tbl.Contains("h1"))
}

func TestReleaseDropsAtZero(t *testing.T) {
	tbl := New()
	tbl.Add(map[string]int{"h1": 2})
	assert.True(t, tbl.Contains("h1"))

	tbl.Release(map[string]int{"h1": 1})
	assert.True(t, tbl.Contains("h1"))

	tbl.Release(map[string]int{"h1": 1})
	assert.False(t, tbl.Contains("h1"))
}

func TestReleaseBelowZeroClampsToDropped(t *testing.T) {
	tbl := New()
	tbl.Add(map[string]int{"h1": 1})
	tbl.Release(map[string]int{"h1": 5})
	assert.False(t, tbl.Contains("h1"))
}

func TestConcurrentAddRelease(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.Add(map[string]int{"shared": 1})
			tbl.Release(map[string]int{"shared": 1})
		}()
	}
	wg.Wait()
	assert.False(t, tbl.Contains("shared"))
}
