package install

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopoSortDependencyBeforeDependent(t *testing.T) {
	order, deferred := topoSort([]int{100, 50}, map[int][]int{100: {50}})
	assert.Equal(t, []int{50, 100}, order)
	assert.Empty(t, deferred)
}

func TestTopoSortTieBreaksAscending(t *testing.T) {
	order, deferred := topoSort([]int{9, 3, 7, 1}, nil)
	assert.Equal(t, []int{1, 3, 7, 9}, order)
	assert.Empty(t, deferred)
}

func TestTopoSortChain(t *testing.T) {
	// 30 -> 20 -> 10, plus independent 5.
	order, deferred := topoSort([]int{30, 10, 5, 20}, map[int][]int{30: {20}, 20: {10}})
	assert.Empty(t, deferred)

	pos := map[int]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[10], pos[20])
	assert.Less(t, pos[20], pos[30])
	assert.Len(t, order, 4)
}

func TestTopoSortCycleGoesToTail(t *testing.T) {
	order, deferred := topoSort([]int{1, 2, 3}, map[int][]int{2: {3}, 3: {2}})
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, map[int]bool{2: true, 3: true}, deferred)
}

func TestTopoSortIgnoresOutOfScopeDeps(t *testing.T) {
	order, deferred := topoSort([]int{4}, map[int][]int{4: {99, 4}})
	assert.Equal(t, []int{4}, order)
	assert.Empty(t, deferred)
}
