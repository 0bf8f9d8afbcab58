package install

import "sort"

// topoSort computes Kahn's order over the cards to install. deps maps each
// card id to its in-scope dependencies (references outside ids are ignored by
// the caller). Ties break on ascending source id. Cards left over after the
// queue drains participate in a cycle; they are appended at the tail in id
// order and returned in deferred for failure attribution.
func topoSort(ids []int, deps map[int][]int) (order []int, deferred map[int]bool) {
	inScope := map[int]bool{}
	for _, id := range ids {
		inScope[id] = true
	}

	indegree := map[int]int{}
	dependents := map[int][]int{}
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, id := range ids {
		for _, dep := range deps[id] {
			if !inScope[dep] || dep == id {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []int
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	placed := map[int]bool{}
	for len(queue) > 0 {
		sort.Ints(queue)
		id := queue[0]
		queue = queue[1:]

		order = append(order, id)
		placed[id] = true
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	deferred = map[int]bool{}
	var tail []int
	for _, id := range ids {
		if !placed[id] {
			tail = append(tail, id)
			deferred[id] = true
		}
	}
	sort.Ints(tail)
	order = append(order, tail...)
	return order, deferred
}
