package persistence

import (
	"slices"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// actionQueue holds writes deferred until flush. Updates only enter it from
// the change tracker at flush time, so repeated mutations of one entity
// never produce more than one update.
type actionQueue struct {
	inserts []types.Action
	updates []types.Action
	deletes []types.Action
}

func newActionQueue() *actionQueue {
	return &actionQueue{}
}

func (q *actionQueue) enqueue(a types.Action) {
	switch a.Kind {
	case types.ActionInsert:
		q.inserts = append(q.inserts, a)
	case types.ActionUpdate:
		q.updates = append(q.updates, a)
	case types.ActionDelete:
		q.deletes = append(q.deletes, a)
	}
}

// cancelInsert drops a queued insert for key. It reports whether one was
// queued, meaning the row never reached storage.
func (q *actionQueue) cancelInsert(key types.EntityKey) bool {
	var ok bool
	q.inserts, ok = removeKey(q.inserts, key)
	return ok
}

// cancelDelete drops a queued delete for key.
func (q *actionQueue) cancelDelete(key types.EntityKey) bool {
	var ok bool
	q.deletes, ok = removeKey(q.deletes, key)
	return ok
}

func removeKey(actions []types.Action, key types.EntityKey) ([]types.Action, bool) {
	i := slices.IndexFunc(actions, func(a types.Action) bool { return a.Key == key })
	if i < 0 {
		return actions, false
	}
	return slices.Delete(actions, i, i+1), true
}

func (q *actionQueue) len() int {
	return len(q.inserts) + len(q.updates) + len(q.deletes)
}

func (q *actionQueue) reset() {
	q.inserts, q.updates, q.deletes = nil, nil, nil
}

// drainInOrder empties the queue and returns its actions in the order they
// must reach storage: inserts with referenced rows first, then updates,
// then deletes with referencing rows first.
func (q *actionQueue) drainInOrder() []types.Action {
	out := make([]types.Action, 0, q.len())
	out = append(out, dependencyOrder(q.inserts)...)
	out = append(out, q.updates...)
	deletes := dependencyOrder(q.deletes)
	slices.Reverse(deletes)
	out = append(out, deletes...)
	q.reset()
	return out
}

// dependencyOrder sorts actions so that an action whose fields reference
// another action's key comes after it. Ties keep queue order. Actions
// caught in a reference cycle are released in queue order.
func dependencyOrder(actions []types.Action) []types.Action {
	if len(actions) < 2 {
		return slices.Clone(actions)
	}

	index := make(map[types.EntityKey]int, len(actions))
	for i, a := range actions {
		index[a.Key] = i
	}

	// deps[i] lists the positions action i must wait for.
	deps := make([][]int, len(actions))
	for i, a := range actions {
		for _, ref := range a.Fields.Refs() {
			if j, ok := index[ref]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	emitted := make([]bool, len(actions))
	out := make([]types.Action, 0, len(actions))
	ready := func(i int) bool {
		for _, j := range deps[i] {
			if !emitted[j] {
				return false
			}
		}
		return true
	}

	for len(out) < len(actions) {
		next := -1
		for i := range actions {
			if !emitted[i] && ready(i) {
				next = i
				break
			}
		}
		if next < 0 {
			// Cycle: release the earliest pending action.
			next = slices.Index(emitted, false)
		}
		emitted[next] = true
		out = append(out, actions[next])
	}
	return out
}
