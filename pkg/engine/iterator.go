package engine

import (
	"sort"

	"github.com/rs/zerolog"
)

// Iterator yields units in dependency order while the graph is still changing.
//
// Nodes may be added or removed between calls to Next. A node is ready once every
// known, unproduced unit in its After relation (and every unit naming it in Before)
// has been produced. Ready nodes come out first-in first-out. Within an exclusive
// group the first member produced wins and later members are skipped.
type Iterator struct {
	// pending maps a node to the units it still waits for.
	pending map[*Unit][]*Unit

	// dependents maps a node to the units waiting for it.
	dependents map[*Unit][]*Unit

	queue    []*Unit
	produced []*Unit
	done     map[*Unit]struct{}
	nodes    []*Unit
	known    map[*Unit]struct{}

	logger zerolog.Logger
}

// NewIterator creates an iterator seeded with units, added in order.
func NewIterator(logger zerolog.Logger, units ...*Unit) *Iterator {
	it := &Iterator{
		pending:    make(map[*Unit][]*Unit),
		dependents: make(map[*Unit][]*Unit),
		done:       make(map[*Unit]struct{}),
		known:      make(map[*Unit]struct{}),
		logger:     logger.With().Str("component", "iterator").Logger(),
	}
	for _, u := range units {
		it.AddNode(u)
	}
	return it
}

// AddNode makes u known to the iterator.
// Produced and already known units are ignored.
func (it *Iterator) AddNode(u *Unit) {
	if it.isProduced(u) || it.isKnown(u) {
		return
	}

	for _, a := range u.after {
		if it.isKnown(a) && !it.isProduced(a) {
			it.wait(u, a)
		}
	}
	for _, b := range u.before {
		if it.isKnown(b) && !it.isProduced(b) {
			it.wait(b, u)
		}
	}

	it.known[u] = struct{}{}
	it.nodes = append(it.nodes, u)

	if len(it.pending[u]) == 0 {
		it.enqueue(u)
	}

	// Queued nodes that gained a predecessor go back to waiting.
	ready := it.queue[:0]
	for _, q := range it.queue {
		if len(it.pending[q]) == 0 {
			ready = append(ready, q)
		}
	}
	it.queue = ready

	it.logger.Debug().
		Str("unit", u.Name()).
		Int("pending", len(it.pending[u])).
		Int("queued", len(it.queue)).
		Msg("Added node")
}

// RemoveNode forgets u. Removing a unit that was already produced is an error.
func (it *Iterator) RemoveNode(u *Unit) error {
	if it.isProduced(u) {
		return NewPermanentError("cannot remove a unit that was already produced", nil).
			WithCode(ErrCodeIllegalRemoval).
			WithUnit(u.Name()).
			WithOperation("remove")
	}
	if !it.isKnown(u) {
		return nil
	}

	it.forget(u)

	for _, n := range it.nodes {
		if len(it.pending[n]) == 0 && !it.isQueued(n) {
			it.enqueue(n)
		}
	}

	it.logger.Debug().Str("unit", u.Name()).Msg("Removed node")
	return nil
}

// Next returns the next ready unit. It returns (nil, nil) when no unit is left
// and a cycle error when units remain that can never become ready.
func (it *Iterator) Next() (*Unit, error) {
	rescued := false
	for {
		if len(it.queue) == 0 {
			if !rescued {
				rescued = true
				for _, n := range it.nodes {
					if len(it.pending[n]) == 0 && !it.isQueued(n) {
						it.enqueue(n)
					}
				}
			}
			if len(it.queue) == 0 {
				if stuck := it.stuck(); len(stuck) > 0 {
					return nil, NewPermanentError("dependency cycle detected", nil).
						WithCode(ErrCodeCycle).
						WithOperation("next").
						WithDetail("units", stuck)
				}
				return nil, nil
			}
		}

		u := it.queue[0]
		it.queue = it.queue[1:]

		for _, d := range it.dependents[u] {
			it.pending[d] = removeUnit(it.pending[d], u)
			if len(it.pending[d]) == 0 && it.isKnown(d) && !it.isQueued(d) {
				it.enqueue(d)
			}
		}
		delete(it.dependents, u)
		delete(it.pending, u)

		if winner := it.exclusiveWinner(u); winner != nil {
			it.logger.Debug().
				Str("unit", u.Name()).
				Str("winner", winner.Name()).
				Msg("Skipping unit, another member of its exclusive group ran")
			it.forget(u)
			continue
		}

		it.produced = append(it.produced, u)
		it.done[u] = struct{}{}
		it.nodes = removeUnit(it.nodes, u)
		delete(it.known, u)
		return u, nil
	}
}

// Copy returns an independent copy of the iterator state.
func (it *Iterator) Copy() *Iterator {
	other := &Iterator{
		pending:    make(map[*Unit][]*Unit, len(it.pending)),
		dependents: make(map[*Unit][]*Unit, len(it.dependents)),
		queue:      cloneUnits(it.queue),
		produced:   cloneUnits(it.produced),
		done:       make(map[*Unit]struct{}, len(it.done)),
		nodes:      cloneUnits(it.nodes),
		known:      make(map[*Unit]struct{}, len(it.known)),
		logger:     it.logger,
	}
	for k, v := range it.pending {
		other.pending[k] = cloneUnits(v)
	}
	for k, v := range it.dependents {
		other.dependents[k] = cloneUnits(v)
	}
	for k := range it.done {
		other.done[k] = struct{}{}
	}
	for k := range it.known {
		other.known[k] = struct{}{}
	}
	return other
}

// Produced returns the units produced so far, in order.
func (it *Iterator) Produced() []*Unit {
	return cloneUnits(it.produced)
}

// Last returns the most recently produced unit, or nil.
func (it *Iterator) Last() *Unit {
	if len(it.produced) == 0 {
		return nil
	}
	return it.produced[len(it.produced)-1]
}

// Len returns the number of known units not yet produced.
func (it *Iterator) Len() int {
	return len(it.nodes)
}

// Pending returns the units u is still waiting for.
func (it *Iterator) Pending(u *Unit) []*Unit {
	return cloneUnits(it.pending[u])
}

// wait records that waiter may not be produced before first.
func (it *Iterator) wait(waiter, first *Unit) {
	it.pending[waiter] = appendUnique(it.pending[waiter], first)
	it.dependents[first] = appendUnique(it.dependents[first], waiter)
}

// forget drops all bookkeeping for u without producing it.
func (it *Iterator) forget(u *Unit) {
	for _, p := range it.pending[u] {
		it.dependents[p] = removeUnit(it.dependents[p], u)
	}
	for _, d := range it.dependents[u] {
		it.pending[d] = removeUnit(it.pending[d], u)
	}
	delete(it.pending, u)
	delete(it.dependents, u)
	it.queue = removeUnit(it.queue, u)
	it.nodes = removeUnit(it.nodes, u)
	delete(it.known, u)
}

func (it *Iterator) enqueue(u *Unit) {
	it.queue = append(it.queue, u)
}

func (it *Iterator) exclusiveWinner(u *Unit) *Unit {
	for _, group := range u.exclusiveGroups() {
		for _, p := range it.produced {
			if p != u && containsUnit(p.belongs, group) {
				return p
			}
		}
	}
	return nil
}

func (it *Iterator) stuck() []string {
	var names []string
	for _, n := range it.nodes {
		if len(it.pending[n]) > 0 {
			names = append(names, n.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (it *Iterator) isKnown(u *Unit) bool {
	_, ok := it.known[u]
	return ok
}

func (it *Iterator) isProduced(u *Unit) bool {
	_, ok := it.done[u]
	return ok
}

func (it *Iterator) isQueued(u *Unit) bool {
	return containsUnit(it.queue, u)
}
