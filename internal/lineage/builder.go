// Package lineage derives parent/child species relationships from the
// growing species-snapshot history of one simulation. The builder is
// incremental: each batch only evaluates species first seen in that batch
// plus edges still waiting for their parent, so poll-cycle cost is bounded
// by new data volume rather than total history.
package lineage

import (
	"errors"
	"fmt"
	"sort"

	"bibitewatch/pkg/domain"
)

type node struct {
	firstSeen domain.Tick
	parent    *domain.SpeciesID // declared parent, nil for root species
	resolved  bool
}

// Builder maintains the lineage graph for one simulation.
type Builder struct {
	simulation string
	nodes      map[domain.SpeciesID]*node
	edges      []domain.LineageEdge
	// pending holds children whose declared parent has not been observed
	// yet; parents can only be discovered earlier or at the same tick, so a
	// pending edge either resolves as history arrives or the input is bad.
	pending map[domain.SpeciesID]struct{}
	// quarantined holds children whose edge can never resolve (ordering
	// violation or cycle). They stay visible as unresolved edges but are
	// not re-evaluated, so one bad edge cannot block the rest.
	quarantined map[domain.SpeciesID]struct{}
}

// NewBuilder constructs an empty lineage graph for the named simulation.
func NewBuilder(simulation string) *Builder {
	return &Builder{
		simulation:  simulation,
		nodes:       make(map[domain.SpeciesID]*node),
		pending:     make(map[domain.SpeciesID]struct{}),
		quarantined: make(map[domain.SpeciesID]struct{}),
	}
}

// Observe feeds one batch of species snapshots into the graph and returns
// the edges resolved by this batch. Species already known are ignored;
// resolved edges are immutable. Ordering violations and cycles mean
// corrupted input: each is reported in the joined error, the offending
// edge is held unresolved for good, and every other candidate still
// resolves.
func (b *Builder) Observe(snapshots []domain.SpeciesSnapshot) ([]domain.LineageEdge, error) {
	for _, snap := range snapshots {
		if _, known := b.nodes[snap.SpeciesID]; known {
			continue
		}
		n := &node{firstSeen: snap.FirstSeen}
		if snap.ParentID != nil {
			parent := *snap.ParentID
			n.parent = &parent
			b.pending[snap.SpeciesID] = struct{}{}
		}
		b.nodes[snap.SpeciesID] = n
	}

	return b.resolvePending()
}

func (b *Builder) resolvePending() ([]domain.LineageEdge, error) {
	candidates := make([]domain.SpeciesID, 0, len(b.pending))
	for id := range b.pending {
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var resolved []domain.LineageEdge
	var errs []error
	for _, child := range candidates {
		n := b.nodes[child]
		parentID := *n.parent
		parent, seen := b.nodes[parentID]
		if !seen {
			continue
		}
		if parent.firstSeen > n.firstSeen {
			// Both first-seen ticks are already final, so this edge can
			// never become consistent.
			b.quarantine(child)
			errs = append(errs, fmt.Errorf("species %d first seen at %v before its parent %d at %v in %s",
				child, n.firstSeen, parentID, parent.firstSeen, b.simulation))
			continue
		}
		if err := b.checkCycle(child, parentID); err != nil {
			b.quarantine(child)
			errs = append(errs, err)
			continue
		}
		edge := domain.LineageEdge{Parent: parentID, Child: child, Anchor: n.firstSeen, Resolved: true}
		b.edges = append(b.edges, edge)
		n.resolved = true
		delete(b.pending, child)
		resolved = append(resolved, edge)
	}
	return resolved, errors.Join(errs...)
}

func (b *Builder) quarantine(child domain.SpeciesID) {
	delete(b.pending, child)
	b.quarantined[child] = struct{}{}
}

// checkCycle walks the resolved ancestry of parent; reaching child again
// would make the species its own ancestor.
func (b *Builder) checkCycle(child, parent domain.SpeciesID) error {
	cursor := parent
	for steps := 0; steps <= len(b.nodes); steps++ {
		if cursor == child {
			return domain.CycleError{Simulation: b.simulation, Species: child}
		}
		n, ok := b.nodes[cursor]
		if !ok || n.parent == nil || !n.resolved {
			return nil
		}
		cursor = *n.parent
	}
	return domain.CycleError{Simulation: b.simulation, Species: child}
}

// Edges returns every edge: resolved ones first in resolution order, then
// unresolved placeholders for children still waiting on their parent or
// whose declared parentage was rejected.
func (b *Builder) Edges() []domain.LineageEdge {
	out := make([]domain.LineageEdge, len(b.edges))
	copy(out, b.edges)

	waiting := make([]domain.SpeciesID, 0, len(b.pending)+len(b.quarantined))
	for id := range b.pending {
		waiting = append(waiting, id)
	}
	for id := range b.quarantined {
		waiting = append(waiting, id)
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i] < waiting[j] })
	for _, child := range waiting {
		n := b.nodes[child]
		out = append(out, domain.LineageEdge{Parent: *n.parent, Child: child, Anchor: n.firstSeen})
	}
	return out
}

// Lineage walks from the species to its root ancestor following resolved
// edges, the trace the dashboard's lineage view renders.
func (b *Builder) Lineage(id domain.SpeciesID) []domain.SpeciesID {
	var chain []domain.SpeciesID
	cursor := id
	for steps := 0; steps <= len(b.nodes); steps++ {
		n, ok := b.nodes[cursor]
		if !ok {
			return chain
		}
		chain = append(chain, cursor)
		if n.parent == nil || !n.resolved {
			return chain
		}
		cursor = *n.parent
	}
	return chain
}
