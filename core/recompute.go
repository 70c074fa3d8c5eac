package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

// maybeFlush runs the pending work unless a batch is open or a flush is
// already in progress further up the stack.
func (e *Exchange) maybeFlush() {
	if e.batch > 0 || e.flushing || e.pending.empty() {
		return
	}
	e.flush()
}

// flush drains the pending change set. Writes made by a pass (parameter
// write-back, synthesized children, proxy sync) queue further work that
// later iterations of the same flush pick up. Events are queued once per
// flush.
func (e *Exchange) flush() {
	e.flushing = true
	defer func() { e.flushing = false }()

	ctx, span := e.tracer.Start(context.Background(), "geoexchange.flush")
	defer span.End()
	ctx, log := logging.WithOperationLogger(ctx, e.log)

	start := time.Now()
	out := newOutcome()
	iterations := 0
	for !e.pending.empty() {
		if iterations == e.maxIterations {
			log.Warn(ctx, "flush iteration cap reached, dropping pending changes",
				logging.Int("iterations", iterations),
			)
			e.pending = newChangeSet()
			break
		}
		cs := e.pending
		e.pending = newChangeSet()
		e.pass(ctx, log, cs, out)
		iterations++
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("geoexchange.iterations", iterations),
		attribute.Int("geoexchange.instances", out.instances),
		attribute.Int("geoexchange.invalidated", len(out.invalidated)),
	)
	log.Debug(ctx, "flush complete",
		logging.Int("iterations", iterations),
		logging.Int("instances", out.instances),
		logging.Int("invalidated", len(out.invalidated)),
		logging.Any("duration", elapsed),
	)

	if len(out.invalidated) > 0 {
		e.outbox = append(e.outbox, Event{Type: EventGeometryInvalidated, Elements: refList(out.invalidated)})
	}
	if len(out.buildings) > 0 {
		e.outbox = append(e.outbox, Event{Type: EventBuildingAssociationChanged, Elements: refList(out.buildings)})
	}
	for _, b := range refList(out.buildingParams) {
		e.outbox = append(e.outbox, Event{
			Type:     EventBuildingComponentParameterChanged,
			Elements: []model.ElementRef{b},
			Building: b,
		})
	}

	if e.metrics != nil {
		e.metrics.ObserveRecompute(elapsed, out.instances)
		if len(out.invalidated) > 0 {
			e.metrics.IncInvalidations()
		}
		total, missing := e.placementCounts()
		e.metrics.SetPlacementCounts(total, missing)
	}
}

func (e *Exchange) placementCounts() (total, missing int) {
	for _, p := range e.reg.all() {
		total++
		if p.PlacementState() == model.PlacementTargetMissing {
			missing++
		}
	}
	return total, missing
}

// pass is one recompute iteration over a change set.
func (e *Exchange) pass(ctx context.Context, log logging.Logger, cs *changeSet, out *outcome) {
	if len(cs.dropped) > 0 {
		e.pruneReferences(cs.dropped)
	}

	// Direct set and ancestor closure.
	seed := make([]model.ElementRef, 0, len(cs.changed)+len(cs.removed))
	seed = append(seed, refList(cs.changed)...)
	seed = append(seed, refList(cs.removed)...)
	for _, id := range modelList(cs.models) {
		seed = append(seed, e.reg.refsOfModel(id)...)
	}
	closure := e.closure(seed)

	affected := make(map[*component.Instance]struct{})
	for ref := range closure {
		for _, p := range e.reg.placements(ref) {
			affected[p.Instance()] = struct{}{}
		}
		for _, p := range e.reg.relatedTo(ref) {
			affected[p.Instance()] = struct{}{}
		}
	}
	for inst := range cs.instances {
		affected[inst] = struct{}{}
	}
	for c := range cs.offsets {
		for _, inst := range c.Instances() {
			affected[inst] = struct{}{}
		}
	}

	components := make(map[*component.Component]struct{})
	for c := range cs.components {
		components[c] = struct{}{}
	}
	for c := range cs.offsets {
		components[c] = struct{}{}
	}

	// Per-instance state, measures and paths.
	instances := sortedInstances(affected)
	for _, inst := range instances {
		if !e.owned(inst) {
			continue
		}
		e.recomputeInstance(ctx, log, inst)
		components[inst.Owner()] = struct{}{}
		for _, p := range inst.Placements() {
			out.invalidated[p.Target()] = struct{}{}
		}
		out.instances++
	}
	for ref := range closure {
		out.invalidated[ref] = struct{}{}
	}

	e.recolor(closure, cs.structural)

	// Component write-back.
	comps := sortedComponents(components)
	for _, c := range comps {
		if !e.tree.Contains(c) {
			continue
		}
		ensureParameters(c)
		e.writeAggregates(c)
		updateState(c)
	}

	if cs.structural {
		for _, c := range comps {
			if e.tree.Contains(c) && (hasInstanceType(c, model.InstanceVolume) || hasSynthesizedChildren(c)) {
				e.synthesize(ctx, log, c)
			}
		}
	}

	// Cumulative nodes of parents whose children carry network instances.
	parents := make(map[*component.Component]struct{})
	for c := range cs.cumulative {
		parents[c] = struct{}{}
	}
	for _, c := range comps {
		if c.Parent() != nil && hasNetworkInstances(c) {
			parents[c.Parent()] = struct{}{}
		}
	}
	for _, parent := range sortedComponents(parents) {
		if e.tree.Contains(parent) {
			e.refreshCumulative(parent)
		}
	}

	// Site buildings.
	for ref := range cs.buildings {
		out.buildings[ref] = struct{}{}
	}
	for ref := range closure {
		if e.isBuildingRef(ref) && len(e.reg.placements(ref)) > 0 {
			out.buildings[ref] = struct{}{}
		}
	}
	for ref := range cs.buildingParams {
		out.buildingParams[ref] = struct{}{}
	}
}

// recomputeInstance resolves placements, measures and projects one
// instance, then mirrors a proxy transform into it.
func (e *Exchange) recomputeInstance(ctx context.Context, log logging.Logger, inst *component.Instance) {
	ps := inst.Placements()
	st := model.InstanceState{IsRealized: len(ps) > 0, Connection: model.ConnectionOk}
	for _, p := range ps {
		if e.store.Resolve(p.Target()) {
			p.SetPlacementState(model.PlacementValid)
			e.refreshRelated(p)
		} else {
			p.SetPlacementState(model.PlacementTargetMissing)
			st.Connection = model.ConnectionGeometryNotFound
		}
	}
	inst.State = st
	e.measure(ctx, log, inst)
	inst.Path = e.project(inst)
	e.pullTransform(inst)
}

// refreshRelated keeps the related ids of a geometry placement in step
// with the element's current structure.
func (e *Exchange) refreshRelated(p component.Placement) {
	gp, ok := p.(*component.GeometryPlacement)
	if !ok {
		return
	}
	g, ok := e.store.Geometry(gp.Ref.Model)
	if !ok {
		return
	}
	rel := relatedIDs(g, gp.Ref.Element)
	if sameIDs(rel, gp.Related) {
		return
	}
	gp.Related = rel
	e.reg.reindexRelated(p)
}

// relatedIDs lists the structural dependencies recorded on a placement:
// boundary and hole loops of a face, edges of a polyline or loop.
func relatedIDs(g *geometry.Model, id model.ElementID) []model.ElementID {
	k, _ := g.Kind(id)
	switch k {
	case geometry.KindFace:
		f, _ := g.Face(id)
		var out []model.ElementID
		if f.Boundary != 0 {
			out = append(out, f.Boundary)
		}
		return append(out, f.Holes...)
	case geometry.KindPolyline:
		pl, _ := g.Polyline(id)
		return pl.Edges
	case geometry.KindEdgeLoop:
		l, _ := g.EdgeLoop(id)
		return l.Edges
	}
	return nil
}

func sameIDs(a, b []model.ElementID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// closure expands changed elements to everything that depends on them:
// geometry containers up the parent chain, network elements represented
// by changed geometry, and network edges and nested content around a
// changed node.
func (e *Exchange) closure(seed []model.ElementRef) map[model.ElementRef]struct{} {
	out := make(map[model.ElementRef]struct{})
	queue := append([]model.ElementRef(nil), seed...)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, ok := out[ref]; ok {
			continue
		}
		out[ref] = struct{}{}

		switch e.store.Kind(ref.Model) {
		case model.ModelKindGeometry:
			g, _ := e.store.Geometry(ref.Model)
			for _, p := range g.Parents(ref.Element) {
				queue = append(queue, model.Ref(ref.Model, p))
			}
			if b, ok := e.bridgeForTarget(ref.Model); ok {
				if id, ok := b.networkElement(g, ref.Element); ok {
					queue = append(queue, model.Ref(b.network, id))
				}
			}
		case model.ModelKindNetwork:
			n, _ := e.store.Network(ref.Model)
			for _, id := range networkDependents(n, ref.Element) {
				queue = append(queue, model.Ref(ref.Model, id))
			}
		}
	}
	return out
}

// networkDependents are the elements whose paths move with a node: its
// edges, the content of a sub-network, and the siblings of an entry node.
func networkDependents(n *network.Model, id model.ElementID) []model.ElementID {
	node, ok := n.Node(id)
	if !ok {
		return nil
	}
	out := n.IncidentEdges(id)
	if node.Kind == network.KindSubNetwork {
		out = append(out, withEdges(n, n.Descendants(id))...)
	}
	if node.Owner != 0 {
		if owner, ok := n.Node(node.Owner); ok && owner.Entry == id {
			out = append(out, withEdges(n, n.Descendants(node.Owner))...)
		}
	}
	return out
}

func withEdges(n *network.Model, ids []model.ElementID) []model.ElementID {
	out := append([]model.ElementID(nil), ids...)
	for _, id := range ids {
		if k, _ := n.Kind(id); k.IsNodeLike() {
			out = append(out, n.IncidentEdges(id)...)
		}
	}
	return out
}

// pruneReferences drops references to components that left the tree.
func (e *Exchange) pruneReferences(dropped map[uuid.UUID]struct{}) {
	e.tree.Walk(func(c *component.Component) bool {
		for _, r := range c.References() {
			if _, ok := dropped[r.Target]; ok {
				c.RemoveReference(r.Slot, r.Target)
			}
		}
		return true
	})
}

func (e *Exchange) isBuildingRef(ref model.ElementRef) bool {
	if e.store.Kind(ref.Model) == model.ModelKindSite {
		return true
	}
	for _, p := range e.reg.placements(ref) {
		if inst := p.Instance(); inst != nil && inst.Type == model.InstanceSiteBuilding {
			return true
		}
	}
	return false
}

func hasInstanceType(c *component.Component, t model.InstanceType) bool {
	for _, inst := range c.Instances() {
		if inst.Type == t {
			return true
		}
	}
	return false
}

func sortedInstances(set map[*component.Instance]struct{}) []*component.Instance {
	out := make([]*component.Instance, 0, len(set))
	for inst := range set {
		if inst != nil {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
	})
	return out
}

// sortedComponents orders components parents first, then by id.
func sortedComponents(set map[*component.Component]struct{}) []*component.Component {
	out := make([]*component.Component, 0, len(set))
	for c := range set {
		if c != nil {
			out = append(out, c)
		}
	}
	depth := func(c *component.Component) int {
		d := 0
		for p := c.Parent(); p != nil; p = p.Parent() {
			d++
		}
		return d
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := depth(out[i]), depth(out[j])
		if di != dj {
			return di < dj
		}
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
	})
	return out
}

func modelList(set map[model.ModelID]struct{}) []model.ModelID {
	out := make([]model.ModelID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
