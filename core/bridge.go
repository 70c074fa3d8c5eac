package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

// nodeGeom is the geometry generated for a network node.
type nodeGeom struct {
	vertex model.ElementID
	proxy  model.ElementID
}

// bridge ties a converted network to the geometry model generated for it.
// Nodes map to a vertex carrying a proxy, edges to a polyline.
type bridge struct {
	network model.ModelID
	target  model.ModelID

	nodes  map[model.ElementID]nodeGeom
	edges  map[model.ElementID]model.ElementID
	byGeom map[model.ElementID]model.ElementID

	relaying bool
}

func newBridge(networkID, target model.ModelID) *bridge {
	return &bridge{
		network: networkID,
		target:  target,
		nodes:   make(map[model.ElementID]nodeGeom),
		edges:   make(map[model.ElementID]model.ElementID),
		byGeom:  make(map[model.ElementID]model.ElementID),
	}
}

// networkElement maps a generated geometry element back to the network
// element it represents. Edges and vertices added later by splitting a
// polyline map to the polyline's network edge.
func (b *bridge) networkElement(g *geometry.Model, id model.ElementID) (model.ElementID, bool) {
	if nid, ok := b.byGeom[id]; ok {
		return nid, true
	}
	level := []model.ElementID{id}
	for depth := 0; depth < 2; depth++ {
		var next []model.ElementID
		for _, el := range level {
			for _, p := range g.Parents(el) {
				k, _ := g.Kind(p)
				if k != geometry.KindEdge && k != geometry.KindPolyline {
					continue
				}
				if nid, ok := b.byGeom[p]; ok && k == geometry.KindPolyline {
					return nid, true
				}
				next = append(next, p)
			}
		}
		level = next
	}
	return 0, false
}

// hasNodeVertex reports whether any of ids is the vertex of a converted
// node.
func (b *bridge) hasNodeVertex(ids []model.ElementID) bool {
	for _, id := range ids {
		if nid, ok := b.byGeom[id]; ok && b.nodes[nid].vertex == id {
			return true
		}
	}
	return false
}

func (e *Exchange) bridgeForTarget(target model.ModelID) (*bridge, bool) {
	nid, ok := e.targets[target]
	if !ok {
		return nil, false
	}
	b, ok := e.bridges[nid]
	return b, ok
}

// ConvertNetwork generates a geometry model for a flow network and
// registers it in the store under targetID. Every node becomes a vertex at
// its flattened layout position carrying a proxy, every edge a polyline.
// From then on structural network edits are mirrored into the geometry.
//
// A network converts once, and a target id is used once; either violation
// returns ErrDuplicateConversionTarget. Nothing is mutated on error.
func (e *Exchange) ConvertNetwork(networkID, targetID model.ModelID) (*geometry.Model, error) {
	e.enter()
	defer e.leave()

	if targetID == "" {
		return nil, fmt.Errorf("%w: empty conversion target", ErrInvalidArgument)
	}
	n, ok := e.store.Network(networkID)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a loaded network", ErrInvalidArgument, networkID)
	}
	if _, ok := e.bridges[networkID]; ok {
		return nil, fmt.Errorf("%w: network %q already converted", ErrDuplicateConversionTarget, networkID)
	}
	if _, ok := e.targets[targetID]; ok || e.store.Has(targetID) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateConversionTarget, targetID)
	}

	g := geometry.NewModel(targetID)
	b := newBridge(networkID, targetID)
	for _, id := range nodeIDs(n) {
		node, _ := n.Node(id)
		if err := e.addNodeGeom(b, g, n, node); err != nil {
			return nil, err
		}
	}
	for _, id := range n.IDs(network.KindEdge) {
		edge, _ := n.Edge(id)
		if err := e.addEdgeGeom(b, g, n, edge); err != nil {
			return nil, err
		}
	}

	e.batch++
	e.bridges[networkID] = b
	e.targets[targetID] = networkID
	if err := e.store.LoadGeometry(g); err != nil {
		delete(e.bridges, networkID)
		delete(e.targets, targetID)
		e.batch--
		return nil, fmt.Errorf("%w: %v", ErrDuplicateConversionTarget, err)
	}
	for id, ng := range b.nodes {
		_ = n.SetRepresentation(id, g.Ref(ng.vertex))
	}
	for id, pl := range b.edges {
		_ = n.SetRepresentation(id, g.Ref(pl))
	}

	// Instances already placed on the network drive their new proxies.
	for _, ref := range e.reg.refsOfModel(networkID) {
		for _, p := range e.reg.placements(ref) {
			inst := p.Instance()
			e.pushTransform(inst)
			e.applyAssetMesh(inst.Owner(), inst)
		}
	}
	e.pending.models[networkID] = struct{}{}
	e.pending.structural = true
	e.batch--

	e.log.Info(context.Background(), "network converted",
		logging.String("network", string(networkID)),
		logging.String("target", string(targetID)),
		logging.Int("nodes", len(b.nodes)),
		logging.Int("edges", len(b.edges)),
	)
	e.maybeFlush()
	return g, nil
}

func nodeIDs(n *network.Model) []model.ElementID {
	ids := n.IDs(network.KindNode)
	ids = append(ids, n.IDs(network.KindSubNetwork)...)
	sortElementIDs(ids)
	return ids
}

func (e *Exchange) addNodeGeom(b *bridge, g *geometry.Model, n *network.Model, node network.Node) error {
	pos, _ := n.AbsolutePosition(node.ID)
	v := g.AddVertex(e.layoutPoint(pos))
	px, err := g.AddProxy(v, e.proxySize, model.Vec3{}, e.defaultMesh.Clone())
	if err != nil {
		return fmt.Errorf("proxy for node %d: %w", node.ID, err)
	}
	b.nodes[node.ID] = nodeGeom{vertex: v, proxy: px}
	b.byGeom[v] = node.ID
	b.byGeom[px] = node.ID
	return nil
}

func (e *Exchange) addEdgeGeom(b *bridge, g *geometry.Model, n *network.Model, edge network.Edge) error {
	from, okA := b.nodes[edge.From]
	to, okB := b.nodes[edge.To]
	if !okA || !okB {
		return fmt.Errorf("%w: edge %d has unconverted endpoints", ErrInvalidArgument, edge.ID)
	}
	ge, err := g.AddEdge(from.vertex, to.vertex)
	if err != nil {
		return fmt.Errorf("edge %d: %w", edge.ID, err)
	}
	pl, err := g.AddPolyline([]model.ElementID{ge})
	if err != nil {
		return fmt.Errorf("polyline for edge %d: %w", edge.ID, err)
	}
	b.edges[edge.ID] = pl
	b.byGeom[ge] = edge.ID
	b.byGeom[pl] = edge.ID
	return nil
}

// syncBridge mirrors one network change into the generated geometry. It
// runs inside an engine batch so the geometry events it causes are folded
// into the recompute of the network change itself.
func (e *Exchange) syncBridge(b *bridge, ev network.Event) {
	g, ok := e.store.Geometry(b.target)
	if !ok {
		return
	}
	n, ok := e.store.Network(b.network)
	if !ok {
		return
	}
	ctx := context.Background()

	var err error
	switch ev.Type {
	case network.EventNodeAdded:
		if err = e.addNodeGeom(b, g, n, ev.Node); err == nil {
			_ = n.SetRepresentation(ev.Element, g.Ref(b.nodes[ev.Element].vertex))
			e.relayout(b, g, n)
		}
	case network.EventNodeRemoved:
		e.removeNodeGeom(b, g, ev.Element)
		e.relayout(b, g, n)
	case network.EventEdgeAdded:
		if err = e.addEdgeGeom(b, g, n, ev.Edge); err == nil {
			_ = n.SetRepresentation(ev.Element, g.Ref(b.edges[ev.Element]))
		}
	case network.EventEdgeRemoved:
		e.removeEdgeGeom(b, g, ev.Element)
	case network.EventEdgeRedirected:
		err = e.redirectEdgeGeom(b, g, ev)
	default:
		e.relayout(b, g, n)
	}
	if err != nil {
		e.log.Warn(ctx, "network sync failed",
			logging.String("network", string(b.network)),
			logging.String("event", ev.Type.String()),
			logging.Err(err),
		)
	}
}

func (e *Exchange) removeNodeGeom(b *bridge, g *geometry.Model, id model.ElementID) {
	ng, ok := b.nodes[id]
	if !ok {
		return
	}
	_ = g.Remove(ng.proxy)
	_ = g.Remove(ng.vertex)
	delete(b.byGeom, ng.proxy)
	delete(b.byGeom, ng.vertex)
	delete(b.nodes, id)
}

// removeEdgeGeom deletes the polyline of a network edge with its edges and
// the vertices that splitting left inside it.
func (e *Exchange) removeEdgeGeom(b *bridge, g *geometry.Model, id model.ElementID) {
	pl, ok := b.edges[id]
	if !ok {
		return
	}
	line, _ := g.Polyline(pl)
	endpoints := make(map[model.ElementID]bool)
	for _, ng := range b.nodes {
		endpoints[ng.vertex] = true
	}
	var inner []model.ElementID
	for _, edge := range line.Edges {
		if ge, ok := g.Edge(edge); ok {
			for _, v := range []model.ElementID{ge.V0, ge.V1} {
				if !endpoints[v] {
					inner = append(inner, v)
					endpoints[v] = true
				}
			}
		}
	}
	_ = g.Remove(pl)
	delete(b.byGeom, pl)
	for _, edge := range line.Edges {
		_ = g.Remove(edge)
		delete(b.byGeom, edge)
	}
	for _, v := range inner {
		_ = g.Remove(v)
	}
	delete(b.edges, id)
}

// redirectEdgeGeom re-points the end edge of the polyline to the vertex
// of the new node.
func (e *Exchange) redirectEdgeGeom(b *bridge, g *geometry.Model, ev network.Event) error {
	pl, ok := b.edges[ev.Element]
	if !ok {
		return nil
	}
	oldNode, okA := b.nodes[ev.OldNode]
	newNode, okB := b.nodes[ev.NewNode]
	if !okA || !okB {
		return fmt.Errorf("%w: redirect of edge %d to unconverted node", ErrInvalidArgument, ev.Element)
	}
	line, ok := g.Polyline(pl)
	if !ok || len(line.Edges) == 0 {
		return fmt.Errorf("%w: polyline %d", geometry.ErrElementNotFound, pl)
	}
	end := line.Edges[0]
	if ev.End == network.EndTo {
		end = line.Edges[len(line.Edges)-1]
	}
	return g.ReplaceEdgeVertex(end, oldNode.vertex, newNode.vertex)
}

// relayout moves every node vertex without a geometry parent to its
// flattened layout position. Parented vertices follow the geometry.
func (e *Exchange) relayout(b *bridge, g *geometry.Model, n *network.Model) {
	if b.relaying {
		return
	}
	b.relaying = true
	defer func() { b.relaying = false }()

	ids := make([]model.ElementID, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sortElementIDs(ids)
	for _, id := range ids {
		pos, ok := n.AbsolutePosition(id)
		if !ok {
			continue
		}
		v, ok := g.Vertex(b.nodes[id].vertex)
		if !ok || v.Parent != 0 {
			continue
		}
		want := e.layoutPoint(pos)
		if v.Position.ApproxEqual(want, 1e-12) {
			continue
		}
		_ = g.MoveVertex(v.ID, want)
	}
}

// snapNodeVertices puts node vertices of a generated geometry back on the
// layout after a geometry edit touched them. Only parented vertices may
// leave the layout.
func (e *Exchange) snapNodeVertices(target model.ModelID, changed []model.ElementID) {
	b, ok := e.bridgeForTarget(target)
	if !ok || b.relaying || !b.hasNodeVertex(changed) {
		return
	}
	g, okG := e.store.Geometry(b.target)
	n, okN := e.store.Network(b.network)
	if !okG || !okN {
		return
	}
	e.batch++
	e.relayout(b, g, n)
	e.batch--
}
