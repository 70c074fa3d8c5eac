package network

import (
	"sort"

	"github.com/signalsfoundry/geoexchange/model"
)

// Has reports whether the element exists.
func (m *Model) Has(id model.ElementID) bool {
	_, ok := m.Kind(id)
	return ok
}

// Kind returns the kind of an element.
func (m *Model) Kind(id model.ElementID) (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.nodes[id]; ok {
		return n.Kind, true
	}
	if _, ok := m.edges[id]; ok {
		return KindEdge, true
	}
	return KindUnknown, false
}

// Node returns a copy of a node or sub-network.
func (m *Model) Node(id model.ElementID) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Edge returns a copy of an edge.
func (m *Model) Edge(id model.ElementID) (Edge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Representation returns the geometry element generated for id.
func (m *Model) Representation(id model.ElementID) (model.ElementRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.nodes[id]; ok {
		return n.Representation, !n.Representation.IsZero()
	}
	if e, ok := m.edges[id]; ok {
		return e.Representation, !e.Representation.IsZero()
	}
	return model.ElementRef{}, false
}

// Children returns the nodes, sub-networks and edges directly owned by
// owner (0 for the root network), sorted by id.
func (m *Model) Children(owner model.ElementID) []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ElementID
	for id, n := range m.nodes {
		if n.Owner == owner {
			out = append(out, id)
		}
	}
	for id, e := range m.edges {
		if e.Owner == owner {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// Descendants returns every element nested anywhere below a sub-network.
func (m *Model) Descendants(subnet model.ElementID) []model.ElementID {
	var out []model.ElementID
	for _, c := range m.Children(subnet) {
		out = append(out, c)
		if k, _ := m.Kind(c); k == KindSubNetwork {
			out = append(out, m.Descendants(c)...)
		}
	}
	return out
}

// IncidentEdges returns the edges touching a node, sorted by id.
func (m *Model) IncidentEdges(node model.ElementID) []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ElementID
	for id, e := range m.edges {
		if e.From == node || e.To == node {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// IDs returns all element ids of a kind, sorted.
func (m *Model) IDs(k Kind) []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ElementID
	if k == KindEdge {
		for id := range m.edges {
			out = append(out, id)
		}
	} else {
		for id, n := range m.nodes {
			if n.Kind == k {
				out = append(out, id)
			}
		}
	}
	sortIDs(out)
	return out
}

// Count returns the number of elements of a kind.
func (m *Model) Count(k Kind) int {
	return len(m.IDs(k))
}

// NestingOffset is the layout offset that flattens an element owned by
// owner into root coordinates: for every containing sub-network the
// difference between its position and its entry node position.
func (m *Model) NestingOffset(owner model.ElementID) model.Vec2 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var off model.Vec2
	for owner != 0 {
		sn, ok := m.nodes[owner]
		if !ok {
			break
		}
		if entry, ok := m.nodes[sn.Entry]; ok {
			off = off.Add(sn.Position.Sub(entry.Position))
		}
		owner = sn.Owner
	}
	return off
}

// AbsolutePosition returns a node's layout position flattened into root
// coordinates.
func (m *Model) AbsolutePosition(id model.ElementID) (model.Vec2, bool) {
	n, ok := m.Node(id)
	if !ok {
		return model.Vec2{}, false
	}
	return n.Position.Add(m.NestingOffset(n.Owner)), true
}

// Clone returns a deep copy with identical ids and no subscribers.
func (m *Model) Clone() *Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewModel(m.id)
	c.nextID = m.nextID
	for id, n := range m.nodes {
		cp := *n
		c.nodes[id] = &cp
	}
	for id, e := range m.edges {
		cp := *e
		c.edges[id] = &cp
	}
	return c
}

func sortIDs(ids []model.ElementID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
