package geometry

import (
	"fmt"

	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/model"
)

// AddVertex inserts a vertex and returns its id.
func (m *Model) AddVertex(pos model.Vec3) model.ElementID {
	m.mu.Lock()
	id := m.allocLocked(KindVertex)
	m.vertices[id] = &Vertex{ID: id, Position: pos}
	m.mu.Unlock()

	m.changed(true, id)
	return id
}

// MoveVertex updates a vertex position. This is a non-structural change.
func (m *Model) MoveVertex(id model.ElementID, pos model.Vec3) error {
	m.mu.Lock()
	if err := m.requireLocked(id, KindVertex); err != nil {
		m.mu.Unlock()
		return err
	}
	m.vertices[id].Position = pos
	m.mu.Unlock()

	m.changed(false, id)
	return nil
}

// SetVertexParent attaches a vertex to a containing element; parent 0
// detaches it.
func (m *Model) SetVertexParent(id, parent model.ElementID) error {
	m.mu.Lock()
	if err := m.requireLocked(id, KindVertex); err != nil {
		m.mu.Unlock()
		return err
	}
	if parent != 0 {
		if _, ok := m.kinds[parent]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("%w: parent %d", ErrElementNotFound, parent)
		}
	}
	m.vertices[id].Parent = parent
	m.mu.Unlock()

	m.changed(false, id)
	return nil
}

// AddEdge connects two existing vertices.
func (m *Model) AddEdge(v0, v1 model.ElementID) (model.ElementID, error) {
	m.mu.Lock()
	for _, v := range []model.ElementID{v0, v1} {
		if err := m.requireLocked(v, KindVertex); err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}
	if v0 == v1 {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: edge endpoints are identical", ErrInvalidTopology)
	}
	id := m.allocLocked(KindEdge)
	m.edges[id] = &Edge{ID: id, V0: v0, V1: v1}
	m.linkLocked(v0, id)
	m.linkLocked(v1, id)
	m.mu.Unlock()

	m.changed(true, id)
	return id, nil
}

func (m *Model) requireEdgesLocked(edges []model.ElementID) error {
	if len(edges) == 0 {
		return fmt.Errorf("%w: empty edge chain", ErrInvalidTopology)
	}
	for _, e := range edges {
		if err := m.requireLocked(e, KindEdge); err != nil {
			return err
		}
	}
	return nil
}

// AddEdgeLoop creates a closed loop from an ordered chain of edges.
func (m *Model) AddEdgeLoop(edges []model.ElementID) (model.ElementID, error) {
	m.mu.Lock()
	if err := m.requireEdgesLocked(edges); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	id := m.allocLocked(KindEdgeLoop)
	m.loops[id] = &EdgeLoop{ID: id, Edges: append([]model.ElementID(nil), edges...)}
	for _, e := range edges {
		m.linkLocked(e, id)
	}
	m.mu.Unlock()

	m.changed(true, id)
	return id, nil
}

// AddPolyline creates an open polyline from an ordered chain of edges.
func (m *Model) AddPolyline(edges []model.ElementID) (model.ElementID, error) {
	m.mu.Lock()
	if err := m.requireEdgesLocked(edges); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	id := m.allocLocked(KindPolyline)
	m.polylines[id] = &Polyline{ID: id, Edges: append([]model.ElementID(nil), edges...)}
	for _, e := range edges {
		m.linkLocked(e, id)
	}
	m.mu.Unlock()

	m.changed(true, id)
	return id, nil
}

// AppendToPolyline adds an edge at the end of a polyline.
func (m *Model) AppendToPolyline(pl, edge model.ElementID) error {
	m.mu.Lock()
	if err := m.requireLocked(pl, KindPolyline); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.requireLocked(edge, KindEdge); err != nil {
		m.mu.Unlock()
		return err
	}
	p := m.polylines[pl]
	p.Edges = append(p.Edges, edge)
	m.linkLocked(edge, pl)
	m.mu.Unlock()

	m.changed(true, pl)
	return nil
}

// AddFace creates a face from a boundary loop and optional hole loops.
func (m *Model) AddFace(boundary model.ElementID, holes ...model.ElementID) (model.ElementID, error) {
	m.mu.Lock()
	if err := m.requireLocked(boundary, KindEdgeLoop); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	for _, h := range holes {
		if err := m.requireLocked(h, KindEdgeLoop); err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}
	id := m.allocLocked(KindFace)
	m.faces[id] = &Face{ID: id, Boundary: boundary, Holes: append([]model.ElementID(nil), holes...)}
	m.linkLocked(boundary, id)
	for _, h := range holes {
		m.linkLocked(h, id)
	}
	m.mu.Unlock()

	// The loops gain a parent; a loop that is a hole elsewhere is now filled.
	m.changed(true, append([]model.ElementID{id, boundary}, holes...)...)
	return id, nil
}

// SetFaceMaterial sets the material component id of a face.
func (m *Model) SetFaceMaterial(face model.ElementID, material string) error {
	m.mu.Lock()
	if err := m.requireLocked(face, KindFace); err != nil {
		m.mu.Unlock()
		return err
	}
	m.faces[face].Material = material
	m.mu.Unlock()

	m.changed(true, face)
	return nil
}

// AddHole adds a hole loop to a face.
func (m *Model) AddHole(face, loop model.ElementID) error {
	m.mu.Lock()
	if err := m.requireLocked(face, KindFace); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.requireLocked(loop, KindEdgeLoop); err != nil {
		m.mu.Unlock()
		return err
	}
	f := m.faces[face]
	for _, h := range f.Holes {
		if h == loop {
			m.mu.Unlock()
			return nil
		}
	}
	f.Holes = append(f.Holes, loop)
	m.linkLocked(loop, face)
	m.mu.Unlock()

	m.changed(true, face)
	return nil
}

// RemoveHole detaches a hole loop from a face. The loop itself survives.
func (m *Model) RemoveHole(face, loop model.ElementID) error {
	m.mu.Lock()
	if err := m.requireLocked(face, KindFace); err != nil {
		m.mu.Unlock()
		return err
	}
	f := m.faces[face]
	f.Holes = removeID(f.Holes, loop)
	m.unlinkLocked(loop, face)
	m.mu.Unlock()

	m.changed(true, face)
	return nil
}

// AddVolume creates a volume from oriented faces.
func (m *Model) AddVolume(faces []VolumeFace) (model.ElementID, error) {
	m.mu.Lock()
	if len(faces) == 0 {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: volume without faces", ErrInvalidTopology)
	}
	for _, vf := range faces {
		if err := m.requireLocked(vf.Face, KindFace); err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}
	id := m.allocLocked(KindVolume)
	m.volumes[id] = &Volume{ID: id, Faces: append([]VolumeFace(nil), faces...)}
	for _, vf := range faces {
		m.linkLocked(vf.Face, id)
	}
	m.mu.Unlock()

	m.changed(true, id)
	return id, nil
}

// AddFaceToVolume adds an oriented face to an existing volume.
func (m *Model) AddFaceToVolume(volume model.ElementID, vf VolumeFace) error {
	m.mu.Lock()
	if err := m.requireLocked(volume, KindVolume); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.requireLocked(vf.Face, KindFace); err != nil {
		m.mu.Unlock()
		return err
	}
	v := m.volumes[volume]
	v.Faces = append(v.Faces, vf)
	m.linkLocked(vf.Face, volume)
	m.mu.Unlock()

	m.changed(true, volume)
	return nil
}

// AddProxy attaches a proxy geometry to a vertex.
func (m *Model) AddProxy(vertex model.ElementID, size, rotation model.Vec3, mesh *kernel.Mesh) (model.ElementID, error) {
	m.mu.Lock()
	if err := m.requireLocked(vertex, KindVertex); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	id := m.allocLocked(KindProxy)
	m.proxies[id] = &Proxy{ID: id, Vertex: vertex, Size: size, Rotation: rotation, Mesh: mesh}
	m.linkLocked(vertex, id)
	m.mu.Unlock()

	m.changed(true, id)
	return id, nil
}

// SetProxyTransform updates proxy size and rotation. It emits no event
// when nothing changes.
func (m *Model) SetProxyTransform(id model.ElementID, size, rotation model.Vec3) error {
	m.mu.Lock()
	if err := m.requireLocked(id, KindProxy); err != nil {
		m.mu.Unlock()
		return err
	}
	p := m.proxies[id]
	if p.Size == size && p.Rotation == rotation {
		m.mu.Unlock()
		return nil
	}
	p.Size = size
	p.Rotation = rotation
	m.mu.Unlock()

	m.changed(false, id)
	return nil
}

// SetProxyMesh replaces the proxy point data.
func (m *Model) SetProxyMesh(id model.ElementID, mesh *kernel.Mesh) error {
	m.mu.Lock()
	if err := m.requireLocked(id, KindProxy); err != nil {
		m.mu.Unlock()
		return err
	}
	m.proxies[id].Mesh = mesh
	m.mu.Unlock()

	m.changed(false, id)
	return nil
}

// SetProxyColor updates the proxy display color. It emits no event when
// nothing changes.
func (m *Model) SetProxyColor(id model.ElementID, c model.DerivedColor) error {
	m.mu.Lock()
	if err := m.requireLocked(id, KindProxy); err != nil {
		m.mu.Unlock()
		return err
	}
	p := m.proxies[id]
	if p.Color == c {
		m.mu.Unlock()
		return nil
	}
	p.Color = c
	m.mu.Unlock()

	m.changed(false, id)
	return nil
}

// ReplaceEdgeVertex re-points the end of edge that is oldV to newV.
func (m *Model) ReplaceEdgeVertex(edge, oldV, newV model.ElementID) error {
	m.mu.Lock()
	if err := m.requireLocked(edge, KindEdge); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.requireLocked(newV, KindVertex); err != nil {
		m.mu.Unlock()
		return err
	}
	e := m.edges[edge]
	switch oldV {
	case e.V0:
		e.V0 = newV
	case e.V1:
		e.V1 = newV
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: vertex %d is not an end of edge %d", ErrInvalidTopology, oldV, edge)
	}
	m.unlinkLocked(oldV, edge)
	m.linkLocked(newV, edge)
	m.mu.Unlock()

	m.changed(true, edge)
	return nil
}

// SplitEdge inserts a new vertex at pos into edge. The edge keeps its id
// and now ends at the new vertex; a new edge continues to the old end and
// is inserted after the original in every loop and polyline containing it.
// The split runs as one batch.
func (m *Model) SplitEdge(edge model.ElementID, pos model.Vec3) (vertex, added model.ElementID, err error) {
	m.mu.RLock()
	err = m.requireLocked(edge, KindEdge)
	m.mu.RUnlock()
	if err != nil {
		return 0, 0, err
	}

	m.StartBatchOperation()
	defer func() {
		_ = m.EndBatchOperation()
	}()

	vertex = m.AddVertex(pos)

	m.mu.Lock()
	e := m.edges[edge]
	oldEnd := e.V1
	e.V1 = vertex
	m.unlinkLocked(oldEnd, edge)
	m.linkLocked(vertex, edge)
	m.mu.Unlock()
	m.changed(true, edge)

	added, err = m.AddEdge(vertex, oldEnd)
	if err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	var touched []model.ElementID
	for p := range m.parents[edge] {
		switch m.kinds[p] {
		case KindEdgeLoop:
			l := m.loops[p]
			l.Edges = m.insertSplitLocked(l.Edges, edge, added, oldEnd, true)
		case KindPolyline:
			pl := m.polylines[p]
			pl.Edges = m.insertSplitLocked(pl.Edges, edge, added, oldEnd, false)
		default:
			continue
		}
		m.linkLocked(added, p)
		touched = append(touched, p)
	}
	m.mu.Unlock()
	if len(touched) > 0 {
		m.changed(true, touched...)
	}
	return vertex, added, nil
}

// Remove deletes an element from the model. References to it held by its
// parents are dropped; its children survive.
func (m *Model) Remove(id model.ElementID) error {
	m.mu.Lock()
	k, ok := m.kinds[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrElementNotFound, id)
	}

	var touched []model.ElementID
	for p := range m.parents[id] {
		switch m.kinds[p] {
		case KindEdge:
			// A removed vertex leaves the edge dangling; measures become NaN.
		case KindEdgeLoop:
			m.loops[p].Edges = removeID(m.loops[p].Edges, id)
		case KindPolyline:
			m.polylines[p].Edges = removeID(m.polylines[p].Edges, id)
		case KindFace:
			f := m.faces[p]
			if f.Boundary == id {
				f.Boundary = 0
			}
			f.Holes = removeID(f.Holes, id)
		case KindVolume:
			v := m.volumes[p]
			kept := v.Faces[:0]
			for _, vf := range v.Faces {
				if vf.Face != id {
					kept = append(kept, vf)
				}
			}
			v.Faces = kept
		case KindProxy:
			// The proxy follows its vertex.
		}
		touched = append(touched, p)
	}
	delete(m.parents, id)

	for _, child := range m.childrenLocked(id, k) {
		if _, ok := m.kinds[child]; !ok {
			continue
		}
		m.unlinkLocked(child, id)
		touched = append(touched, child)
	}

	delete(m.kinds, id)
	delete(m.vertices, id)
	delete(m.edges, id)
	delete(m.loops, id)
	delete(m.polylines, id)
	delete(m.faces, id)
	delete(m.volumes, id)
	delete(m.proxies, id)
	m.mu.Unlock()

	m.notify(Event{Type: EventChanged, Changed: touched, Removed: []model.ElementID{id}, Structural: true})
	return nil
}

func (m *Model) childrenLocked(id model.ElementID, k Kind) []model.ElementID {
	switch k {
	case KindEdge:
		e := m.edges[id]
		return []model.ElementID{e.V0, e.V1}
	case KindEdgeLoop:
		return m.loops[id].Edges
	case KindPolyline:
		return m.polylines[id].Edges
	case KindFace:
		f := m.faces[id]
		out := make([]model.ElementID, 0, 1+len(f.Holes))
		if f.Boundary != 0 {
			out = append(out, f.Boundary)
		}
		return append(out, f.Holes...)
	case KindVolume:
		v := m.volumes[id]
		out := make([]model.ElementID, 0, len(v.Faces))
		for _, vf := range v.Faces {
			out = append(out, vf.Face)
		}
		return out
	case KindProxy:
		return []model.ElementID{m.proxies[id].Vertex}
	}
	return nil
}

func removeID(ids []model.ElementID, id model.ElementID) []model.ElementID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// insertSplitLocked inserts added next to edge so that the chain stays
// connected: before edge when the chain enters edge through oldEnd,
// after it otherwise.
func (m *Model) insertSplitLocked(ids []model.ElementID, edge, added, oldEnd model.ElementID, closed bool) []model.ElementID {
	idx := -1
	for i, x := range ids {
		if x == edge {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ids
	}

	before := false
	n := len(ids)
	switch {
	case n == 1:
	case idx > 0 || closed:
		prev := ids[(idx-1+n)%n]
		before = m.touchesLocked(prev, oldEnd)
	default:
		next := ids[idx+1]
		before = !m.touchesLocked(next, oldEnd)
	}

	out := make([]model.ElementID, 0, n+1)
	for i, x := range ids {
		if i == idx && before {
			out = append(out, added)
		}
		out = append(out, x)
		if i == idx && !before {
			out = append(out, added)
		}
	}
	return out
}

func (m *Model) touchesLocked(edge, vertex model.ElementID) bool {
	e, ok := m.edges[edge]
	return ok && (e.V0 == vertex || e.V1 == vertex)
}
