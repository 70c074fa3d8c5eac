package core

import (
	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/model"
)

// project computes the instance path from its valid placements.
func (e *Exchange) project(inst *component.Instance) []model.Vec3 {
	var out []model.Vec3
	for _, p := range inst.Placements() {
		if p.PlacementState() != model.PlacementValid {
			continue
		}
		ref := p.Target()
		switch inst.Type {
		case model.InstancePoint, model.InstanceEntity3D:
			if pt, ok := e.anchorPoint(ref); ok {
				out = append(out, pt)
			}
		case model.InstanceEdge:
			g, ok := e.store.Geometry(ref.Model)
			if !ok {
				continue
			}
			if k, _ := g.Kind(ref.Element); k == geometry.KindEdge {
				pts, _ := geometry.EdgePoints(g, ref.Element)
				out = append(out, pts...)
			} else {
				pts, _ := geometry.PolylinePoints(g, ref.Element)
				out = append(out, pts...)
			}
		case model.InstanceFace, model.InstanceVolume:
			if !isSynthesized(inst) {
				continue
			}
			out = append(out, e.boundaryPoints(ref)...)
		case model.InstanceNetworkNode:
			if pt, ok := e.networkNodePoint(ref.Model, ref.Element); ok {
				out = append(out, pt)
			}
		case model.InstanceNetworkEdge:
			out = append(out, e.networkEdgePath(ref)...)
		}
	}
	return out
}

// anchorPoint is the position of a vertex, or of the vertex a proxy is
// attached to.
func (e *Exchange) anchorPoint(ref model.ElementRef) (model.Vec3, bool) {
	g, ok := e.store.Geometry(ref.Model)
	if !ok {
		return model.Vec3{}, false
	}
	id := ref.Element
	if k, _ := g.Kind(id); k == geometry.KindProxy {
		px, _ := g.Proxy(id)
		id = px.Vertex
	}
	v, ok := g.Vertex(id)
	return v.Position, ok
}

// boundaryPoints is the boundary polygon of a face, or the polygon of a
// bare edge loop.
func (e *Exchange) boundaryPoints(ref model.ElementRef) []model.Vec3 {
	g, ok := e.store.Geometry(ref.Model)
	if !ok {
		return nil
	}
	loop := ref.Element
	if f, ok := g.Face(ref.Element); ok {
		loop = f.Boundary
	}
	pts, _ := geometry.LoopPoints(g, loop)
	return pts
}

// layoutPoint maps a flattened layout position to model space.
func (e *Exchange) layoutPoint(pos model.Vec2) model.Vec3 {
	return model.Vec3{X: pos.X * e.pixelToMeter, Y: pos.Y * e.pixelToMeter}
}

// parentedVertex returns the representing vertex of a network element
// when it has a geometry parent.
func (e *Exchange) parentedVertex(netModel model.ModelID, id model.ElementID) (geometry.Vertex, bool) {
	n, ok := e.store.Network(netModel)
	if !ok {
		return geometry.Vertex{}, false
	}
	rep, ok := n.Representation(id)
	if !ok {
		return geometry.Vertex{}, false
	}
	g, ok := e.store.Geometry(rep.Model)
	if !ok {
		return geometry.Vertex{}, false
	}
	v, ok := g.Vertex(rep.Element)
	if !ok || v.Parent == 0 {
		return geometry.Vertex{}, false
	}
	return v, true
}

// networkNodePoint follows the geometry when the representing vertex has
// a parent and the flattened layout otherwise.
func (e *Exchange) networkNodePoint(netModel model.ModelID, id model.ElementID) (model.Vec3, bool) {
	if v, ok := e.parentedVertex(netModel, id); ok {
		return v.Position, true
	}
	n, ok := e.store.Network(netModel)
	if !ok {
		return model.Vec3{}, false
	}
	pos, ok := n.AbsolutePosition(id)
	if !ok {
		return model.Vec3{}, false
	}
	return e.layoutPoint(pos), true
}

// networkEdgePath is the represented polyline once either end is attached
// to geometry, otherwise the two flattened layout end points.
func (e *Exchange) networkEdgePath(ref model.ElementRef) []model.Vec3 {
	n, ok := e.store.Network(ref.Model)
	if !ok {
		return nil
	}
	edge, ok := n.Edge(ref.Element)
	if !ok {
		return nil
	}
	_, fromParented := e.parentedVertex(ref.Model, edge.From)
	_, toParented := e.parentedVertex(ref.Model, edge.To)
	if fromParented || toParented {
		if rep, ok := n.Representation(edge.ID); ok {
			if g, ok := e.store.Geometry(rep.Model); ok {
				if pts, ok := geometry.PolylinePoints(g, rep.Element); ok {
					return pts
				}
			}
		}
	}
	a, okA := e.networkNodePoint(ref.Model, edge.From)
	b, okB := e.networkNodePoint(ref.Model, edge.To)
	if !okA || !okB {
		return nil
	}
	return []model.Vec3{a, b}
}
