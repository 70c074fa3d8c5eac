package geometry

import (
	"math"

	"github.com/signalsfoundry/geoexchange/model"
)

// horizontalTolerance is the minimum |n.z| of a unit face normal for the
// face to count as horizontal.
const horizontalTolerance = 1 - 1e-6

// EdgeLength returns the Euclidean distance between the edge's endpoints,
// or NaN if the edge or one of its vertices is missing.
func EdgeLength(m *Model, id model.ElementID) float64 {
	e, ok := m.Edge(id)
	if !ok {
		return math.NaN()
	}
	a, okA := m.Vertex(e.V0)
	b, okB := m.Vertex(e.V1)
	if !okA || !okB {
		return math.NaN()
	}
	return a.Position.DistanceTo(b.Position)
}

// chainVertices walks an ordered edge chain and returns the visited vertex
// ids, including both ends. ok is false when the chain is broken.
func chainVertices(m *Model, edges []model.ElementID) ([]model.ElementID, bool) {
	if len(edges) == 0 {
		return nil, false
	}
	first, ok := m.Edge(edges[0])
	if !ok {
		return nil, false
	}
	start, cur := first.V0, first.V1
	if len(edges) > 1 {
		next, ok := m.Edge(edges[1])
		if !ok {
			return nil, false
		}
		if next.V0 == first.V0 || next.V1 == first.V0 {
			start, cur = first.V1, first.V0
		}
	}
	out := []model.ElementID{start, cur}
	for _, id := range edges[1:] {
		e, ok := m.Edge(id)
		if !ok {
			return nil, false
		}
		switch cur {
		case e.V0:
			cur = e.V1
		case e.V1:
			cur = e.V0
		default:
			return nil, false
		}
		out = append(out, cur)
	}
	return out, true
}

func positions(m *Model, ids []model.ElementID) ([]model.Vec3, bool) {
	out := make([]model.Vec3, 0, len(ids))
	for _, id := range ids {
		v, ok := m.Vertex(id)
		if !ok {
			return nil, false
		}
		out = append(out, v.Position)
	}
	return out, true
}

// LoopPoints returns the ordered polygon of a closed edge loop, without the
// repeated closing point.
func LoopPoints(m *Model, loop model.ElementID) ([]model.Vec3, bool) {
	l, ok := m.EdgeLoop(loop)
	if !ok {
		return nil, false
	}
	ids, ok := chainVertices(m, l.Edges)
	if !ok || len(ids) < 2 {
		return nil, false
	}
	if ids[0] == ids[len(ids)-1] {
		ids = ids[:len(ids)-1]
	}
	return positions(m, ids)
}

// PolylinePoints returns the ordered vertex positions of a polyline.
func PolylinePoints(m *Model, pl model.ElementID) ([]model.Vec3, bool) {
	p, ok := m.Polyline(pl)
	if !ok {
		return nil, false
	}
	ids, ok := chainVertices(m, p.Edges)
	if !ok {
		return nil, false
	}
	return positions(m, ids)
}

// EdgePoints returns both endpoint positions of an edge.
func EdgePoints(m *Model, id model.ElementID) ([]model.Vec3, bool) {
	e, ok := m.Edge(id)
	if !ok {
		return nil, false
	}
	return positions(m, []model.ElementID{e.V0, e.V1})
}

// Newell returns the Newell normal of a polygon. Its length is twice the
// area of the polygon projected onto its best-fit plane.
func Newell(points []model.Vec3) model.Vec3 {
	var n model.Vec3
	for i := range points {
		a := points[i]
		b := points[(i+1)%len(points)]
		n.X += (a.Y - b.Y) * (a.Z + b.Z)
		n.Y += (a.Z - b.Z) * (a.X + b.X)
		n.Z += (a.X - b.X) * (a.Y + b.Y)
	}
	return n
}

// PolygonArea is the area of a polygon projected onto its best-fit plane.
// Degenerate polygons yield NaN.
func PolygonArea(points []model.Vec3) float64 {
	if len(points) < 3 {
		return math.NaN()
	}
	a := Newell(points).Norm() / 2
	if a < 1e-12 {
		return math.NaN()
	}
	return a
}

// PolygonPerimeter is the closed perimeter of a polygon.
func PolygonPerimeter(points []model.Vec3) float64 {
	if len(points) < 2 {
		return math.NaN()
	}
	var p float64
	for i := range points {
		p += points[i].DistanceTo(points[(i+1)%len(points)])
	}
	return p
}

// LoopArea is the area enclosed by an edge loop.
func LoopArea(m *Model, loop model.ElementID) float64 {
	pts, ok := LoopPoints(m, loop)
	if !ok {
		return math.NaN()
	}
	return PolygonArea(pts)
}

// FaceArea is the boundary area minus the areas of all holes.
func FaceArea(m *Model, face model.ElementID) float64 {
	f, ok := m.Face(face)
	if !ok {
		return math.NaN()
	}
	a := LoopArea(m, f.Boundary)
	for _, h := range f.Holes {
		a -= LoopArea(m, h)
	}
	return a
}

// FacePerimeter is the perimeter of the face's boundary loop.
func FacePerimeter(m *Model, face model.ElementID) float64 {
	f, ok := m.Face(face)
	if !ok {
		return math.NaN()
	}
	pts, ok := LoopPoints(m, f.Boundary)
	if !ok {
		return math.NaN()
	}
	return PolygonPerimeter(pts)
}

// faceNewell returns the Newell vector of a face with holes subtracted.
func faceNewell(m *Model, face model.ElementID) (model.Vec3, model.Vec3, bool) {
	f, ok := m.Face(face)
	if !ok {
		return model.Vec3{}, model.Vec3{}, false
	}
	pts, ok := LoopPoints(m, f.Boundary)
	if !ok || len(pts) < 3 {
		return model.Vec3{}, model.Vec3{}, false
	}
	n := Newell(pts)
	for _, h := range f.Holes {
		hp, ok := LoopPoints(m, h)
		if !ok || len(hp) < 3 {
			continue
		}
		hn := Newell(hp)
		if hn.Dot(n) > 0 {
			n = n.Sub(hn)
		} else {
			n = n.Add(hn)
		}
	}
	return n, pts[0], true
}

// VolumeMeasures are the derived values of a volume.
type VolumeMeasures struct {
	Volume         float64
	EnvelopeArea   float64
	FloorArea      float64
	FloorPerimeter float64
	Height         float64
}

// MeasureVolume computes volume (divergence theorem over oriented faces),
// envelope area, and floor area, floor perimeter and height from the
// lowest and highest horizontal faces. Unavailable values are NaN.
func MeasureVolume(m *Model, volume model.ElementID) VolumeMeasures {
	nan := math.NaN()
	out := VolumeMeasures{Volume: nan, EnvelopeArea: nan, FloorArea: nan, FloorPerimeter: nan, Height: nan}
	v, ok := m.Volume(volume)
	if !ok || len(v.Faces) == 0 {
		return out
	}

	var signed, envelope float64
	valid := true
	floorZ, ceilZ := math.Inf(1), math.Inf(-1)
	var floorFace model.ElementID
	for _, vf := range v.Faces {
		n, p0, ok := faceNewell(m, vf.Face)
		if !ok {
			valid = false
			continue
		}
		if vf.Reversed {
			n = n.Scale(-1)
		}
		signed += p0.Dot(n) / 6
		envelope += FaceArea(m, vf.Face)

		norm := n.Norm()
		if norm > 0 && math.Abs(n.Z/norm) >= horizontalTolerance {
			if p0.Z < floorZ {
				floorZ = p0.Z
				floorFace = vf.Face
			}
			if p0.Z > ceilZ {
				ceilZ = p0.Z
			}
		}
	}
	out.EnvelopeArea = envelope
	if valid {
		out.Volume = math.Abs(signed)
	}
	if floorFace != 0 {
		out.FloorArea = FaceArea(m, floorFace)
		out.FloorPerimeter = FacePerimeter(m, floorFace)
		if ceilZ > floorZ {
			out.Height = ceilZ - floorZ
		}
	}
	return out
}
