package geometry

import (
	"fmt"

	"github.com/signalsfoundry/geoexchange/model"
)

// AddPolygonFace builds vertices, edges, a boundary loop and a face for a
// closed polygon given in order. It runs as one batch.
func (m *Model) AddPolygonFace(points []model.Vec3) (model.ElementID, error) {
	if len(points) < 3 {
		return 0, fmt.Errorf("%w: polygon needs at least 3 points", ErrInvalidTopology)
	}
	m.StartBatchOperation()
	defer func() { _ = m.EndBatchOperation() }()

	loop, err := m.addPolygonLoop(points)
	if err != nil {
		return 0, err
	}
	return m.AddFace(loop)
}

// AddPolygonLoop builds vertices, edges and a closed loop for a polygon.
func (m *Model) AddPolygonLoop(points []model.Vec3) (model.ElementID, error) {
	if len(points) < 3 {
		return 0, fmt.Errorf("%w: polygon needs at least 3 points", ErrInvalidTopology)
	}
	m.StartBatchOperation()
	defer func() { _ = m.EndBatchOperation() }()
	return m.addPolygonLoop(points)
}

func (m *Model) addPolygonLoop(points []model.Vec3) (model.ElementID, error) {
	verts := make([]model.ElementID, len(points))
	for i, p := range points {
		verts[i] = m.AddVertex(p)
	}
	edges := make([]model.ElementID, len(points))
	for i := range verts {
		e, err := m.AddEdge(verts[i], verts[(i+1)%len(verts)])
		if err != nil {
			return 0, err
		}
		edges[i] = e
	}
	return m.AddEdgeLoop(edges)
}

// Rectangle returns the corner points of an axis-aligned rectangle in the
// z = origin.Z plane, counter-clockwise seen from +Z.
func Rectangle(origin model.Vec3, w, h float64) []model.Vec3 {
	return []model.Vec3{
		origin,
		{X: origin.X + w, Y: origin.Y, Z: origin.Z},
		{X: origin.X + w, Y: origin.Y + h, Z: origin.Z},
		{X: origin.X, Y: origin.Y + h, Z: origin.Z},
	}
}

// BoxFaces lists the six faces of a box built by AddBox, in the order
// bottom, top, front (-Y), right (+X), back (+Y), left (-X).
type BoxFaces [6]model.ElementID

// AddBox builds a closed axis-aligned box volume with outward oriented
// faces. Faces share edges and vertices. It runs as one batch.
func (m *Model) AddBox(min, max model.Vec3) (model.ElementID, BoxFaces, error) {
	var faces BoxFaces
	if max.X <= min.X || max.Y <= min.Y || max.Z <= min.Z {
		return 0, faces, fmt.Errorf("%w: empty box", ErrInvalidTopology)
	}
	m.StartBatchOperation()
	defer func() { _ = m.EndBatchOperation() }()

	corners := [8]model.Vec3{
		{X: min.X, Y: min.Y, Z: min.Z},
		{X: max.X, Y: min.Y, Z: min.Z},
		{X: max.X, Y: max.Y, Z: min.Z},
		{X: min.X, Y: max.Y, Z: min.Z},
		{X: min.X, Y: min.Y, Z: max.Z},
		{X: max.X, Y: min.Y, Z: max.Z},
		{X: max.X, Y: max.Y, Z: max.Z},
		{X: min.X, Y: max.Y, Z: max.Z},
	}
	var v [8]model.ElementID
	for i, c := range corners {
		v[i] = m.AddVertex(c)
	}

	type pair struct{ a, b int }
	edges := make(map[pair]model.ElementID)
	edge := func(a, b int) (model.ElementID, error) {
		if a > b {
			a, b = b, a
		}
		if id, ok := edges[pair{a, b}]; ok {
			return id, nil
		}
		id, err := m.AddEdge(v[a], v[b])
		if err != nil {
			return 0, err
		}
		edges[pair{a, b}] = id
		return id, nil
	}

	cycles := [6][4]int{
		{0, 3, 2, 1}, // bottom, -Z
		{4, 5, 6, 7}, // top, +Z
		{0, 1, 5, 4}, // front, -Y
		{1, 2, 6, 5}, // right, +X
		{2, 3, 7, 6}, // back, +Y
		{3, 0, 4, 7}, // left, -X
	}
	vfs := make([]VolumeFace, 0, 6)
	for i, cyc := range cycles {
		loopEdges := make([]model.ElementID, 4)
		for j := range cyc {
			e, err := edge(cyc[j], cyc[(j+1)%4])
			if err != nil {
				return 0, faces, err
			}
			loopEdges[j] = e
		}
		loop, err := m.AddEdgeLoop(loopEdges)
		if err != nil {
			return 0, faces, err
		}
		f, err := m.AddFace(loop)
		if err != nil {
			return 0, faces, err
		}
		faces[i] = f
		vfs = append(vfs, VolumeFace{Face: f})
	}

	vol, err := m.AddVolume(vfs)
	if err != nil {
		return 0, faces, err
	}
	return vol, faces, nil
}
