// Package sdfx implements kernel.Kernel using the github.com/deadsy/sdfx
// SDF-based CAD library.
package sdfx

import (
	"fmt"
	"sync"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/signalsfoundry/geoexchange/kernel"
)

var _ kernel.Kernel = (*Kernel)(nil)

// defaultMeshCells controls marching cubes resolution. Proxy markers are
// small and only need a coarse tessellation.
const defaultMeshCells = 8

type solid struct {
	s sdf.SDF3
}

func (s *solid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// Kernel tessellates centred primitives with sdfx.
type Kernel struct {
	cells int
}

// New returns a Kernel with the given marching cubes resolution; cells <= 0
// selects the default.
func New(cells int) *Kernel {
	if cells <= 0 {
		cells = defaultMeshCells
	}
	return &Kernel{cells: cells}
}

func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*solid).s
}

// Box creates a box centred on the origin.
func (k *Kernel) Box(x, y, z float64) kernel.Solid {
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Box3D: %v", err))
	}
	return &solid{s: s}
}

// Cylinder creates a cylinder centred on the origin along Z.
func (k *Kernel) Cylinder(height, radius float64) kernel.Solid {
	s, err := sdf.Cylinder3D(height, radius, 0)
	if err != nil {
		panic(fmt.Sprintf("sdfx.Cylinder3D: %v", err))
	}
	return &solid{s: s}
}

// ToMesh converts a solid to a flat triangle mesh using marching cubes.
func (k *Kernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	if s == nil {
		return nil, fmt.Errorf("sdfx: nil solid")
	}
	renderer := render.NewMarchingCubesUniform(k.cells)
	triangles := render.ToTriangles(unwrap(s), renderer)
	if len(triangles) == 0 {
		return nil, fmt.Errorf("sdfx: tessellation produced no triangles")
	}

	numVerts := len(triangles) * 3
	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		n := tri.Normal()
		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, float32(n.X), float32(n.Y), float32(n.Z))
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}

var (
	cubeOnce sync.Once
	cubeMesh *kernel.Mesh
	cubeErr  error
)

// UnitCube returns the shared default proxy primitive: a unit cube centred
// on the origin. Callers receive a copy.
func UnitCube() (*kernel.Mesh, error) {
	cubeOnce.Do(func() {
		k := New(defaultMeshCells)
		cubeMesh, cubeErr = k.ToMesh(k.Box(1, 1, 1))
		if cubeMesh != nil {
			cubeMesh.Source = "primitive:cube"
		}
	})
	if cubeErr != nil {
		return nil, cubeErr
	}
	return cubeMesh.Clone(), nil
}
