// Package kernel defines the small solid modelling interface used to
// build proxy primitives. Implementations (sdfx) provide tessellation
// behind this interface.
package kernel

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel produces primitive solids and tessellates them.
type Kernel interface {
	Box(x, y, z float64) Solid
	Cylinder(height, radius float64) Solid
	ToMesh(s Solid) (*Mesh, error)
}
