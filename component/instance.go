package component

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geoexchange/model"
)

// Placement is where an instance is realized: a geometry element or a
// flow network element.
type Placement interface {
	// Target is the addressed element.
	Target() model.ElementRef
	// Instance is the instance holding the placement, nil when detached.
	Instance() *Instance
	PlacementState() model.PlacementState
	SetPlacementState(model.PlacementState)

	attach(inst *Instance)
}

// GeometryPlacement places an instance on a geometry element. Related
// lists auxiliary elements the placement depends on, such as the boundary
// and hole loops of a face.
type GeometryPlacement struct {
	Ref     model.ElementRef
	Related []model.ElementID
	State   model.PlacementState

	inst *Instance
}

// NewGeometryPlacement returns a detached geometry placement.
func NewGeometryPlacement(ref model.ElementRef, related ...model.ElementID) *GeometryPlacement {
	return &GeometryPlacement{Ref: ref, Related: append([]model.ElementID(nil), related...)}
}

func (p *GeometryPlacement) Target() model.ElementRef                 { return p.Ref }
func (p *GeometryPlacement) Instance() *Instance                      { return p.inst }
func (p *GeometryPlacement) PlacementState() model.PlacementState     { return p.State }
func (p *GeometryPlacement) SetPlacementState(s model.PlacementState) { p.State = s }
func (p *GeometryPlacement) attach(inst *Instance)                    { p.inst = inst }

// NetworkPlacement places an instance on a flow network node, sub-network
// or edge.
type NetworkPlacement struct {
	Ref   model.ElementRef
	State model.PlacementState

	inst *Instance
}

// NewNetworkPlacement returns a detached network placement.
func NewNetworkPlacement(ref model.ElementRef) *NetworkPlacement {
	return &NetworkPlacement{Ref: ref}
}

func (p *NetworkPlacement) Target() model.ElementRef                 { return p.Ref }
func (p *NetworkPlacement) Instance() *Instance                      { return p.inst }
func (p *NetworkPlacement) PlacementState() model.PlacementState     { return p.State }
func (p *NetworkPlacement) SetPlacementState(s model.PlacementState) { p.State = s }
func (p *NetworkPlacement) attach(inst *Instance)                    { p.inst = inst }

// Instance is one realization of a component.
type Instance struct {
	ID   uuid.UUID
	Type model.InstanceType

	// Generated marks instances created by the engine rather than by
	// external code.
	Generated bool

	// Persistent and Temporary are per-instance parameter snapshots.
	Persistent map[string]float64
	Temporary  map[string]float64

	// Derived holds the per-instance geometric measures.
	Derived map[string]float64

	// Path is the cached instance path.
	Path []model.Vec3

	State model.InstanceState

	owner      *Component
	placements []Placement
	propagate  bool
	size       model.Vec3
	rotation   model.Vec3
}

// NewInstance returns a detached instance of the given type.
func NewInstance(t model.InstanceType) *Instance {
	return &Instance{
		ID:         uuid.New(),
		Type:       t,
		Persistent: make(map[string]float64),
		Temporary:  make(map[string]float64),
		Derived:    make(map[string]float64),
		size:       model.Vec3{X: 1, Y: 1, Z: 1},
	}
}

func (i *Instance) observer() Observer {
	if i.owner == nil {
		return NopObserver{}
	}
	return i.owner.observer()
}

// Owner returns the owning component, nil when detached.
func (i *Instance) Owner() *Component { return i.owner }

// Placements returns the placements in insertion order.
func (i *Instance) Placements() []Placement {
	return append([]Placement(nil), i.placements...)
}

// AddPlacement attaches a detached placement.
func (i *Instance) AddPlacement(p Placement) error {
	if p.Instance() != nil {
		return fmt.Errorf("%w: placement on %s", ErrNotOwned, p.Target())
	}
	p.attach(i)
	i.placements = append(i.placements, p)
	i.observer().PlacementAdded(i, p)
	return nil
}

// RemovePlacement detaches a placement.
func (i *Instance) RemovePlacement(p Placement) bool {
	for k, x := range i.placements {
		if x == p {
			i.placements = append(i.placements[:k], i.placements[k+1:]...)
			i.observer().PlacementRemoved(i, p)
			p.attach(nil)
			return true
		}
	}
	return false
}

// ClearPlacements detaches every placement.
func (i *Instance) ClearPlacements() {
	for len(i.placements) > 0 {
		i.RemovePlacement(i.placements[len(i.placements)-1])
	}
}

// PropagateChanges reports whether IfInstance parameters reach the
// persistent snapshot.
func (i *Instance) PropagateChanges() bool { return i.propagate }

// SetPropagateChanges toggles parameter propagation.
func (i *Instance) SetPropagateChanges(v bool) {
	if i.propagate == v {
		return
	}
	old := i.propagate
	i.propagate = v
	i.observer().PropagateChangesToggled(i, old)
}

// Size returns the instance size.
func (i *Instance) Size() model.Vec3 { return i.size }

// Rotation returns the instance rotation (Euler angles in degrees).
func (i *Instance) Rotation() model.Vec3 { return i.rotation }

// SetTransform updates size and rotation.
func (i *Instance) SetTransform(size, rotation model.Vec3) {
	if i.size == size && i.rotation == rotation {
		return
	}
	i.size = size
	i.rotation = rotation
	i.observer().InstanceTransformChanged(i)
}
