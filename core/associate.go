package core

import (
	"fmt"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

// Associate links c to each element. An element c is already placed on
// keeps its instance; any other element gets a new generated instance of
// the type inferred from the element kind. The returned instances line up
// with refs. All refs are validated before anything changes, and the
// whole call recomputes once.
func (e *Exchange) Associate(c *component.Component, refs ...model.ElementRef) ([]*component.Instance, error) {
	e.enter()
	defer e.leave()

	if c == nil || !e.tree.Contains(c) {
		return nil, fmt.Errorf("%w: component is not part of the tree", ErrInvalidArgument)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no elements to associate", ErrInvalidArgument)
	}
	types := make([]model.InstanceType, len(refs))
	for i, ref := range refs {
		t, ok := e.inferType(ref)
		if !ok {
			return nil, fmt.Errorf("%w: cannot resolve %s", ErrInvalidArgument, ref)
		}
		types[i] = t
	}

	e.batch++
	out := make([]*component.Instance, len(refs))
	for i, ref := range refs {
		if inst, ok := e.instanceOn(c, ref); ok {
			out[i] = inst
			continue
		}
		inst := component.NewInstance(types[i])
		inst.Generated = true
		_ = inst.AddPlacement(e.newPlacement(ref))
		_ = c.AddInstance(inst)
		out[i] = inst
	}
	e.batch--
	e.maybeFlush()
	return out, nil
}

// Disassociate removes the placement of c on ref. A generated instance
// left without placements is removed from c; instances created by other
// code are kept.
func (e *Exchange) Disassociate(c *component.Component, ref model.ElementRef) error {
	e.enter()
	defer e.leave()

	if c == nil || !e.tree.Contains(c) {
		return fmt.Errorf("%w: component is not part of the tree", ErrInvalidArgument)
	}
	var target component.Placement
	for _, p := range e.reg.placements(ref) {
		if inst := p.Instance(); inst != nil && inst.Owner() == c {
			target = p
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s is not associated with %s", ErrInvalidArgument, c.Name, ref)
	}

	e.batch++
	inst := target.Instance()
	inst.RemovePlacement(target)
	if inst.Generated && len(inst.Placements()) == 0 {
		_ = c.RemoveInstance(inst)
	}
	e.batch--
	e.maybeFlush()
	return nil
}

// GetComponents returns the components placed on ref, in association
// order.
func (e *Exchange) GetComponents(ref model.ElementRef) []*component.Component {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*component.Component
	seen := make(map[*component.Component]bool)
	for _, p := range e.reg.placements(ref) {
		inst := p.Instance()
		if inst == nil || inst.Owner() == nil || seen[inst.Owner()] {
			continue
		}
		seen[inst.Owner()] = true
		out = append(out, inst.Owner())
	}
	return out
}

// GetPlacements returns the placements realized on ref, in association
// order.
func (e *Exchange) GetPlacements(ref model.ElementRef) []component.Placement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.placements(ref)
}

func (e *Exchange) instanceOn(c *component.Component, ref model.ElementRef) (*component.Instance, bool) {
	for _, p := range e.reg.placements(ref) {
		if inst := p.Instance(); inst != nil && inst.Owner() == c {
			return inst, true
		}
	}
	return nil, false
}

// inferType maps the kind of a resolvable element to an instance type.
func (e *Exchange) inferType(ref model.ElementRef) (model.InstanceType, bool) {
	switch e.store.Kind(ref.Model) {
	case model.ModelKindGeometry:
		g, _ := e.store.Geometry(ref.Model)
		k, ok := g.Kind(ref.Element)
		if !ok {
			return 0, false
		}
		switch k {
		case geometry.KindVertex:
			return model.InstancePoint, true
		case geometry.KindEdge, geometry.KindPolyline:
			return model.InstanceEdge, true
		case geometry.KindFace, geometry.KindEdgeLoop:
			return model.InstanceFace, true
		case geometry.KindVolume:
			return model.InstanceVolume, true
		case geometry.KindProxy:
			return model.InstanceEntity3D, true
		}
	case model.ModelKindNetwork:
		n, _ := e.store.Network(ref.Model)
		k, ok := n.Kind(ref.Element)
		if !ok {
			return 0, false
		}
		if k == network.KindEdge {
			return model.InstanceNetworkEdge, true
		}
		return model.InstanceNetworkNode, true
	case model.ModelKindSite:
		s, _ := e.store.Site(ref.Model)
		if s.Has(ref.Element) {
			return model.InstanceSiteBuilding, true
		}
	}
	return 0, false
}

// newPlacement builds the placement variant for ref. Geometry placements
// record the structural dependencies of their element.
func (e *Exchange) newPlacement(ref model.ElementRef) component.Placement {
	switch e.store.Kind(ref.Model) {
	case model.ModelKindNetwork:
		return component.NewNetworkPlacement(ref)
	case model.ModelKindGeometry:
		g, _ := e.store.Geometry(ref.Model)
		return component.NewGeometryPlacement(ref, relatedIDs(g, ref.Element)...)
	}
	return component.NewGeometryPlacement(ref)
}

// registerTree registers every placement already present in the tree.
func (e *Exchange) registerTree() {
	walkComponents(e.tree.Root(), func(c *component.Component) {
		for _, inst := range c.Instances() {
			e.addInstance(c, inst)
		}
	})
}

// Rebuild drops the association index and rebuilds it from the tree, then
// re-resolves every placement against the loaded models.
func (e *Exchange) Rebuild() {
	e.enter()
	defer e.leave()

	e.batch++
	e.reg = newRegistry()
	e.registerTree()
	for _, id := range e.store.Models() {
		e.pending.models[id] = struct{}{}
	}
	e.pending.structural = true
	e.batch--
	e.maybeFlush()
}
