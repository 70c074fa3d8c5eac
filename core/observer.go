package core

import (
	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// treeObserver receives component tree callbacks. Every registry
// mutation starts here, so Associate, Disassociate and direct tree edits
// share the same register and unregister path.
type treeObserver struct {
	e *Exchange
}

var _ component.Observer = treeObserver{}

func (o treeObserver) InstanceAdded(c *component.Component, inst *component.Instance) {
	e := o.e
	if !e.tree.Contains(c) {
		return
	}
	e.addInstance(c, inst)
	e.settle()
}

func (o treeObserver) InstanceRemoved(c *component.Component, inst *component.Instance) {
	e := o.e
	e.dropInstance(inst)
	e.pending.touchComponent(c)
	e.pending.touchCumulative(c.Parent())
	e.settle()
}

func (o treeObserver) PlacementAdded(inst *component.Instance, p component.Placement) {
	e := o.e
	if !e.owned(inst) {
		return
	}
	e.reg.register(p)
	e.pending.touch(inst)
	e.pending.change(p.Target())
	e.pending.structural = true
	if inst.Type == model.InstanceSiteBuilding {
		e.pending.buildings[p.Target()] = struct{}{}
	}
	e.applyAssetMesh(inst.Owner(), inst)
	e.settle()
}

func (o treeObserver) PlacementRemoved(inst *component.Instance, p component.Placement) {
	e := o.e
	if !e.reg.unregister(p) {
		return
	}
	e.pending.touch(inst)
	e.pending.change(p.Target())
	e.pending.structural = true
	if inst.Type == model.InstanceSiteBuilding {
		e.pending.buildings[p.Target()] = struct{}{}
	}
	e.settle()
}

func (o treeObserver) ParameterAdded(c *component.Component, p *component.Parameter) {
	e := o.e
	if !e.tree.Contains(c) || p.AutoGenerated {
		return
	}
	for _, inst := range c.Instances() {
		inst.Temporary[p.Name] = p.Value
		inst.Persistent[p.Name] = p.Value
	}
	e.parameterTouched(c, p)
	e.settle()
}

func (o treeObserver) ParameterRemoved(c *component.Component, p *component.Parameter) {
	e := o.e
	if !e.tree.Contains(c) || p.AutoGenerated {
		return
	}
	for _, inst := range c.Instances() {
		delete(inst.Temporary, p.Name)
		delete(inst.Persistent, p.Name)
	}
	e.parameterTouched(c, p)
	e.settle()
}

func (o treeObserver) ParameterValueChanged(c *component.Component, p *component.Parameter, old float64) {
	e := o.e
	if !e.tree.Contains(c) || p.AutoGenerated {
		return
	}
	for _, inst := range c.Instances() {
		gateParameter(inst, p)
	}
	e.parameterTouched(c, p)
	for _, b := range buildingRefs(c) {
		e.pending.buildingParams[b] = struct{}{}
	}
	e.settle()
}

func (o treeObserver) PropagateChangesToggled(inst *component.Instance, old bool) {
	e := o.e
	if !e.owned(inst) {
		return
	}
	if !old && inst.PropagateChanges() && catchUp(inst) {
		e.pending.touch(inst)
	}
	e.settle()
}

func (o treeObserver) InstanceTransformChanged(inst *component.Instance) {
	e := o.e
	if !e.owned(inst) {
		return
	}
	e.pushTransform(inst)
	e.settle()
}

func (o treeObserver) AssetsChanged(c *component.Component) {
	e := o.e
	if !e.tree.Contains(c) {
		return
	}
	for _, inst := range c.Instances() {
		e.applyAssetMesh(c, inst)
	}
	e.settle()
}

func (o treeObserver) SubComponentAdded(parent, child *component.Component) {
	e := o.e
	if !e.tree.Contains(child) {
		return
	}
	walkComponents(child, func(c *component.Component) {
		for _, inst := range c.Instances() {
			e.addInstance(c, inst)
		}
	})
	e.pending.touchCumulative(parent)
	e.settle()
}

func (o treeObserver) SubComponentRemoved(parent, child *component.Component) {
	e := o.e
	walkComponents(child, func(c *component.Component) {
		e.pending.dropped[c.ID] = struct{}{}
		for _, inst := range c.Instances() {
			e.dropInstance(inst)
		}
	})
	e.pending.touchCumulative(parent)
	e.pending.structural = true
	e.settle()
}

func (o treeObserver) ReferencesChanged(*component.Component) {}

// owned reports whether an instance belongs to a component of the tree.
func (e *Exchange) owned(inst *component.Instance) bool {
	return inst != nil && inst.Owner() != nil && e.tree.Contains(inst.Owner())
}

// addInstance registers the placements of a newly owned instance and
// seeds its parameter snapshots.
func (e *Exchange) addInstance(c *component.Component, inst *component.Instance) {
	for _, p := range c.Parameters() {
		if p.AutoGenerated {
			continue
		}
		inst.Temporary[p.Name] = p.Value
		inst.Persistent[p.Name] = p.Value
	}
	for _, p := range inst.Placements() {
		e.reg.register(p)
		e.pending.change(p.Target())
		if inst.Type == model.InstanceSiteBuilding {
			e.pending.buildings[p.Target()] = struct{}{}
		}
	}
	e.pending.touch(inst)
	e.pending.touchComponent(c)
	if inst.Type.IsNetwork() {
		e.pending.touchCumulative(c.Parent())
	}
	e.pending.structural = true
	e.applyAssetMesh(c, inst)
}

// dropInstance unregisters the placements of an instance leaving the tree.
func (e *Exchange) dropInstance(inst *component.Instance) {
	for _, p := range inst.Placements() {
		if !e.reg.unregister(p) {
			continue
		}
		e.pending.change(p.Target())
		if inst.Type == model.InstanceSiteBuilding {
			e.pending.buildings[p.Target()] = struct{}{}
		}
	}
	e.pending.structural = true
}

// parameterTouched queues the recompute a user parameter edit implies.
func (e *Exchange) parameterTouched(c *component.Component, p *component.Parameter) {
	if model.IsOffsetParameter(p.Name) {
		e.pending.offsets[c] = struct{}{}
	}
	if hasNetworkInstances(c) {
		e.pending.touchCumulative(c.Parent())
	}
}

func walkComponents(c *component.Component, fn func(*component.Component)) {
	fn(c)
	for _, ch := range c.SubComponents() {
		walkComponents(ch, fn)
	}
}

func hasNetworkInstances(c *component.Component) bool {
	for _, inst := range c.Instances() {
		if inst.Type.IsNetwork() {
			return true
		}
	}
	return false
}

// buildingRefs returns the buildings a component is placed on.
func buildingRefs(c *component.Component) []model.ElementRef {
	var out []model.ElementRef
	for _, inst := range c.Instances() {
		if inst.Type != model.InstanceSiteBuilding {
			continue
		}
		for _, p := range inst.Placements() {
			out = append(out, p.Target())
		}
	}
	return out
}
