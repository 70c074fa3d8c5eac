package component

// Observer receives every mutation of a tree. Callbacks run synchronously
// after the mutation is applied and may mutate the tree again.
type Observer interface {
	InstanceAdded(c *Component, inst *Instance)
	InstanceRemoved(c *Component, inst *Instance)
	PlacementAdded(inst *Instance, p Placement)
	PlacementRemoved(inst *Instance, p Placement)
	ParameterAdded(c *Component, p *Parameter)
	ParameterRemoved(c *Component, p *Parameter)
	ParameterValueChanged(c *Component, p *Parameter, old float64)
	PropagateChangesToggled(inst *Instance, old bool)
	InstanceTransformChanged(inst *Instance)
	AssetsChanged(c *Component)
	SubComponentAdded(parent, child *Component)
	SubComponentRemoved(parent, child *Component)
	ReferencesChanged(c *Component)
}

// NopObserver ignores every callback. Embed it to implement only a few.
type NopObserver struct{}

func (NopObserver) InstanceAdded(*Component, *Instance)                   {}
func (NopObserver) InstanceRemoved(*Component, *Instance)                 {}
func (NopObserver) PlacementAdded(*Instance, Placement)                   {}
func (NopObserver) PlacementRemoved(*Instance, Placement)                 {}
func (NopObserver) ParameterAdded(*Component, *Parameter)                 {}
func (NopObserver) ParameterRemoved(*Component, *Parameter)               {}
func (NopObserver) ParameterValueChanged(*Component, *Parameter, float64) {}
func (NopObserver) PropagateChangesToggled(*Instance, bool)               {}
func (NopObserver) InstanceTransformChanged(*Instance)                    {}
func (NopObserver) AssetsChanged(*Component)                              {}
func (NopObserver) SubComponentAdded(*Component, *Component)              {}
func (NopObserver) SubComponentRemoved(*Component, *Component)            {}
func (NopObserver) ReferencesChanged(*Component)                          {}

var _ Observer = NopObserver{}
