// Package component is the component/parameter tree: components carry
// ordered parameters, instances realized on model elements, nested
// sub-components, references to other components and attached assets.
//
// A Tree is single-writer. Every mutation is reported to the tree's
// Observer, which is how the association engine keeps its indices in sync.
package component

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/model"
)

var (
	ErrNotOwned           = errors.New("component element is owned elsewhere")
	ErrDuplicateParameter = errors.New("parameter already exists")
	ErrParameterNotFound  = errors.New("parameter not found")
)

// Parameter is a named numeric component value. NaN means unavailable.
type Parameter struct {
	Name          string
	Value         float64
	Unit          string
	AutoGenerated bool
	Propagation   model.PropagationMode
}

// Reference links a component to another one under a slot name.
type Reference struct {
	Slot   string
	Target uuid.UUID
}

// Asset is an external resource attached to a component. A mesh asset
// replaces the proxy geometry of the component's instances.
type Asset struct {
	ID   string
	Mesh *kernel.Mesh
}

// Tree owns a root component and all components below it.
type Tree struct {
	root     *Component
	byID     map[uuid.UUID]*Component
	observer Observer
}

// NewTree creates a tree with an empty root component.
func NewTree(rootName string) *Tree {
	t := &Tree{byID: make(map[uuid.UUID]*Component), observer: NopObserver{}}
	t.root = NewComponent(rootName)
	t.adopt(t.root)
	return t
}

// SetObserver installs the tree observer; nil resets it to a no-op.
func (t *Tree) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	t.observer = o
}

// Root returns the root component.
func (t *Tree) Root() *Component { return t.root }

// Component looks up a component by id.
func (t *Tree) Component(id uuid.UUID) (*Component, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Contains reports whether c is attached to this tree.
func (t *Tree) Contains(c *Component) bool {
	if c == nil {
		return false
	}
	got, ok := t.byID[c.ID]
	return ok && got == c
}

// Walk visits every component depth-first, parents before children.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(*Component) bool) {
	walk(t.root, fn)
}

func walk(c *Component, fn func(*Component) bool) bool {
	if !fn(c) {
		return false
	}
	for _, ch := range c.children {
		if !walk(ch, fn) {
			return false
		}
	}
	return true
}

// Instance looks up an instance anywhere in the tree.
func (t *Tree) Instance(id uuid.UUID) (*Instance, bool) {
	var found *Instance
	t.Walk(func(c *Component) bool {
		for _, inst := range c.instances {
			if inst.ID == id {
				found = inst
				return false
			}
		}
		return true
	})
	return found, found != nil
}

func (t *Tree) adopt(c *Component) {
	walk(c, func(x *Component) bool {
		x.tree = t
		t.byID[x.ID] = x
		return true
	})
}

func (t *Tree) release(c *Component) {
	walk(c, func(x *Component) bool {
		x.tree = nil
		delete(t.byID, x.ID)
		return true
	})
}

// Component is a node of the tree.
type Component struct {
	ID        uuid.UUID
	Name      string
	Slot      string
	Generated bool

	// State is the worst-case connection state over the instances,
	// maintained by the association engine.
	State model.InstanceState

	tree      *Tree
	parent    *Component
	params    []*Parameter
	instances []*Instance
	children  []*Component
	refs      []Reference
	assets    []Asset
}

// NewComponent creates a detached component.
func NewComponent(name string) *Component {
	return &Component{ID: uuid.New(), Name: name}
}

func (c *Component) observer() Observer {
	if c.tree == nil {
		return NopObserver{}
	}
	return c.tree.observer
}

// Tree returns the tree the component is attached to, or nil.
func (c *Component) Tree() *Tree { return c.tree }

// Parent returns the parent component, or nil for roots and detached
// components.
func (c *Component) Parent() *Component { return c.parent }

//
// ---------- Parameters ----------
//

// Parameters returns the parameters in insertion order.
func (c *Component) Parameters() []*Parameter {
	return append([]*Parameter(nil), c.params...)
}

// Parameter looks up a parameter by name.
func (c *Component) Parameter(name string) (*Parameter, bool) {
	for _, p := range c.params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Value returns a parameter value, NaN when the parameter does not exist.
func (c *Component) Value(name string) float64 {
	if p, ok := c.Parameter(name); ok {
		return p.Value
	}
	return math.NaN()
}

// AddParameter appends a parameter. Names are unique per component.
func (c *Component) AddParameter(p Parameter) (*Parameter, error) {
	if _, ok := c.Parameter(p.Name); ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrDuplicateParameter, p.Name, c.Name)
	}
	np := p
	c.params = append(c.params, &np)
	c.observer().ParameterAdded(c, &np)
	return &np, nil
}

// RemoveParameter deletes a parameter by name.
func (c *Component) RemoveParameter(name string) bool {
	for i, p := range c.params {
		if p.Name == name {
			c.params = append(c.params[:i], c.params[i+1:]...)
			c.observer().ParameterRemoved(c, p)
			return true
		}
	}
	return false
}

// SetParameter changes a parameter value. Setting an equal value (NaN
// equals NaN) is a no-op.
func (c *Component) SetParameter(name string, v float64) error {
	p, ok := c.Parameter(name)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrParameterNotFound, name, c.Name)
	}
	if sameValue(p.Value, v) {
		return nil
	}
	old := p.Value
	p.Value = v
	c.observer().ParameterValueChanged(c, p, old)
	return nil
}

func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

//
// ---------- Instances ----------
//

// Instances returns the instances in insertion order.
func (c *Component) Instances() []*Instance {
	return append([]*Instance(nil), c.instances...)
}

// AddInstance attaches a detached instance to the component.
func (c *Component) AddInstance(inst *Instance) error {
	if inst.owner != nil {
		return fmt.Errorf("%w: instance %s", ErrNotOwned, inst.ID)
	}
	inst.owner = c
	c.instances = append(c.instances, inst)
	c.observer().InstanceAdded(c, inst)
	return nil
}

// RemoveInstance detaches an instance. Its placements stay on the
// instance, but the instance is no longer realized by this component.
func (c *Component) RemoveInstance(inst *Instance) error {
	for i, x := range c.instances {
		if x == inst {
			c.instances = append(c.instances[:i], c.instances[i+1:]...)
			c.observer().InstanceRemoved(c, inst)
			inst.owner = nil
			return nil
		}
	}
	return fmt.Errorf("%w: instance %s not in %s", ErrNotOwned, inst.ID, c.Name)
}

// ClearInstances removes every instance.
func (c *Component) ClearInstances() {
	for len(c.instances) > 0 {
		_ = c.RemoveInstance(c.instances[len(c.instances)-1])
	}
}

//
// ---------- Sub-components ----------
//

// SubComponents returns the direct children in insertion order.
func (c *Component) SubComponents() []*Component {
	return append([]*Component(nil), c.children...)
}

// SubComponentBySlot returns the child with the given slot.
func (c *Component) SubComponentBySlot(slot string) (*Component, bool) {
	for _, ch := range c.children {
		if ch.Slot == slot {
			return ch, true
		}
	}
	return nil, false
}

// AddSubComponent attaches a detached component as the last child.
func (c *Component) AddSubComponent(child *Component) error {
	if child.parent != nil || child.tree != nil {
		return fmt.Errorf("%w: component %s", ErrNotOwned, child.Name)
	}
	child.parent = c
	c.children = append(c.children, child)
	if c.tree != nil {
		c.tree.adopt(child)
	}
	c.observer().SubComponentAdded(c, child)
	return nil
}

// RemoveSubComponent detaches a child together with its subtree.
func (c *Component) RemoveSubComponent(child *Component) error {
	for i, x := range c.children {
		if x == child {
			obs := c.observer()
			c.children = append(c.children[:i], c.children[i+1:]...)
			obs.SubComponentRemoved(c, child)
			if c.tree != nil {
				c.tree.release(child)
			}
			child.parent = nil
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a child of %s", ErrNotOwned, child.Name, c.Name)
}

//
// ---------- References and assets ----------
//

// References returns the outgoing references.
func (c *Component) References() []Reference {
	return append([]Reference(nil), c.refs...)
}

// HasReference reports whether the reference exists.
func (c *Component) HasReference(slot string, target uuid.UUID) bool {
	for _, r := range c.refs {
		if r.Slot == slot && r.Target == target {
			return true
		}
	}
	return false
}

// AddReference adds a reference unless it already exists.
func (c *Component) AddReference(slot string, target uuid.UUID) bool {
	if c.HasReference(slot, target) {
		return false
	}
	c.refs = append(c.refs, Reference{Slot: slot, Target: target})
	c.observer().ReferencesChanged(c)
	return true
}

// RemoveReference deletes a reference.
func (c *Component) RemoveReference(slot string, target uuid.UUID) bool {
	for i, r := range c.refs {
		if r.Slot == slot && r.Target == target {
			c.refs = append(c.refs[:i], c.refs[i+1:]...)
			c.observer().ReferencesChanged(c)
			return true
		}
	}
	return false
}

// Assets returns the attached assets.
func (c *Component) Assets() []Asset {
	return append([]Asset(nil), c.assets...)
}

// AddAsset attaches an asset, replacing one with the same id.
func (c *Component) AddAsset(a Asset) {
	for i, x := range c.assets {
		if x.ID == a.ID {
			c.assets[i] = a
			c.observer().AssetsChanged(c)
			return
		}
	}
	c.assets = append(c.assets, a)
	c.observer().AssetsChanged(c)
}

// RemoveAsset detaches an asset by id.
func (c *Component) RemoveAsset(id string) bool {
	for i, x := range c.assets {
		if x.ID == id {
			c.assets = append(c.assets[:i], c.assets[i+1:]...)
			c.observer().AssetsChanged(c)
			return true
		}
	}
	return false
}

// MeshAsset returns the first attached asset carrying a mesh.
func (c *Component) MeshAsset() (*kernel.Mesh, bool) {
	for _, a := range c.assets {
		if a.Mesh != nil {
			return a.Mesh, true
		}
	}
	return nil, false
}
