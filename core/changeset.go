package core

import (
	"github.com/google/uuid"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// changeSet is the pending work of one flush pass. Callbacks only add to
// it; pass consumes it.
type changeSet struct {
	changed    map[model.ElementRef]struct{}
	removed    map[model.ElementRef]struct{}
	structural bool

	// models were loaded, unloaded or swapped.
	models map[model.ModelID]struct{}

	instances  map[*component.Instance]struct{}
	components map[*component.Component]struct{}
	offsets    map[*component.Component]struct{}
	cumulative map[*component.Component]struct{}

	buildings      map[model.ElementRef]struct{}
	buildingParams map[model.ElementRef]struct{}

	// dropped are ids of components removed from the tree.
	dropped map[uuid.UUID]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		changed:        make(map[model.ElementRef]struct{}),
		removed:        make(map[model.ElementRef]struct{}),
		models:         make(map[model.ModelID]struct{}),
		instances:      make(map[*component.Instance]struct{}),
		components:     make(map[*component.Component]struct{}),
		offsets:        make(map[*component.Component]struct{}),
		cumulative:     make(map[*component.Component]struct{}),
		buildings:      make(map[model.ElementRef]struct{}),
		buildingParams: make(map[model.ElementRef]struct{}),
		dropped:        make(map[uuid.UUID]struct{}),
	}
}

func (cs *changeSet) empty() bool {
	return len(cs.changed) == 0 && len(cs.removed) == 0 && len(cs.models) == 0 &&
		len(cs.instances) == 0 && len(cs.components) == 0 && len(cs.offsets) == 0 &&
		len(cs.cumulative) == 0 && len(cs.buildings) == 0 && len(cs.buildingParams) == 0 &&
		len(cs.dropped) == 0
}

func (cs *changeSet) change(refs ...model.ElementRef) {
	for _, ref := range refs {
		cs.changed[ref] = struct{}{}
	}
}

func (cs *changeSet) remove(refs ...model.ElementRef) {
	for _, ref := range refs {
		cs.removed[ref] = struct{}{}
	}
}

func (cs *changeSet) touch(inst *component.Instance) {
	if inst != nil {
		cs.instances[inst] = struct{}{}
	}
}

func (cs *changeSet) touchComponent(c *component.Component) {
	if c != nil {
		cs.components[c] = struct{}{}
	}
}

func (cs *changeSet) touchCumulative(parent *component.Component) {
	if parent != nil {
		cs.cumulative[parent] = struct{}{}
	}
}

// outcome accumulates what a flush reports across its passes.
type outcome struct {
	invalidated    map[model.ElementRef]struct{}
	buildings      map[model.ElementRef]struct{}
	buildingParams map[model.ElementRef]struct{}
	instances      int
}

func newOutcome() *outcome {
	return &outcome{
		invalidated:    make(map[model.ElementRef]struct{}),
		buildings:      make(map[model.ElementRef]struct{}),
		buildingParams: make(map[model.ElementRef]struct{}),
	}
}

func refList(set map[model.ElementRef]struct{}) []model.ElementRef {
	out := make([]model.ElementRef, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}
