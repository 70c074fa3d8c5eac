package core

import (
	"math"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// AggregateKind is how per-instance values fold into a component
// parameter.
type AggregateKind int

const (
	AggregateSum AggregateKind = iota
	AggregateCount
	AggregateMin
	AggregateMax
)

func (k AggregateKind) String() string {
	switch k {
	case AggregateSum:
		return "sum"
	case AggregateCount:
		return "count"
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	default:
		return "unknown"
	}
}

// MissingPolicy is how an instance whose targets are all missing
// contributes to an aggregate.
type MissingPolicy int

const (
	// MissingZero contributes the neutral value: nothing to sums and
	// counts, 0 to minima and maxima.
	MissingZero MissingPolicy = iota
	// MissingExclude skips the instance.
	MissingExclude
	// MissingNaN makes the aggregate unavailable.
	MissingNaN
)

func (p MissingPolicy) String() string {
	switch p {
	case MissingZero:
		return "zero"
	case MissingExclude:
		return "exclude"
	case MissingNaN:
		return "nan"
	default:
		return "unknown"
	}
}

// ParseMissingPolicy maps a policy name to its value.
func ParseMissingPolicy(s string) (MissingPolicy, bool) {
	switch s {
	case "zero":
		return MissingZero, true
	case "exclude":
		return MissingExclude, true
	case "nan":
		return MissingNaN, true
	}
	return MissingZero, false
}

func defaultPolicies() map[AggregateKind]MissingPolicy {
	return map[AggregateKind]MissingPolicy{
		AggregateSum:   MissingZero,
		AggregateCount: MissingZero,
		AggregateMin:   MissingExclude,
		AggregateMax:   MissingExclude,
	}
}

// aggregator folds values of one aggregate kind.
type aggregator struct {
	kind   AggregateKind
	policy MissingPolicy
	value  float64
	seen   bool
	nan    bool
}

func newAggregator(kind AggregateKind, policy MissingPolicy) *aggregator {
	return &aggregator{kind: kind, policy: policy}
}

func (a *aggregator) add(v float64) {
	if math.IsNaN(v) {
		a.nan = true
		return
	}
	if !a.seen {
		a.seen = true
		switch a.kind {
		case AggregateCount:
			a.value = 1
		default:
			a.value = v
		}
		return
	}
	switch a.kind {
	case AggregateSum:
		a.value += v
	case AggregateCount:
		a.value++
	case AggregateMin:
		a.value = math.Min(a.value, v)
	case AggregateMax:
		a.value = math.Max(a.value, v)
	}
}

func (a *aggregator) addMissing() {
	switch a.policy {
	case MissingNaN:
		a.nan = true
	case MissingZero:
		if a.kind == AggregateMin || a.kind == AggregateMax {
			a.add(0)
		}
	}
}

func (a *aggregator) result() float64 {
	if a.nan {
		return math.NaN()
	}
	if !a.seen {
		if a.kind == AggregateMin || a.kind == AggregateMax {
			return math.NaN()
		}
		return 0
	}
	return a.value
}

// paramSpec describes one reserved parameter written by recompute.
type paramSpec struct {
	name    string
	unit    string
	kind    AggregateKind
	measure string
	types   []model.InstanceType
}

var allTypes = []model.InstanceType{
	model.InstancePoint, model.InstanceEdge, model.InstanceFace, model.InstanceVolume,
	model.InstanceEntity3D, model.InstanceNetworkNode, model.InstanceNetworkEdge,
	model.InstanceSiteBuilding,
}

var paramSpecs = []paramSpec{
	{name: model.ParamCount, kind: AggregateCount, types: allTypes},
	{name: model.ParamLength, unit: "m", kind: AggregateSum, measure: model.MeasureLength,
		types: []model.InstanceType{model.InstanceEdge, model.InstanceNetworkEdge}},
	{name: model.ParamArea, unit: "m2", kind: AggregateSum, measure: model.MeasureArea,
		types: []model.InstanceType{model.InstanceFace}},
	{name: model.ParamAreaMin, unit: "m2", kind: AggregateSum, measure: model.MeasureAreaMin,
		types: []model.InstanceType{model.InstanceFace}},
	{name: model.ParamAreaMax, unit: "m2", kind: AggregateSum, measure: model.MeasureAreaMax,
		types: []model.InstanceType{model.InstanceFace}},
	{name: model.ParamVolume, unit: "m3", kind: AggregateSum, measure: model.MeasureVolume,
		types: []model.InstanceType{model.InstanceVolume}},
	{name: model.ParamEnvelopeArea, unit: "m2", kind: AggregateSum, measure: model.MeasureEnvelope,
		types: []model.InstanceType{model.InstanceVolume}},
	{name: model.ParamFloorArea, unit: "m2", kind: AggregateSum, measure: model.MeasureFloorArea,
		types: []model.InstanceType{model.InstanceVolume}},
	{name: model.ParamFloorPerim, unit: "m", kind: AggregateSum, measure: model.MeasureFloorPeri,
		types: []model.InstanceType{model.InstanceVolume}},
	{name: model.ParamHeight, unit: "m", kind: AggregateMax, measure: model.MeasureHeight,
		types: []model.InstanceType{model.InstanceVolume}},
}

func (s paramSpec) appliesTo(t model.InstanceType) bool {
	for _, x := range s.types {
		if x == t {
			return true
		}
	}
	return false
}

func specByName(name string) (paramSpec, bool) {
	for _, s := range paramSpecs {
		if s.name == name {
			return s, true
		}
	}
	return paramSpec{}, false
}

// ensureParameters creates the reserved parameters for every instance type
// present on c. Parameters are never removed again, so a component keeps
// reporting a zero count after its last instance goes away. A user
// parameter with a reserved name is left alone.
func ensureParameters(c *component.Component) {
	for _, inst := range c.Instances() {
		for _, s := range paramSpecs {
			if !s.appliesTo(inst.Type) {
				continue
			}
			if _, ok := c.Parameter(s.name); ok {
				continue
			}
			_, _ = c.AddParameter(component.Parameter{Name: s.name, Unit: s.unit, AutoGenerated: true})
		}
	}
}

// writeAggregates folds the instance measures of c into its generated
// parameters.
func (e *Exchange) writeAggregates(c *component.Component) {
	instances := c.Instances()
	for _, p := range c.Parameters() {
		if !p.AutoGenerated {
			continue
		}
		s, ok := specByName(p.Name)
		if !ok {
			continue
		}
		agg := newAggregator(s.kind, e.policies[s.kind])
		for _, inst := range instances {
			if !s.appliesTo(inst.Type) || !inst.State.IsRealized {
				continue
			}
			if allMissing(inst) {
				agg.addMissing()
				continue
			}
			if s.kind == AggregateCount {
				agg.add(1)
				continue
			}
			agg.add(inst.Derived[s.measure])
		}
		_ = c.SetParameter(p.Name, agg.result())
	}
}

// allMissing reports whether no placement of the instance resolves.
func allMissing(inst *component.Instance) bool {
	ps := inst.Placements()
	if len(ps) == 0 {
		return false
	}
	for _, p := range ps {
		if p.PlacementState() == model.PlacementValid {
			return false
		}
	}
	return true
}

// updateState reduces the instance states of c to the worst case.
func updateState(c *component.Component) {
	st := model.InstanceState{Connection: model.ConnectionOk}
	for _, inst := range c.Instances() {
		if inst.State.IsRealized {
			st.IsRealized = true
		}
		if inst.State.Connection == model.ConnectionGeometryNotFound {
			st.Connection = model.ConnectionGeometryNotFound
		}
	}
	c.State = st
}
