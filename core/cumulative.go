package core

import (
	"sort"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

const (
	// SlotCumulative is the slot of the generated aggregation child.
	SlotCumulative = "cumulative"

	cumulativeName = "Cumulative"
)

// cumulativeMembers are the user sub-components of parent that carry
// network instances.
func cumulativeMembers(parent *component.Component) []*component.Component {
	var out []*component.Component
	for _, ch := range parent.SubComponents() {
		if !ch.Generated && hasNetworkInstances(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// sharedParameters lists the user parameter names present on every
// member, in the order of the first member.
func sharedParameters(members []*component.Component) []string {
	if len(members) == 0 {
		return nil
	}
	var out []string
	for _, p := range members[0].Parameters() {
		if p.AutoGenerated {
			continue
		}
		shared := true
		for _, m := range members[1:] {
			if q, ok := m.Parameter(p.Name); !ok || q.AutoGenerated {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, p.Name)
		}
	}
	return out
}

// refreshCumulative maintains the Cumulative child of parent: min, max and
// sum of every shared parameter over all network instances of the members,
// plus the instance count. The child goes away with the last member.
func (e *Exchange) refreshCumulative(parent *component.Component) {
	members := cumulativeMembers(parent)
	node, exists := parent.SubComponentBySlot(SlotCumulative)
	if len(members) == 0 {
		if exists && node.Generated {
			_ = parent.RemoveSubComponent(node)
		}
		return
	}
	if !exists {
		node = component.NewComponent(cumulativeName)
		node.Slot = SlotCumulative
		node.Generated = true
		_ = parent.AddSubComponent(node)
	} else if !node.Generated {
		return
	}

	values := make(map[string]float64)
	var instances []*component.Instance
	for _, m := range members {
		for _, inst := range m.Instances() {
			if inst.Type.IsNetwork() {
				instances = append(instances, inst)
			}
		}
	}
	values[model.ParamInstanceCount] = float64(len(instances))

	for _, name := range sharedParameters(members) {
		aggs := map[string]*aggregator{
			name + ".min": newAggregator(AggregateMin, e.policies[AggregateMin]),
			name + ".max": newAggregator(AggregateMax, e.policies[AggregateMax]),
			name + ".sum": newAggregator(AggregateSum, e.policies[AggregateSum]),
		}
		for _, inst := range instances {
			v, ok := inst.Persistent[name]
			if !ok {
				v = inst.Owner().Value(name)
			}
			for _, agg := range aggs {
				if allMissing(inst) {
					agg.addMissing()
				} else {
					agg.add(v)
				}
			}
		}
		for key, agg := range aggs {
			values[key] = agg.result()
		}
	}

	for _, p := range node.Parameters() {
		if _, ok := values[p.Name]; !ok && p.AutoGenerated {
			node.RemoveParameter(p.Name)
		}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := values[name]
		if p, ok := node.Parameter(name); ok {
			if p.AutoGenerated {
				_ = node.SetParameter(name, v)
			}
			continue
		}
		_, _ = node.AddParameter(component.Parameter{Name: name, Value: v, AutoGenerated: true})
	}
}

