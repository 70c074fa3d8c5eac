package core

import (
	"math"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// reachesPersistent is the propagation matrix: whether a component value
// change is committed to an instance's persistent snapshot.
func reachesPersistent(mode model.PropagationMode, propagate bool) bool {
	switch mode {
	case model.PropagateAlways:
		return true
	case model.PropagateIfInstance:
		return propagate
	default:
		return false
	}
}

// gateParameter applies one component value change to an instance. The
// temporary snapshot always tracks the live value.
func gateParameter(inst *component.Instance, p *component.Parameter) {
	inst.Temporary[p.Name] = p.Value
	if reachesPersistent(p.Propagation, inst.PropagateChanges()) {
		inst.Persistent[p.Name] = p.Value
	}
}

// catchUp commits every IfInstance parameter of the owner to the
// persistent snapshot after propagation was switched on. It reports
// whether an offset parameter changed.
func catchUp(inst *component.Instance) bool {
	offsets := false
	for _, p := range inst.Owner().Parameters() {
		if p.AutoGenerated || p.Propagation != model.PropagateIfInstance {
			continue
		}
		inst.Temporary[p.Name] = p.Value
		if cur, ok := inst.Persistent[p.Name]; ok && sameFloat(cur, p.Value) {
			continue
		}
		inst.Persistent[p.Name] = p.Value
		if model.IsOffsetParameter(p.Name) {
			offsets = true
		}
	}
	return offsets
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}
