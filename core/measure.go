package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/model"
)

// measure recomputes the derived values of an instance from its valid
// placements. Values of several placements are summed, heights take the
// maximum. A degenerate element turns the affected values into NaN and
// leaves the rest alone.
func (e *Exchange) measure(ctx context.Context, log logging.Logger, inst *component.Instance) {
	d := make(map[string]float64)
	for _, p := range inst.Placements() {
		if p.PlacementState() != model.PlacementValid {
			continue
		}
		ref := p.Target()
		switch inst.Type {
		case model.InstanceEdge:
			if g, ok := e.store.Geometry(ref.Model); ok {
				d[model.MeasureLength] += linearLength(g, ref.Element)
			}
		case model.InstanceFace:
			g, ok := e.store.Geometry(ref.Model)
			if !ok {
				continue
			}
			a, per := areaAndPerimeter(g, ref.Element)
			dIn := offsetValue(inst, model.ParamOffsetInner)
			dOut := offsetValue(inst, model.ParamOffsetOuter)
			d[model.MeasureArea] += a
			d[model.MeasurePerimeter] += per
			d[model.MeasureAreaMin] += math.Max(0, a-per*dIn)
			d[model.MeasureAreaMax] += a + per*dOut
		case model.InstanceVolume:
			g, ok := e.store.Geometry(ref.Model)
			if !ok {
				continue
			}
			vm := geometry.MeasureVolume(g, ref.Element)
			d[model.MeasureVolume] += vm.Volume
			d[model.MeasureEnvelope] += vm.EnvelopeArea
			d[model.MeasureFloorArea] += vm.FloorArea
			d[model.MeasureFloorPeri] += vm.FloorPerimeter
			if h, ok := d[model.MeasureHeight]; !ok || vm.Height > h || math.IsNaN(vm.Height) {
				d[model.MeasureHeight] = vm.Height
			}
		case model.InstanceNetworkEdge:
			d[model.MeasureLength] += pathLength(e.networkEdgePath(ref))
		}
	}
	for k, v := range d {
		if math.IsNaN(v) {
			log.Warn(ctx, "degenerate geometry",
				logging.String("instance", inst.ID.String()),
				logging.String("measure", k),
			)
		}
	}
	inst.Derived = d
}

// linearLength is the length of an edge or the summed edge lengths of a
// polyline.
func linearLength(g *geometry.Model, id model.ElementID) float64 {
	k, _ := g.Kind(id)
	switch k {
	case geometry.KindEdge:
		return geometry.EdgeLength(g, id)
	case geometry.KindPolyline:
		pl, _ := g.Polyline(id)
		if len(pl.Edges) == 0 {
			return math.NaN()
		}
		var l float64
		for _, edge := range pl.Edges {
			l += geometry.EdgeLength(g, edge)
		}
		return l
	}
	return math.NaN()
}

// areaAndPerimeter measures a face or a bare edge loop.
func areaAndPerimeter(g *geometry.Model, id model.ElementID) (float64, float64) {
	k, _ := g.Kind(id)
	switch k {
	case geometry.KindFace:
		return geometry.FaceArea(g, id), geometry.FacePerimeter(g, id)
	case geometry.KindEdgeLoop:
		pts, ok := geometry.LoopPoints(g, id)
		if !ok {
			return math.NaN(), math.NaN()
		}
		return geometry.PolygonArea(pts), geometry.PolygonPerimeter(pts)
	}
	return math.NaN(), math.NaN()
}

// offsetValue reads an offset from the persistent snapshot. Unset or
// unavailable offsets are 0.
func offsetValue(inst *component.Instance, name string) float64 {
	v, ok := inst.Persistent[name]
	if !ok && inst.Owner() != nil {
		v = inst.Owner().Value(name)
	}
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func pathLength(pts []model.Vec3) float64 {
	if len(pts) < 2 {
		return 0
	}
	var l float64
	for i := 1; i < len(pts); i++ {
		l += pts[i-1].DistanceTo(pts[i])
	}
	return l
}
