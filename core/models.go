package core

import (
	"context"

	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
	"github.com/signalsfoundry/geoexchange/site"
)

// onStoreEvent re-resolves every placement of a model that was loaded,
// unloaded or swapped.
func (e *Exchange) onStoreEvent(ev kb.Event) {
	switch ev.Type {
	case kb.EventModelLoaded:
		e.attach(ev.Model)
	case kb.EventModelUnloaded:
		e.detach(ev.Model)
	case kb.EventModelReplaced:
		e.detach(ev.Model)
		e.attach(ev.Model)
	}
	e.pending.models[ev.Model] = struct{}{}
	e.pending.structural = true
	e.log.Info(context.Background(), "model "+ev.Type.String(),
		logging.String("model", string(ev.Model)),
		logging.String("kind", ev.Kind.String()),
	)
	e.settle()
}

// attach subscribes to a loaded model.
func (e *Exchange) attach(id model.ModelID) {
	if _, ok := e.attached[id]; ok {
		return
	}
	switch e.store.Kind(id) {
	case model.ModelKindGeometry:
		g, _ := e.store.Geometry(id)
		e.attached[id] = g.Subscribe(e.onGeometryEvent)
	case model.ModelKindNetwork:
		n, _ := e.store.Network(id)
		e.attached[id] = n.Subscribe(e.onNetworkEvent)
	case model.ModelKindSite:
		s, _ := e.store.Site(id)
		e.attached[id] = s.Subscribe(e.onSiteEvent)
	}
}

// detach drops the subscription to a model. A batch the model left open
// no longer defers recompute.
func (e *Exchange) detach(id model.ModelID) {
	if unsub, ok := e.attached[id]; ok {
		unsub()
		delete(e.attached, id)
	}
	if n := e.modelBatch[id]; n > 0 {
		e.batch -= n
		delete(e.modelBatch, id)
	}
}

// IsConnected reports whether a model is loaded in the store and the
// exchange is attached to it.
func (e *Exchange) IsConnected(id model.ModelID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.attached[id]
	return ok && e.store.Has(id)
}

// openModelBatch and closeModelBatch mirror a model batch onto the
// exchange batch counter.
func (e *Exchange) openModelBatch(id model.ModelID) {
	e.modelBatch[id]++
	e.batch++
}

func (e *Exchange) closeModelBatch(id model.ModelID) {
	if e.modelBatch[id] > 0 {
		e.modelBatch[id]--
		e.batch--
	}
}

func (e *Exchange) onGeometryEvent(ev geometry.Event) {
	switch ev.Type {
	case geometry.EventBatchStarted:
		e.openModelBatch(ev.Model)
		return
	case geometry.EventBatchEnded:
		e.closeModelBatch(ev.Model)
	case geometry.EventChanged:
		for _, id := range ev.Changed {
			e.pending.change(model.Ref(ev.Model, id))
		}
		for _, id := range ev.Removed {
			e.pending.remove(model.Ref(ev.Model, id))
		}
		if ev.Structural {
			e.pending.structural = true
		}
		e.snapNodeVertices(ev.Model, ev.Changed)
	}
	e.settle()
}

func (e *Exchange) onNetworkEvent(ev network.Event) {
	switch ev.Type {
	case network.EventBatchStarted:
		e.openModelBatch(ev.Model)
		return
	case network.EventBatchEnded:
		e.closeModelBatch(ev.Model)
		e.settle()
		return
	}

	if b, ok := e.bridges[ev.Model]; ok {
		e.batch++
		e.syncBridge(b, ev)
		e.batch--
	}

	ref := model.Ref(ev.Model, ev.Element)
	switch ev.Type {
	case network.EventNodeRemoved, network.EventEdgeRemoved:
		e.pending.remove(ref)
		e.pending.structural = true
	case network.EventNodeMoved, network.EventEntryChanged:
		e.pending.change(ref)
	case network.EventEdgeRedirected:
		e.pending.change(ref, model.Ref(ev.Model, ev.OldNode), model.Ref(ev.Model, ev.NewNode))
		e.pending.structural = true
	default:
		e.pending.change(ref)
		e.pending.structural = true
	}
	if ev.Node.Owner != 0 {
		e.pending.change(model.Ref(ev.Model, ev.Node.Owner))
	}
	e.settle()
}

func (e *Exchange) onSiteEvent(ev site.Event) {
	ref := model.Ref(ev.Model, ev.Building)
	switch ev.Type {
	case site.EventBuildingRemoved:
		e.pending.remove(ref)
	default:
		e.pending.change(ref)
	}
	e.pending.structural = true
	e.settle()
}
