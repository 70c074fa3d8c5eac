package core

import (
	"sort"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
)

// registry is the reverse index from model elements to the placements
// realized on them. It holds placements only; instances and components are
// reached through the placement back-pointers, so dropping a placement
// from the registry leaves nothing else pointing at it.
//
// register and unregister are the only mutation paths.
type registry struct {
	seq   uint64
	order map[component.Placement]uint64

	byRef   map[model.ElementRef]map[component.Placement]struct{}
	byModel map[model.ModelID]map[model.ElementRef]int

	related   map[model.ElementRef]map[component.Placement]struct{}
	relatedOf map[component.Placement][]model.ElementRef
}

func newRegistry() *registry {
	return &registry{
		order:     make(map[component.Placement]uint64),
		byRef:     make(map[model.ElementRef]map[component.Placement]struct{}),
		byModel:   make(map[model.ModelID]map[model.ElementRef]int),
		related:   make(map[model.ElementRef]map[component.Placement]struct{}),
		relatedOf: make(map[component.Placement][]model.ElementRef),
	}
}

// register indexes a placement under its target and related elements. It
// reports false when the placement was already registered.
func (r *registry) register(p component.Placement) bool {
	if _, ok := r.order[p]; ok {
		return false
	}
	r.seq++
	r.order[p] = r.seq

	ref := p.Target()
	set, ok := r.byRef[ref]
	if !ok {
		set = make(map[component.Placement]struct{})
		r.byRef[ref] = set
	}
	set[p] = struct{}{}

	refs, ok := r.byModel[ref.Model]
	if !ok {
		refs = make(map[model.ElementRef]int)
		r.byModel[ref.Model] = refs
	}
	refs[ref]++

	r.indexRelated(p)
	return true
}

// unregister drops every index entry of a placement. It reports false when
// the placement was not registered.
func (r *registry) unregister(p component.Placement) bool {
	if _, ok := r.order[p]; !ok {
		return false
	}
	delete(r.order, p)

	ref := p.Target()
	if set, ok := r.byRef[ref]; ok {
		delete(set, p)
		if len(set) == 0 {
			delete(r.byRef, ref)
		}
	}
	if refs, ok := r.byModel[ref.Model]; ok {
		refs[ref]--
		if refs[ref] <= 0 {
			delete(refs, ref)
		}
		if len(refs) == 0 {
			delete(r.byModel, ref.Model)
		}
	}
	r.dropRelated(p)
	return true
}

// reindexRelated refreshes the related index after a placement's related
// ids changed.
func (r *registry) reindexRelated(p component.Placement) {
	if _, ok := r.order[p]; !ok {
		return
	}
	r.dropRelated(p)
	r.indexRelated(p)
}

func (r *registry) indexRelated(p component.Placement) {
	gp, ok := p.(*component.GeometryPlacement)
	if !ok || len(gp.Related) == 0 {
		return
	}
	refs := make([]model.ElementRef, 0, len(gp.Related))
	for _, id := range gp.Related {
		ref := model.Ref(gp.Ref.Model, id)
		set, ok := r.related[ref]
		if !ok {
			set = make(map[component.Placement]struct{})
			r.related[ref] = set
		}
		set[p] = struct{}{}
		refs = append(refs, ref)
	}
	r.relatedOf[p] = refs
}

func (r *registry) dropRelated(p component.Placement) {
	for _, ref := range r.relatedOf[p] {
		if set, ok := r.related[ref]; ok {
			delete(set, p)
			if len(set) == 0 {
				delete(r.related, ref)
			}
		}
	}
	delete(r.relatedOf, p)
}

func (r *registry) has(p component.Placement) bool {
	_, ok := r.order[p]
	return ok
}

func (r *registry) sorted(set map[component.Placement]struct{}) []component.Placement {
	out := make([]component.Placement, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i]] < r.order[out[j]] })
	return out
}

// placements returns the placements targeting ref in registration order.
func (r *registry) placements(ref model.ElementRef) []component.Placement {
	return r.sorted(r.byRef[ref])
}

// relatedTo returns the placements that list ref among their related ids.
func (r *registry) relatedTo(ref model.ElementRef) []component.Placement {
	return r.sorted(r.related[ref])
}

// refsOfModel returns every targeted element of a model.
func (r *registry) refsOfModel(id model.ModelID) []model.ElementRef {
	refs := r.byModel[id]
	out := make([]model.ElementRef, 0, len(refs))
	for ref := range refs {
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}

// all returns every registered placement in registration order.
func (r *registry) all() []component.Placement {
	out := make([]component.Placement, 0, len(r.order))
	for p := range r.order {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i]] < r.order[out[j]] })
	return out
}

func (r *registry) len() int { return len(r.order) }

// empty reports whether no index holds any entry.
func (r *registry) empty() bool {
	return len(r.order) == 0 && len(r.byRef) == 0 && len(r.byModel) == 0 &&
		len(r.related) == 0 && len(r.relatedOf) == 0
}

func sortRefs(refs []model.ElementRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Model != refs[j].Model {
			return refs[i].Model < refs[j].Model
		}
		return refs[i].Element < refs[j].Element
	})
}

func sortElementIDs(ids []model.ElementID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
