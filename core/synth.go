package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/model"
)

const (
	facePrefix = "face:"
	holePrefix = "hole:"

	// SlotNeighbor is the reference slot linking components that share a
	// face.
	SlotNeighbor = "neighbor"
	// SlotMaterial is the reference slot from a face sub-component to the
	// component supplying its material.
	SlotMaterial = "material"
)

// FaceSlot is the slot of the sub-component generated for a volume face.
func FaceSlot(face model.ElementRef) string { return facePrefix + face.String() }

// HoleSlot is the slot of the sub-component generated for a face hole.
func HoleSlot(loop model.ElementRef) string { return holePrefix + loop.String() }

// MaterialResolver finds the component supplying the material of a face.
type MaterialResolver interface {
	ResolveMaterial(tree *component.Tree, g *geometry.Model, face model.ElementID) (*component.Component, bool)
}

// MaterialResolverFunc adapts a function to MaterialResolver.
type MaterialResolverFunc func(tree *component.Tree, g *geometry.Model, face model.ElementID) (*component.Component, bool)

func (f MaterialResolverFunc) ResolveMaterial(tree *component.Tree, g *geometry.Model, face model.ElementID) (*component.Component, bool) {
	return f(tree, g, face)
}

// attributeMaterials reads the face Material attribute as a component id.
type attributeMaterials struct{}

func (attributeMaterials) ResolveMaterial(tree *component.Tree, g *geometry.Model, face model.ElementID) (*component.Component, bool) {
	f, ok := g.Face(face)
	if !ok || f.Material == "" {
		return nil, false
	}
	id, err := uuid.Parse(f.Material)
	if err != nil {
		return nil, false
	}
	return tree.Component(id)
}

// wantedFace is one live face of a volume and its live holes.
type wantedFace struct {
	face  model.ElementRef
	holes []wantedHole
}

// wantedHole targets the face filling a hole, or the hole loop itself.
type wantedHole struct {
	loop   model.ElementRef
	target model.ElementRef
}

func isSynthesized(inst *component.Instance) bool {
	c := inst.Owner()
	return inst.Generated && c != nil && c.Generated &&
		(strings.HasPrefix(c.Slot, facePrefix) || strings.HasPrefix(c.Slot, holePrefix))
}

func hasSynthesizedChildren(c *component.Component) bool {
	for _, ch := range c.SubComponents() {
		if ch.Generated && strings.HasPrefix(ch.Slot, facePrefix) {
			return true
		}
	}
	return false
}

// liveFaces lists the faces and holes of every valid volume placement of
// c. Missing volumes contribute nothing.
func (e *Exchange) liveFaces(c *component.Component) ([]wantedFace, map[model.ElementRef]model.ElementRef) {
	var out []wantedFace
	seen := make(map[model.ElementRef]bool)
	volumeOf := make(map[model.ElementRef]model.ElementRef)
	for _, inst := range c.Instances() {
		if inst.Type != model.InstanceVolume {
			continue
		}
		for _, p := range inst.Placements() {
			if p.PlacementState() != model.PlacementValid {
				continue
			}
			ref := p.Target()
			g, ok := e.store.Geometry(ref.Model)
			if !ok {
				continue
			}
			vol, ok := g.Volume(ref.Element)
			if !ok {
				continue
			}
			for _, vf := range vol.Faces {
				fref := model.Ref(ref.Model, vf.Face)
				if seen[fref] {
					continue
				}
				seen[fref] = true
				volumeOf[fref] = ref
				wf := wantedFace{face: fref}
				if f, ok := g.Face(vf.Face); ok {
					for _, h := range f.Holes {
						lref := model.Ref(ref.Model, h)
						target := lref
						if filled, ok := g.FaceByBoundary(h); ok {
							target = model.Ref(ref.Model, filled)
						}
						wf.holes = append(wf.holes, wantedHole{loop: lref, target: target})
					}
				}
				out = append(out, wf)
			}
		}
	}
	return out, volumeOf
}

// synthesize diffs the generated face and hole sub-components of c
// against the live topology of its volumes, then refreshes neighbor and
// material references.
func (e *Exchange) synthesize(ctx context.Context, log logging.Logger, c *component.Component) {
	faces, volumeOf := e.liveFaces(c)

	want := make(map[string]wantedFace, len(faces))
	for _, wf := range faces {
		want[FaceSlot(wf.face)] = wf
	}
	removed, added := 0, 0
	for _, ch := range c.SubComponents() {
		if !ch.Generated || !strings.HasPrefix(ch.Slot, facePrefix) {
			continue
		}
		if _, ok := want[ch.Slot]; !ok {
			_ = c.RemoveSubComponent(ch)
			removed++
		}
	}

	children := make(map[string]*component.Component, len(faces))
	for _, wf := range faces {
		slot := FaceSlot(wf.face)
		ch, ok := c.SubComponentBySlot(slot)
		if !ok {
			ch = e.generateChild(c, slot, fmt.Sprintf("Face %d", wf.face.Element), wf.face)
			added++
		} else {
			e.retarget(ch, wf.face)
		}
		children[slot] = ch
		r, a := e.synthesizeHoles(ch, wf.holes)
		removed += r
		added += a
	}

	e.linkNeighbors(c, faces, volumeOf, children)
	e.linkMaterials(faces, children)

	if removed > 0 || added > 0 {
		log.Debug(ctx, "sub-components synthesized",
			logging.String("component", c.Name),
			logging.Int("added", added),
			logging.Int("removed", removed),
		)
	}
}

func (e *Exchange) synthesizeHoles(face *component.Component, holes []wantedHole) (removed, added int) {
	want := make(map[string]wantedHole, len(holes))
	for _, h := range holes {
		want[HoleSlot(h.loop)] = h
	}
	for _, ch := range face.SubComponents() {
		if !ch.Generated || !strings.HasPrefix(ch.Slot, holePrefix) {
			continue
		}
		if _, ok := want[ch.Slot]; !ok {
			_ = face.RemoveSubComponent(ch)
			removed++
		}
	}
	for _, h := range holes {
		slot := HoleSlot(h.loop)
		if ch, ok := face.SubComponentBySlot(slot); ok {
			e.retarget(ch, h.target)
			continue
		}
		e.generateChild(face, slot, fmt.Sprintf("Hole %d", h.loop.Element), h.target)
		added++
	}
	return removed, added
}

// generateChild attaches a generated sub-component with one generated face
// instance placed on target.
func (e *Exchange) generateChild(parent *component.Component, slot, name string, target model.ElementRef) *component.Component {
	ch := component.NewComponent(name)
	ch.Slot = slot
	ch.Generated = true
	_ = parent.AddSubComponent(ch)

	inst := component.NewInstance(model.InstanceFace)
	inst.Generated = true
	_ = inst.AddPlacement(e.newPlacement(target))
	_ = ch.AddInstance(inst)
	return ch
}

// retarget moves the generated instance of a child to a new target, for
// example when a hole gets filled by a face.
func (e *Exchange) retarget(ch *component.Component, target model.ElementRef) {
	for _, inst := range ch.Instances() {
		if !inst.Generated {
			continue
		}
		ps := inst.Placements()
		if len(ps) == 1 && ps[0].Target() == target {
			return
		}
		inst.ClearPlacements()
		_ = inst.AddPlacement(e.newPlacement(target))
		return
	}
}

// linkNeighbors keeps symmetric neighbor references between c and every
// other component whose volume shares a face with c's volumes.
func (e *Exchange) linkNeighbors(c *component.Component, faces []wantedFace, volumeOf map[model.ElementRef]model.ElementRef, children map[string]*component.Component) {
	current := make(map[uuid.UUID]*component.Component)
	for _, wf := range faces {
		slot := FaceSlot(wf.face)
		ch := children[slot]
		faceNeighbors := make(map[uuid.UUID]bool)
		for _, other := range e.faceNeighbors(c, wf.face, volumeOf[wf.face]) {
			current[other.ID] = other
			faceNeighbors[other.ID] = true
			c.AddReference(SlotNeighbor, other.ID)
			other.AddReference(SlotNeighbor, c.ID)
			ch.AddReference(SlotNeighbor, other.ID)
			if mirror, ok := other.SubComponentBySlot(slot); ok {
				mirror.AddReference(SlotNeighbor, c.ID)
			}
		}
		for _, r := range ch.References() {
			if r.Slot == SlotNeighbor && !faceNeighbors[r.Target] {
				ch.RemoveReference(SlotNeighbor, r.Target)
			}
		}
	}

	for _, r := range c.References() {
		if r.Slot != SlotNeighbor {
			continue
		}
		if _, ok := current[r.Target]; ok {
			continue
		}
		c.RemoveReference(SlotNeighbor, r.Target)
		other, ok := e.tree.Component(r.Target)
		if !ok {
			continue
		}
		other.RemoveReference(SlotNeighbor, c.ID)
		for _, och := range other.SubComponents() {
			if och.Generated && strings.HasPrefix(och.Slot, facePrefix) {
				och.RemoveReference(SlotNeighbor, c.ID)
			}
		}
	}
}

// faceNeighbors returns the owners of other volumes containing face.
func (e *Exchange) faceNeighbors(c *component.Component, face, volume model.ElementRef) []*component.Component {
	g, ok := e.store.Geometry(face.Model)
	if !ok {
		return nil
	}
	var out []*component.Component
	seen := make(map[uuid.UUID]bool)
	for _, p := range g.Parents(face.Element) {
		if k, _ := g.Kind(p); k != geometry.KindVolume || p == volume.Element {
			continue
		}
		for _, pl := range e.reg.placements(model.Ref(face.Model, p)) {
			inst := pl.Instance()
			if inst == nil || inst.Type != model.InstanceVolume || pl.PlacementState() != model.PlacementValid {
				continue
			}
			owner := inst.Owner()
			if owner == nil || owner == c || seen[owner.ID] || !e.tree.Contains(owner) {
				continue
			}
			seen[owner.ID] = true
			out = append(out, owner)
		}
	}
	return out
}

// linkMaterials points every face sub-component at its material supplier.
func (e *Exchange) linkMaterials(faces []wantedFace, children map[string]*component.Component) {
	for _, wf := range faces {
		ch := children[FaceSlot(wf.face)]
		var want uuid.UUID
		if g, ok := e.store.Geometry(wf.face.Model); ok {
			if m, ok := e.materials.ResolveMaterial(e.tree, g, wf.face.Element); ok && m != nil {
				want = m.ID
			}
		}
		for _, r := range ch.References() {
			if r.Slot == SlotMaterial && r.Target != want {
				ch.RemoveReference(SlotMaterial, r.Target)
			}
		}
		if want != uuid.Nil {
			ch.AddReference(SlotMaterial, want)
		}
	}
}
