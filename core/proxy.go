package core

import (
	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

// proxyRef addresses a proxy geometry.
type proxyRef struct {
	g  *geometry.Model
	id model.ElementID
}

// proxiesOf returns the proxies an instance drives: placements on a proxy
// or on a vertex carrying one, and the proxy of the vertex representing a
// network node.
func (e *Exchange) proxiesOf(inst *component.Instance) []proxyRef {
	var out []proxyRef
	for _, p := range inst.Placements() {
		ref := p.Target()
		if e.store.Kind(ref.Model) == model.ModelKindNetwork {
			n, _ := e.store.Network(ref.Model)
			rep, ok := n.Representation(ref.Element)
			if !ok {
				continue
			}
			ref = rep
		}
		g, ok := e.store.Geometry(ref.Model)
		if !ok {
			continue
		}
		switch k, _ := g.Kind(ref.Element); k {
		case geometry.KindProxy:
			out = append(out, proxyRef{g: g, id: ref.Element})
		case geometry.KindVertex:
			if px, ok := g.ProxyForVertex(ref.Element); ok {
				out = append(out, proxyRef{g: g, id: px})
			}
		}
	}
	return out
}

// pushTransform copies the instance size and rotation to its proxies.
func (e *Exchange) pushTransform(inst *component.Instance) {
	for _, px := range e.proxiesOf(inst) {
		_ = px.g.SetProxyTransform(px.id, inst.Size(), inst.Rotation())
	}
}

// pullTransform copies the transform of the first proxy to the instance.
func (e *Exchange) pullTransform(inst *component.Instance) {
	pxs := e.proxiesOf(inst)
	if len(pxs) == 0 {
		return
	}
	p, ok := pxs[0].g.Proxy(pxs[0].id)
	if !ok {
		return
	}
	inst.SetTransform(p.Size, p.Rotation)
}

// applyAssetMesh sets the proxy mesh of an instance from the owner's mesh
// asset, or back to the default primitive when there is none.
func (e *Exchange) applyAssetMesh(c *component.Component, inst *component.Instance) {
	if c == nil {
		return
	}
	mesh := e.defaultMesh
	for _, a := range c.Assets() {
		if a.Mesh == nil {
			continue
		}
		mesh = a.Mesh.Clone()
		if mesh.Source == "" {
			mesh.Source = "asset:" + a.ID
		}
		break
	}
	for _, px := range e.proxiesOf(inst) {
		cur, ok := px.g.Proxy(px.id)
		if ok && sameMesh(cur.Mesh, mesh) {
			continue
		}
		_ = px.g.SetProxyMesh(px.id, mesh.Clone())
	}
}

func sameMesh(a, b *kernel.Mesh) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Source == b.Source && len(a.Vertices) == len(b.Vertices) && len(a.Indices) == len(b.Indices)
}

// recolor refreshes the display color of proxies around the changed
// elements. A structural change can alter parent-derived colors anywhere,
// so every proxy of every geometry model is refreshed then.
func (e *Exchange) recolor(closure map[model.ElementRef]struct{}, structural bool) {
	seen := make(map[proxyRef]bool)
	visit := func(g *geometry.Model, id model.ElementID) {
		px := proxyRef{g: g, id: id}
		if seen[px] {
			return
		}
		seen[px] = true
		e.recolorProxy(g, id)
	}

	if structural {
		for _, mid := range e.store.Models() {
			g, ok := e.store.Geometry(mid)
			if !ok {
				continue
			}
			for _, id := range g.IDs(geometry.KindProxy) {
				visit(g, id)
			}
		}
		return
	}

	for _, ref := range refList(closure) {
		switch e.store.Kind(ref.Model) {
		case model.ModelKindGeometry:
			g, _ := e.store.Geometry(ref.Model)
			switch k, _ := g.Kind(ref.Element); k {
			case geometry.KindProxy:
				visit(g, ref.Element)
			case geometry.KindVertex:
				if px, ok := g.ProxyForVertex(ref.Element); ok {
					visit(g, px)
				}
			}
		case model.ModelKindNetwork:
			n, _ := e.store.Network(ref.Model)
			ids := []model.ElementID{ref.Element}
			if k, _ := n.Kind(ref.Element); k == network.KindSubNetwork {
				ids = append(ids, n.Descendants(ref.Element)...)
			}
			for _, id := range ids {
				rep, ok := n.Representation(id)
				if !ok {
					continue
				}
				g, ok := e.store.Geometry(rep.Model)
				if !ok {
					continue
				}
				if px, ok := g.ProxyForVertex(rep.Element); ok {
					visit(g, px)
				}
			}
		}
	}
}

// recolorProxy derives the color of one proxy: assigned when the proxy,
// its vertex or the network element it represents carries a placement;
// parent-derived when the vertex parent or a containing sub-network does;
// unassigned otherwise.
func (e *Exchange) recolorProxy(g *geometry.Model, id model.ElementID) {
	px, ok := g.Proxy(id)
	if !ok {
		return
	}
	color := model.DerivedColor{Color: e.colors.Unassigned}
	switch {
	case e.associated(g.Ref(id)) || e.associated(g.Ref(px.Vertex)) || e.representsAssociated(g, px.Vertex):
		color = model.DerivedColor{Color: e.colors.Assigned}
	case e.parentAssociated(g, px.Vertex):
		color = model.DerivedColor{Color: e.colors.Parent, IsFromParent: true}
	}
	_ = g.SetProxyColor(id, color)
}

func (e *Exchange) associated(ref model.ElementRef) bool {
	return len(e.reg.placements(ref)) > 0
}

func (e *Exchange) representsAssociated(g *geometry.Model, vertex model.ElementID) bool {
	b, ok := e.bridgeForTarget(g.ID())
	if !ok {
		return false
	}
	id, ok := b.networkElement(g, vertex)
	return ok && e.associated(model.Ref(b.network, id))
}

func (e *Exchange) parentAssociated(g *geometry.Model, vertex model.ElementID) bool {
	if v, ok := g.Vertex(vertex); ok && v.Parent != 0 && e.associated(g.Ref(v.Parent)) {
		return true
	}
	b, ok := e.bridgeForTarget(g.ID())
	if !ok {
		return false
	}
	id, ok := b.networkElement(g, vertex)
	if !ok {
		return false
	}
	n, ok := e.store.Network(b.network)
	if !ok {
		return false
	}
	node, ok := n.Node(id)
	for ok && node.Owner != 0 {
		if e.associated(model.Ref(b.network, node.Owner)) {
			return true
		}
		node, ok = n.Node(node.Owner)
	}
	return false
}
