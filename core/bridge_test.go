package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

const (
	netID    model.ModelID = "supply"
	netGeoID model.ModelID = "supply-geometry"
)

// netFixture is a fixture with a two node network converted to geometry.
type netFixture struct {
	*fixture
	n    *network.Model
	ng   *geometry.Model
	a, b model.ElementID
	edge model.ElementID
}

func newNetFixture(t *testing.T, opts ...ExchangeOption) *netFixture {
	t.Helper()
	f := newFixture(t, opts...)
	n := network.NewModel(netID)
	a, err := n.AddNode(0, "a", model.Vec2{})
	require.NoError(t, err)
	b, err := n.AddNode(0, "b", model.Vec2{X: 300, Y: 400})
	require.NoError(t, err)
	edge, err := n.AddEdge(a, b)
	require.NoError(t, err)
	require.NoError(t, f.store.LoadNetwork(n))

	ng, err := f.ex.ConvertNetwork(netID, netGeoID)
	require.NoError(t, err)
	f.reset()
	return &netFixture{fixture: f, n: n, ng: ng, a: a, b: b, edge: edge}
}

func (f *netFixture) vertexOf(t *testing.T, id model.ElementID) geometry.Vertex {
	t.Helper()
	rep, ok := f.n.Representation(id)
	require.True(t, ok, "node %d has no representation", id)
	v, ok := f.ng.Vertex(rep.Element)
	require.True(t, ok)
	return v
}

func (f *netFixture) proxyOf(t *testing.T, id model.ElementID) geometry.Proxy {
	t.Helper()
	v := f.vertexOf(t, id)
	px, ok := f.ng.ProxyForVertex(v.ID)
	require.True(t, ok)
	p, ok := f.ng.Proxy(px)
	require.True(t, ok)
	return p
}

func TestConvertNetworkBuildsGeometry(t *testing.T) {
	f := newNetFixture(t)

	got, ok := f.store.Geometry(netGeoID)
	require.True(t, ok)
	assert.Same(t, f.ng, got)
	assert.Equal(t, 2, f.ng.Count(geometry.KindVertex))
	assert.Equal(t, 2, f.ng.Count(geometry.KindProxy))
	assert.Equal(t, 1, f.ng.Count(geometry.KindEdge))
	assert.Equal(t, 1, f.ng.Count(geometry.KindPolyline))
	assert.True(t, f.ex.IsConnected(netGeoID))

	assert.Equal(t, model.Vec3{}, f.vertexOf(t, f.a).Position)
	assert.True(t, f.vertexOf(t, f.b).Position.ApproxEqual(model.Vec3{X: 3, Y: 4}, 1e-12))

	p := f.proxyOf(t, f.a)
	assert.Equal(t, model.Vec3{X: 0.3, Y: 0.3, Z: 0.3}, p.Size)
	require.NotNil(t, p.Mesh)
	assert.Equal(t, "primitive:cube", p.Mesh.Source)
	assert.Equal(t, DefaultColors().Unassigned, p.Color.Color)

	rep, ok := f.n.Representation(f.edge)
	require.True(t, ok)
	k, _ := f.ng.Kind(rep.Element)
	assert.Equal(t, geometry.KindPolyline, k)
}

func TestConvertNetworkErrors(t *testing.T) {
	f := newNetFixture(t)
	other := network.NewModel("other-net")
	require.NoError(t, f.store.LoadNetwork(other))

	_, err := f.ex.ConvertNetwork(netID, "again")
	require.ErrorIs(t, err, ErrDuplicateConversionTarget)
	assert.False(t, f.store.Has("again"))

	_, err = f.ex.ConvertNetwork("other-net", netGeoID)
	require.ErrorIs(t, err, ErrDuplicateConversionTarget)

	_, err = f.ex.ConvertNetwork("other-net", geoID)
	require.ErrorIs(t, err, ErrDuplicateConversionTarget)

	_, err = f.ex.ConvertNetwork("missing", "fresh")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.ex.ConvertNetwork(geoID, "fresh")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.ex.ConvertNetwork("other-net", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, f.store.Has("fresh"))

	_, err = f.ex.ConvertNetwork("other-net", "fresh")
	require.NoError(t, err)
}

func TestNetworkEdgeLengthFollowsLayout(t *testing.T) {
	f := newNetFixture(t)
	c := f.component(t, "pipe")
	insts, err := f.ex.Associate(c, f.n.Ref(f.edge), f.n.Ref(f.b))
	require.NoError(t, err)
	assert.Equal(t, model.InstanceNetworkEdge, insts[0].Type)
	assert.Equal(t, model.InstanceNetworkNode, insts[1].Type)
	assert.InDelta(t, 5.0, c.Value(model.ParamLength), 1e-9)
	assert.Len(t, insts[1].Path, 1)
	assert.True(t, insts[1].Path[0].ApproxEqual(model.Vec3{X: 3, Y: 4}, 1e-12))

	f.reset()
	require.NoError(t, f.n.MoveNode(f.b, model.Vec2{X: 600, Y: 800}))
	assert.InDelta(t, 10.0, c.Value(model.ParamLength), 1e-9)
	assert.True(t, f.vertexOf(t, f.b).Position.ApproxEqual(model.Vec3{X: 6, Y: 8}, 1e-12))
	assert.True(t, insts[1].Path[0].ApproxEqual(model.Vec3{X: 6, Y: 8}, 1e-12))
	assert.Equal(t, 1, f.count(EventGeometryInvalidated))
}

func TestNetworkStructuralSync(t *testing.T) {
	f := newNetFixture(t)

	c, err := f.n.AddNode(0, "c", model.Vec2{Y: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, f.ng.Count(geometry.KindVertex))
	assert.Equal(t, 3, f.ng.Count(geometry.KindProxy))
	assert.True(t, f.vertexOf(t, c).Position.ApproxEqual(model.Vec3{Y: 1}, 1e-12))

	bc, err := f.n.AddEdge(f.b, c)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ng.Count(geometry.KindPolyline))

	require.NoError(t, f.n.RedirectEdge(f.edge, network.EndTo, c))
	rep, _ := f.n.Representation(f.edge)
	line, ok := f.ng.Polyline(rep.Element)
	require.True(t, ok)
	ge, ok := f.ng.Edge(line.Edges[0])
	require.True(t, ok)
	assert.Equal(t, f.vertexOf(t, c).ID, ge.V1)

	require.NoError(t, f.n.RemoveEdge(bc))
	assert.Equal(t, 1, f.ng.Count(geometry.KindPolyline))

	require.NoError(t, f.n.PromoteNode(f.b))
	require.NoError(t, f.n.CollapseSubnetwork(f.b))
	assert.Equal(t, 3, f.ng.Count(geometry.KindVertex))

	require.NoError(t, f.n.RemoveNode(c))
	assert.Equal(t, 2, f.ng.Count(geometry.KindVertex))
	assert.Equal(t, 2, f.ng.Count(geometry.KindProxy))
	assert.Equal(t, 0, f.ng.Count(geometry.KindPolyline))
	assert.Equal(t, 0, f.ng.Count(geometry.KindEdge))
}

func TestRemoveNodeNotifiesOnce(t *testing.T) {
	f := newNetFixture(t)
	c := f.component(t, "valve")
	insts, err := f.ex.Associate(c, f.n.Ref(f.edge), f.n.Ref(f.b))
	require.NoError(t, err)

	f.reset()
	require.NoError(t, f.n.RemoveNode(f.b))
	assert.Equal(t, 1, f.count(EventGeometryInvalidated))
	assert.False(t, f.ex.InBatch())
	for _, inst := range insts {
		assert.Equal(t, model.ConnectionGeometryNotFound, inst.State.Connection)
	}
	assert.Equal(t, 1, f.ng.Count(geometry.KindVertex))
	assert.Equal(t, 0, f.ng.Count(geometry.KindPolyline))

	t.Run("sub-network", func(t *testing.T) {
		require.NoError(t, f.n.PromoteNode(f.a))
		x, err := f.n.AddNode(f.a, "x", model.Vec2{})
		require.NoError(t, err)
		y, err := f.n.AddNode(f.a, "y", model.Vec2{X: 100})
		require.NoError(t, err)
		xy, err := f.n.AddEdge(x, y)
		require.NoError(t, err)
		pump := f.component(t, "pump")
		_, err = f.ex.Associate(pump, f.n.Ref(x), f.n.Ref(xy))
		require.NoError(t, err)

		f.reset()
		require.NoError(t, f.n.RemoveNode(f.a))
		assert.Equal(t, 1, f.count(EventGeometryInvalidated))
		assert.Equal(t, 0, f.ng.Count(geometry.KindVertex))
		assert.Equal(t, model.ConnectionGeometryNotFound, pump.State.Connection)
	})
}

func TestParentedNodeFollowsGeometry(t *testing.T) {
	f := newNetFixture(t)
	c := f.component(t, "heater")
	insts, err := f.ex.Associate(c, f.n.Ref(f.b), f.n.Ref(f.edge))
	require.NoError(t, err)
	node, pipe := insts[0], insts[1]

	vol, _, err := f.ng.AddBox(model.Vec3{X: 20, Y: 30}, model.Vec3{X: 22, Y: 32, Z: 3})
	require.NoError(t, err)
	vertex := f.vertexOf(t, f.b).ID
	require.NoError(t, f.ng.SetVertexParent(vertex, vol))
	require.NoError(t, f.ng.MoveVertex(vertex, model.Vec3{X: 21, Y: 31}))
	assert.Equal(t, []model.Vec3{{X: 21, Y: 31}}, node.Path)
	require.Len(t, pipe.Path, 2)
	assert.Equal(t, model.Vec3{X: 21, Y: 31}, pipe.Path[1])

	require.NoError(t, f.n.MoveNode(f.b, model.Vec2{X: 1000, Y: 1000}))
	assert.Equal(t, []model.Vec3{{X: 21, Y: 31}}, node.Path, "layout moves are ignored while parented")
	assert.Equal(t, model.Vec3{X: 21, Y: 31}, f.vertexOf(t, f.b).Position)

	f.reset()
	require.NoError(t, f.ng.SetVertexParent(vertex, 0))
	require.Len(t, node.Path, 1)
	assert.True(t, node.Path[0].ApproxEqual(model.Vec3{X: 10, Y: 10}, 1e-12))
	assert.True(t, f.vertexOf(t, f.b).Position.ApproxEqual(model.Vec3{X: 10, Y: 10}, 1e-12))
	require.Len(t, pipe.Path, 2)
	assert.True(t, pipe.Path[1].ApproxEqual(model.Vec3{X: 10, Y: 10}, 1e-12))
	assert.InDelta(t, math.Sqrt(200), c.Value(model.ParamLength), 1e-9)
	assert.Equal(t, 1, f.count(EventGeometryInvalidated))
}

func TestNestedNodesFlattenLayout(t *testing.T) {
	f := newNetFixture(t)
	require.NoError(t, f.n.PromoteNode(f.b))
	inner, err := f.n.AddNode(f.b, "inner", model.Vec2{X: 10})
	require.NoError(t, err)
	second, err := f.n.AddNode(f.b, "second", model.Vec2{X: 110})
	require.NoError(t, err)

	assert.True(t, f.vertexOf(t, inner).Position.ApproxEqual(model.Vec3{X: 3, Y: 4}, 1e-12))
	assert.True(t, f.vertexOf(t, second).Position.ApproxEqual(model.Vec3{X: 4, Y: 4}, 1e-12))

	require.NoError(t, f.n.SetEntryNode(f.b, second))
	assert.True(t, f.vertexOf(t, inner).Position.ApproxEqual(model.Vec3{X: 2, Y: 4}, 1e-12))
}

func TestProxyColors(t *testing.T) {
	f := newNetFixture(t)
	colors := DefaultColors()
	c := f.component(t, "pump")

	_, err := f.ex.Associate(c, f.n.Ref(f.a))
	require.NoError(t, err)
	assert.Equal(t, model.DerivedColor{Color: colors.Assigned}, f.proxyOf(t, f.a).Color)
	assert.Equal(t, model.DerivedColor{Color: colors.Unassigned}, f.proxyOf(t, f.b).Color)

	t.Run("geometry parent", func(t *testing.T) {
		room := f.component(t, "room")
		vol, _, err := f.ng.AddBox(model.Vec3{X: 2, Y: 3}, model.Vec3{X: 4, Y: 5, Z: 3})
		require.NoError(t, err)
		_, err = f.ex.Associate(room, f.ng.Ref(vol))
		require.NoError(t, err)

		require.NoError(t, f.ng.SetVertexParent(f.vertexOf(t, f.b).ID, vol))
		assert.Equal(t, model.DerivedColor{Color: colors.Parent, IsFromParent: true}, f.proxyOf(t, f.b).Color)
	})

	t.Run("containing sub-network", func(t *testing.T) {
		sub, err := f.n.AddNode(0, "sub", model.Vec2{X: 900})
		require.NoError(t, err)
		require.NoError(t, f.n.PromoteNode(sub))
		inner, err := f.n.AddNode(sub, "inner", model.Vec2{})
		require.NoError(t, err)
		assert.Equal(t, model.DerivedColor{Color: colors.Unassigned}, f.proxyOf(t, inner).Color)

		station := f.component(t, "station")
		_, err = f.ex.Associate(station, f.n.Ref(sub))
		require.NoError(t, err)
		assert.Equal(t, model.DerivedColor{Color: colors.Assigned}, f.proxyOf(t, sub).Color)
		assert.Equal(t, model.DerivedColor{Color: colors.Parent, IsFromParent: true}, f.proxyOf(t, inner).Color)
	})

	require.NoError(t, f.ex.Disassociate(c, f.n.Ref(f.a)))
	assert.Equal(t, model.DerivedColor{Color: colors.Unassigned}, f.proxyOf(t, f.a).Color)
}

func TestProxyTransformSync(t *testing.T) {
	f := newNetFixture(t)
	c := f.component(t, "tank")
	insts, err := f.ex.Associate(c, f.n.Ref(f.a))
	require.NoError(t, err)
	inst := insts[0]
	assert.Equal(t, model.Vec3{X: 0.3, Y: 0.3, Z: 0.3}, inst.Size(), "a new instance takes the proxy transform")

	inst.SetTransform(model.Vec3{X: 2, Y: 2, Z: 2}, model.Vec3{Z: 90})
	p := f.proxyOf(t, f.a)
	assert.Equal(t, model.Vec3{X: 2, Y: 2, Z: 2}, p.Size)
	assert.Equal(t, model.Vec3{Z: 90}, p.Rotation)

	require.NoError(t, f.ng.SetProxyTransform(p.ID, model.Vec3{X: 5, Y: 5, Z: 5}, model.Vec3{}))
	assert.Equal(t, model.Vec3{X: 5, Y: 5, Z: 5}, inst.Size())
	assert.Equal(t, model.Vec3{}, inst.Rotation())
}

func TestAssetsReplaceProxyMesh(t *testing.T) {
	f := newNetFixture(t)
	c := f.component(t, "valve")
	_, err := f.ex.Associate(c, f.n.Ref(f.a))
	require.NoError(t, err)

	mesh := &kernel.Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}
	c.AddAsset(component.Asset{ID: "valve-body", Mesh: mesh})
	p := f.proxyOf(t, f.a)
	require.NotNil(t, p.Mesh)
	assert.Equal(t, "asset:valve-body", p.Mesh.Source)
	assert.Equal(t, 1, p.Mesh.TriangleCount())
	assert.NotSame(t, mesh, p.Mesh)
	assert.Equal(t, "primitive:cube", f.proxyOf(t, f.b).Mesh.Source)

	require.True(t, c.RemoveAsset("valve-body"))
	assert.Equal(t, "primitive:cube", f.proxyOf(t, f.a).Mesh.Source)
}

func TestConversionPushesExistingInstances(t *testing.T) {
	f := newFixture(t)
	n := network.NewModel(netID)
	a, err := n.AddNode(0, "a", model.Vec2{})
	require.NoError(t, err)
	require.NoError(t, f.store.LoadNetwork(n))

	c := f.component(t, "boiler")
	insts, err := f.ex.Associate(c, n.Ref(a))
	require.NoError(t, err)
	insts[0].SetTransform(model.Vec3{X: 2, Y: 1, Z: 1}, model.Vec3{})
	c.AddAsset(component.Asset{ID: "boiler", Mesh: &kernel.Mesh{Source: "asset:boiler"}})

	ng, err := f.ex.ConvertNetwork(netID, netGeoID)
	require.NoError(t, err)
	rep, ok := n.Representation(a)
	require.True(t, ok)
	px, ok := ng.ProxyForVertex(rep.Element)
	require.True(t, ok)
	p, _ := ng.Proxy(px)
	assert.Equal(t, model.Vec3{X: 2, Y: 1, Z: 1}, p.Size)
	assert.Equal(t, "asset:boiler", p.Mesh.Source)
	assert.Equal(t, model.DerivedColor{Color: DefaultColors().Assigned}, p.Color)
	assert.Equal(t, model.Vec3{X: 2, Y: 1, Z: 1}, insts[0].Size())
}
