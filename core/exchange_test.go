package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/model"
)

const geoID model.ModelID = "building"

// fixture wires an exchange to a store holding one geometry model.
type fixture struct {
	store  *kb.Store
	tree   *component.Tree
	g      *geometry.Model
	ex     *Exchange
	events []Event
}

func newFixture(t *testing.T, opts ...ExchangeOption) *fixture {
	t.Helper()
	f := &fixture{
		store: kb.NewStore(),
		tree:  component.NewTree("root"),
		g:     geometry.NewModel(geoID),
	}
	require.NoError(t, f.store.LoadGeometry(f.g))
	ex, err := NewExchange(f.store, f.tree, opts...)
	require.NoError(t, err)
	t.Cleanup(ex.Close)
	f.ex = ex
	ex.Subscribe(func(ev Event) { f.events = append(f.events, ev) })
	return f
}

func (f *fixture) component(t *testing.T, name string) *component.Component {
	t.Helper()
	c := component.NewComponent(name)
	require.NoError(t, f.tree.Root().AddSubComponent(c))
	return c
}

func (f *fixture) rect(t *testing.T, w, h float64) model.ElementRef {
	t.Helper()
	id, err := f.g.AddPolygonFace(geometry.Rectangle(model.Vec3{}, w, h))
	require.NoError(t, err)
	return f.g.Ref(id)
}

func (f *fixture) reset() { f.events = nil }

func (f *fixture) count(typ EventType) int {
	n := 0
	for _, ev := range f.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type recordingMetrics struct {
	recomputes    int
	invalidations int
	total         int
	missing       int
}

func (m *recordingMetrics) ObserveRecompute(time.Duration, int) { m.recomputes++ }
func (m *recordingMetrics) IncInvalidations()                   { m.invalidations++ }
func (m *recordingMetrics) SetPlacementCounts(total, missing int) {
	m.total, m.missing = total, missing
}

func TestNewExchangeRejectsNilCollaborators(t *testing.T) {
	_, err := NewExchange(nil, component.NewTree("root"))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewExchange(kb.NewStore(), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAssociateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 2, 3)

	first, err := f.ex.Associate(c, face)
	require.NoError(t, err)
	second, err := f.ex.Associate(c, face)
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Same(t, first[0], second[0])
	assert.Len(t, c.Instances(), 1)
	assert.Equal(t, model.InstanceFace, first[0].Type)
	assert.Equal(t, 1.0, c.Value(model.ParamCount))
	assert.InDelta(t, 6.0, c.Value(model.ParamArea), 1e-9)
	assert.Equal(t, []*component.Component{c}, f.ex.GetComponents(face))
	assert.Len(t, f.ex.GetPlacements(face), 1)
}

func TestAssociateInfersInstanceTypes(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "mixed")

	v0 := f.g.AddVertex(model.Vec3{})
	v1 := f.g.AddVertex(model.Vec3{X: 3, Y: 4})
	edge, err := f.g.AddEdge(v0, v1)
	require.NoError(t, err)
	pl, err := f.g.AddPolyline([]model.ElementID{edge})
	require.NoError(t, err)
	px, err := f.g.AddProxy(v0, model.Vec3{X: 1, Y: 1, Z: 1}, model.Vec3{}, nil)
	require.NoError(t, err)
	vol, _, err := f.g.AddBox(model.Vec3{}, model.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)

	insts, err := f.ex.Associate(c, f.g.Ref(v0), f.g.Ref(edge), f.g.Ref(pl), f.g.Ref(px), f.g.Ref(vol))
	require.NoError(t, err)
	want := []model.InstanceType{
		model.InstancePoint, model.InstanceEdge, model.InstanceEdge,
		model.InstanceEntity3D, model.InstanceVolume,
	}
	for i, inst := range insts {
		assert.Equal(t, want[i], inst.Type, "instance %d", i)
	}
	assert.Equal(t, 5.0, c.Value(model.ParamCount))
	assert.InDelta(t, 10.0, c.Value(model.ParamLength), 1e-9)

	gp := insts[2].Placements()[0].(*component.GeometryPlacement)
	assert.Equal(t, []model.ElementID{edge}, gp.Related)
}

func TestAssociateValidatesBeforeMutating(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 1, 1)

	_, err := f.ex.Associate(c, face, model.Ref(geoID, 9999))
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, c.Instances())
	assert.True(t, f.ex.reg.empty())

	_, err = f.ex.Associate(c)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.ex.Associate(nil, face)
	require.ErrorIs(t, err, ErrInvalidArgument)

	detached := component.NewComponent("detached")
	_, err = f.ex.Associate(detached, face)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.ex.Associate(c, model.Ref("unknown", 1))
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.True(t, f.ex.reg.empty())
}

func TestDisassociateRestoresState(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 4, 5)

	_, err := f.ex.Associate(c, face)
	require.NoError(t, err)
	require.InDelta(t, 20.0, c.Value(model.ParamArea), 1e-9)

	require.NoError(t, f.ex.Disassociate(c, face))
	assert.Empty(t, c.Instances())
	assert.Equal(t, 0.0, c.Value(model.ParamCount))
	assert.Equal(t, 0.0, c.Value(model.ParamArea))
	assert.Empty(t, f.ex.GetPlacements(face))
	assert.Empty(t, f.ex.GetComponents(face))
	assert.True(t, f.ex.reg.empty())

	err = f.ex.Disassociate(c, face)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDisassociateKeepsManualInstance(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 1, 2)

	inst := component.NewInstance(model.InstanceFace)
	require.NoError(t, inst.AddPlacement(component.NewGeometryPlacement(face)))
	require.NoError(t, c.AddInstance(inst))
	require.Len(t, f.ex.GetPlacements(face), 1)
	assert.InDelta(t, 2.0, c.Value(model.ParamArea), 1e-9)

	require.NoError(t, f.ex.Disassociate(c, face))
	assert.Equal(t, []*component.Instance{inst}, c.Instances())
	assert.Empty(t, inst.Placements())
	assert.True(t, f.ex.reg.empty())
}

func TestRegistryHasSingleRemovalPath(t *testing.T) {
	f := newFixture(t)
	a := f.rect(t, 1, 1)
	b := f.rect(t, 2, 2)

	cases := []struct {
		name   string
		remove func(c *component.Component, inst *component.Instance)
	}{
		{"remove placement", func(_ *component.Component, inst *component.Instance) {
			for _, p := range inst.Placements() {
				inst.RemovePlacement(p)
			}
		}},
		{"clear placements", func(_ *component.Component, inst *component.Instance) { inst.ClearPlacements() }},
		{"remove instance", func(c *component.Component, inst *component.Instance) { _ = c.RemoveInstance(inst) }},
		{"clear instances", func(c *component.Component, _ *component.Instance) { c.ClearInstances() }},
		{"remove component", func(c *component.Component, _ *component.Instance) {
			if c.Parent() != nil {
				_ = c.Parent().RemoveSubComponent(c)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := f.component(t, tc.name)
			insts, err := f.ex.Associate(c, a, b)
			require.NoError(t, err)
			require.Len(t, f.ex.GetPlacements(a), 1)

			for _, inst := range insts {
				tc.remove(c, inst)
			}
			assert.Empty(t, f.ex.GetPlacements(a))
			assert.Empty(t, f.ex.GetPlacements(b))
			assert.True(t, f.ex.reg.empty())
		})
	}
}

func TestSingleMutationEmitsOneEvent(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "beam")
	v0 := f.g.AddVertex(model.Vec3{})
	v1 := f.g.AddVertex(model.Vec3{X: 1})
	edge, err := f.g.AddEdge(v0, v1)
	require.NoError(t, err)
	_, err = f.ex.Associate(c, f.g.Ref(edge))
	require.NoError(t, err)

	f.reset()
	require.NoError(t, f.g.MoveVertex(v1, model.Vec3{X: 5}))
	assert.InDelta(t, 5.0, c.Value(model.ParamLength), 1e-9)
	require.Equal(t, 1, f.count(EventGeometryInvalidated))
	assert.Contains(t, f.events[0].Elements, f.g.Ref(edge))
	assert.Contains(t, f.events[0].Elements, f.g.Ref(v1))
}

func TestBatchEquivalence(t *testing.T) {
	build := func(t *testing.T, batched bool) (*fixture, *component.Component) {
		f := newFixture(t)
		c := f.component(t, "slab")
		v0 := f.g.AddVertex(model.Vec3{})
		v1 := f.g.AddVertex(model.Vec3{X: 1})
		edge, err := f.g.AddEdge(v0, v1)
		require.NoError(t, err)
		face := f.rect(t, 2, 2)
		f.reset()

		if batched {
			f.ex.StartBatchOperation()
			assert.True(t, f.ex.InBatch())
		}
		_, err = f.ex.Associate(c, f.g.Ref(edge), face)
		require.NoError(t, err)
		require.NoError(t, f.g.MoveVertex(v1, model.Vec3{X: 7}))
		_, err = c.AddParameter(component.Parameter{Name: model.ParamOffsetInner, Value: 0.25})
		require.NoError(t, err)
		if batched {
			assert.Empty(t, f.events)
			require.NoError(t, f.ex.EndBatchOperation())
			assert.False(t, f.ex.InBatch())
		}
		return f, c
	}

	plain, pc := build(t, false)
	batched, bc := build(t, true)

	for _, name := range []string{model.ParamCount, model.ParamLength, model.ParamArea, model.ParamAreaMin} {
		assert.Equal(t, pc.Value(name), bc.Value(name), name)
	}
	assert.InDelta(t, 7.0, bc.Value(model.ParamLength), 1e-9)
	assert.InDelta(t, 2.0, bc.Value(model.ParamAreaMin), 1e-9)
	require.Len(t, bc.Instances(), len(pc.Instances()))
	for i := range pc.Instances() {
		assert.Equal(t, pc.Instances()[i].Path, bc.Instances()[i].Path)
	}
	assert.Equal(t, []model.Vec3{{}, {X: 7}}, bc.Instances()[0].Path)

	// Associate, move and add parameter each notify on their own.
	assert.Equal(t, 3, plain.count(EventGeometryInvalidated))
	assert.Equal(t, 1, batched.count(EventGeometryInvalidated))
}

func TestNestedBatches(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 1, 1)
	f.reset()

	f.ex.StartBatchOperation()
	f.ex.StartBatchOperation()
	_, err := f.ex.Associate(c, face)
	require.NoError(t, err)
	require.NoError(t, f.ex.EndBatchOperation())
	assert.Empty(t, f.events)
	assert.True(t, f.ex.InBatch())

	require.NoError(t, f.ex.EndBatchOperation())
	assert.Equal(t, 1, f.count(EventGeometryInvalidated))
	assert.Equal(t, 1.0, c.Value(model.ParamCount))
}

func TestEndBatchWithoutStart(t *testing.T) {
	f := newFixture(t)
	err := f.ex.EndBatchOperation()
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, f.ex.InBatch())
}

func TestGeometryBatchDefersRecompute(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "beam")
	v0 := f.g.AddVertex(model.Vec3{})
	v1 := f.g.AddVertex(model.Vec3{X: 1})
	edge, err := f.g.AddEdge(v0, v1)
	require.NoError(t, err)
	_, err = f.ex.Associate(c, f.g.Ref(edge))
	require.NoError(t, err)
	f.reset()

	f.g.StartBatchOperation()
	require.NoError(t, f.g.MoveVertex(v1, model.Vec3{X: 2}))
	require.NoError(t, f.g.MoveVertex(v0, model.Vec3{X: -2}))
	assert.True(t, f.ex.InBatch())
	assert.InDelta(t, 1.0, c.Value(model.ParamLength), 1e-9)
	require.NoError(t, f.g.EndBatchOperation())

	assert.InDelta(t, 4.0, c.Value(model.ParamLength), 1e-9)
	assert.Equal(t, 1, f.count(EventGeometryInvalidated))
}

func TestUnloadingModelReleasesItsBatch(t *testing.T) {
	f := newFixture(t)
	f.g.StartBatchOperation()
	require.True(t, f.ex.InBatch())

	require.NoError(t, f.store.Unload(geoID))
	assert.False(t, f.ex.InBatch())
	assert.False(t, f.ex.IsConnected(geoID))
}

func TestMetricsRecorder(t *testing.T) {
	m := &recordingMetrics{}
	f := newFixture(t, WithMetrics(m))
	c := f.component(t, "wall")
	face := f.rect(t, 1, 1)

	_, err := f.ex.Associate(c, face)
	require.NoError(t, err)
	assert.Positive(t, m.recomputes)
	assert.Positive(t, m.invalidations)
	assert.Equal(t, 1, m.total)
	assert.Equal(t, 0, m.missing)

	require.NoError(t, f.g.Remove(face.Element))
	assert.Equal(t, 1, m.missing)
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	a, b := f.rect(t, 1, 1), f.rect(t, 2, 2)
	var got int
	unsubscribe := f.ex.Subscribe(func(Event) { got++ })

	_, err := f.ex.Associate(c, a)
	require.NoError(t, err)
	require.Equal(t, 1, got)

	unsubscribe()
	_, err = f.ex.Associate(c, b)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestRebuildReindexesTree(t *testing.T) {
	f := newFixture(t)
	c := f.component(t, "wall")
	face := f.rect(t, 3, 3)
	_, err := f.ex.Associate(c, face)
	require.NoError(t, err)

	f.ex.Rebuild()
	assert.Len(t, f.ex.GetPlacements(face), 1)
	assert.Equal(t, 1, f.ex.reg.len())
	assert.InDelta(t, 9.0, c.Value(model.ParamArea), 1e-9)
}

func TestExchangePicksUpExistingPlacements(t *testing.T) {
	store := kb.NewStore()
	g := geometry.NewModel(geoID)
	require.NoError(t, store.LoadGeometry(g))
	face, err := g.AddPolygonFace(geometry.Rectangle(model.Vec3{}, 2, 5))
	require.NoError(t, err)

	tree := component.NewTree("root")
	c := component.NewComponent("wall")
	require.NoError(t, tree.Root().AddSubComponent(c))
	inst := component.NewInstance(model.InstanceFace)
	require.NoError(t, inst.AddPlacement(component.NewGeometryPlacement(g.Ref(face))))
	require.NoError(t, c.AddInstance(inst))

	ex, err := NewExchange(store, tree)
	require.NoError(t, err)
	defer ex.Close()

	assert.Len(t, ex.GetPlacements(g.Ref(face)), 1)
	assert.InDelta(t, 10.0, c.Value(model.ParamArea), 1e-9)
	assert.True(t, ex.IsConnected(geoID))
}
