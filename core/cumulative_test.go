package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
)

func TestCumulativeAggregatesMembers(t *testing.T) {
	f := newFixture(t)
	n := network.NewModel(netID)
	var nodes []model.ElementID
	for _, name := range []string{"a", "b", "c"} {
		id, err := n.AddNode(0, name, model.Vec2{})
		require.NoError(t, err)
		nodes = append(nodes, id)
	}
	require.NoError(t, f.store.LoadNetwork(n))

	plant := f.component(t, "plant")
	pumpA := component.NewComponent("pump A")
	pumpB := component.NewComponent("pump B")
	for _, c := range []*component.Component{pumpA, pumpB} {
		require.NoError(t, plant.AddSubComponent(c))
	}
	_, err := pumpA.AddParameter(component.Parameter{Name: "Q", Value: 2})
	require.NoError(t, err)
	_, err = pumpA.AddParameter(component.Parameter{Name: "only-a", Value: 1})
	require.NoError(t, err)
	_, err = pumpB.AddParameter(component.Parameter{Name: "Q", Value: 5})
	require.NoError(t, err)

	_, ok := plant.SubComponentBySlot(SlotCumulative)
	assert.False(t, ok, "no member has network instances yet")

	_, err = f.ex.Associate(pumpA, n.Ref(nodes[0]))
	require.NoError(t, err)
	_, err = f.ex.Associate(pumpB, n.Ref(nodes[1]), n.Ref(nodes[2]))
	require.NoError(t, err)

	cum, ok := plant.SubComponentBySlot(SlotCumulative)
	require.True(t, ok)
	assert.True(t, cum.Generated)
	assert.Equal(t, "Cumulative", cum.Name)
	assert.Equal(t, 3.0, cum.Value(model.ParamInstanceCount))
	assert.Equal(t, 2.0, cum.Value("Q.min"))
	assert.Equal(t, 5.0, cum.Value("Q.max"))
	assert.Equal(t, 12.0, cum.Value("Q.sum"))
	_, ok = cum.Parameter("only-a.sum")
	assert.False(t, ok, "parameters missing on a member are not aggregated")
	for _, p := range cum.Parameters() {
		assert.True(t, p.AutoGenerated, p.Name)
	}

	require.NoError(t, pumpA.SetParameter("Q", 9))
	assert.Equal(t, 5.0, cum.Value("Q.min"))
	assert.Equal(t, 9.0, cum.Value("Q.max"))
	assert.Equal(t, 19.0, cum.Value("Q.sum"))

	require.NoError(t, f.ex.Disassociate(pumpB, n.Ref(nodes[2])))
	assert.Equal(t, 2.0, cum.Value(model.ParamInstanceCount))
	assert.Equal(t, 14.0, cum.Value("Q.sum"))

	require.NoError(t, f.ex.Disassociate(pumpB, n.Ref(nodes[1])))
	assert.Equal(t, 1.0, cum.Value(model.ParamInstanceCount))
	assert.Equal(t, 9.0, cum.Value("Q.min"))
	assert.Equal(t, 9.0, cum.Value("Q.max"))

	require.NoError(t, f.ex.Disassociate(pumpA, n.Ref(nodes[0])))
	_, ok = plant.SubComponentBySlot(SlotCumulative)
	assert.False(t, ok, "the aggregate goes away with the last member")
}

func TestCumulativeIgnoresGeometryMembers(t *testing.T) {
	f := newFixture(t)
	plant := f.component(t, "plant")
	room := component.NewComponent("room")
	require.NoError(t, plant.AddSubComponent(room))

	_, err := f.ex.Associate(room, f.rect(t, 2, 2))
	require.NoError(t, err)

	_, ok := plant.SubComponentBySlot(SlotCumulative)
	assert.False(t, ok)
}
