package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/site"
)

func TestBuildingEvents(t *testing.T) {
	f := newFixture(t)
	s := site.NewModel("campus")
	north := s.AddBuilding("north", []model.Vec2{{}, {X: 10}, {X: 10, Y: 10}})
	south := s.AddBuilding("south", nil)
	require.NoError(t, f.store.LoadSite(s))
	assert.True(t, f.ex.IsConnected("campus"))

	c := f.component(t, "hvac")
	_, err := c.AddParameter(component.Parameter{Name: "power", Value: 10})
	require.NoError(t, err)

	f.reset()
	insts, err := f.ex.Associate(c, s.Ref(north), s.Ref(south))
	require.NoError(t, err)
	for _, inst := range insts {
		assert.Equal(t, model.InstanceSiteBuilding, inst.Type)
	}
	require.Equal(t, 1, f.count(EventBuildingAssociationChanged))
	for _, ev := range f.events {
		if ev.Type == EventBuildingAssociationChanged {
			assert.ElementsMatch(t, []model.ElementRef{s.Ref(north), s.Ref(south)}, ev.Elements)
		}
	}

	t.Run("parameter change is reported per building", func(t *testing.T) {
		f.reset()
		f.ex.StartBatchOperation()
		require.NoError(t, c.SetParameter("power", 12))
		require.NoError(t, c.SetParameter("power", 14))
		require.NoError(t, f.ex.EndBatchOperation())

		var buildings []model.ElementRef
		for _, ev := range f.events {
			if ev.Type == EventBuildingComponentParameterChanged {
				buildings = append(buildings, ev.Building)
				assert.Equal(t, []model.ElementRef{ev.Building}, ev.Elements)
			}
		}
		assert.ElementsMatch(t, []model.ElementRef{s.Ref(north), s.Ref(south)}, buildings)
		assert.Equal(t, 0, f.count(EventBuildingAssociationChanged))
	})

	t.Run("removing a building reports the association", func(t *testing.T) {
		f.reset()
		require.NoError(t, s.RemoveBuilding(south))
		assert.Equal(t, 1, f.count(EventBuildingAssociationChanged))
		assert.Equal(t, model.ConnectionGeometryNotFound, insts[1].State.Connection)
	})

	require.NoError(t, f.store.Unload("campus"))
	assert.False(t, f.ex.IsConnected("campus"))
}
