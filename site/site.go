// Package site holds site layout models: the buildings placed on a site,
// each addressable by a stable id.
package site

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/geoexchange/model"
)

var ErrBuildingNotFound = errors.New("building not found")

// Building is one building on the site.
type Building struct {
	ID        model.ElementID
	Name      string
	Footprint []model.Vec2
}

// EventType indicates what kind of change happened on the site.
type EventType int

const (
	EventBuildingAdded EventType = iota
	EventBuildingRemoved
)

// Event is emitted after a building is added or removed.
type Event struct {
	Type     EventType
	Model    model.ModelID
	Building model.ElementID
}

// Model is a site layout.
type Model struct {
	mu sync.RWMutex

	id        model.ModelID
	nextID    model.ElementID
	buildings map[model.ElementID]*Building

	subs []func(Event)
}

// NewModel constructs an empty site.
func NewModel(id model.ModelID) *Model {
	return &Model{id: id, nextID: 1, buildings: make(map[model.ElementID]*Building)}
}

// ID returns the model id.
func (m *Model) ID() model.ModelID { return m.id }

// Ref builds an ElementRef for a building.
func (m *Model) Ref(id model.ElementID) model.ElementRef {
	return model.Ref(m.id, id)
}

// Subscribe registers a callback for site events.
func (m *Model) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.subs)
	m.subs = append(m.subs, fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs[idx] = nil
	}
}

func (m *Model) notify(ev Event) {
	ev.Model = m.id
	m.mu.RLock()
	subs := append([]func(Event){}, m.subs...)
	m.mu.RUnlock()
	for _, sub := range subs {
		if sub != nil {
			sub(ev)
		}
	}
}

// AddBuilding places a building on the site.
func (m *Model) AddBuilding(name string, footprint []model.Vec2) model.ElementID {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.buildings[id] = &Building{ID: id, Name: name, Footprint: append([]model.Vec2(nil), footprint...)}
	m.mu.Unlock()

	m.notify(Event{Type: EventBuildingAdded, Building: id})
	return id
}

// RemoveBuilding deletes a building.
func (m *Model) RemoveBuilding(id model.ElementID) error {
	m.mu.Lock()
	if _, ok := m.buildings[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBuildingNotFound, id)
	}
	delete(m.buildings, id)
	m.mu.Unlock()

	m.notify(Event{Type: EventBuildingRemoved, Building: id})
	return nil
}

// Has reports whether the building exists.
func (m *Model) Has(id model.ElementID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buildings[id]
	return ok
}

// Building returns a copy of a building.
func (m *Model) Building(id model.ElementID) (Building, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buildings[id]
	if !ok {
		return Building{}, false
	}
	cp := *b
	cp.Footprint = append([]model.Vec2(nil), b.Footprint...)
	return cp, true
}

// Buildings returns all building ids, sorted.
func (m *Model) Buildings() []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ElementID, 0, len(m.buildings))
	for id := range m.buildings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy with identical ids and no subscribers.
func (m *Model) Clone() *Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewModel(m.id)
	c.nextID = m.nextID
	for id, b := range m.buildings {
		cp := *b
		cp.Footprint = append([]model.Vec2(nil), b.Footprint...)
		c.buildings[id] = &cp
	}
	return c
}
