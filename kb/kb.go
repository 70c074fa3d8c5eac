// Package kb is the store of loaded models. Geometry, network and site
// models are registered under their ModelID; the association engine
// resolves every placement against this store.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/geoexchange/geometry"
	"github.com/signalsfoundry/geoexchange/model"
	"github.com/signalsfoundry/geoexchange/network"
	"github.com/signalsfoundry/geoexchange/site"
)

var (
	ErrModelExists   = errors.New("model already loaded")
	ErrModelNotFound = errors.New("model not loaded")
	ErrNilModel      = errors.New("nil model")
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventModelLoaded EventType = iota
	EventModelUnloaded
	EventModelReplaced
)

func (t EventType) String() string {
	switch t {
	case EventModelLoaded:
		return "loaded"
	case EventModelUnloaded:
		return "unloaded"
	case EventModelReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers after a model is loaded, unloaded or
// swapped for another model with the same id.
type Event struct {
	Type  EventType
	Model model.ModelID
	Kind  model.ModelKind
}

// Store is an in-memory, thread-safe registry of loaded models.
type Store struct {
	mu sync.RWMutex

	geometries map[model.ModelID]*geometry.Model
	networks   map[model.ModelID]*network.Model
	sites      map[model.ModelID]*site.Model

	subs    map[int]func(Event)
	nextSub int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		geometries: make(map[model.ModelID]*geometry.Model),
		networks:   make(map[model.ModelID]*network.Model),
		sites:      make(map[model.ModelID]*site.Model),
		subs:       make(map[int]func(Event)),
	}
}

func (s *Store) kindLocked(id model.ModelID) model.ModelKind {
	if _, ok := s.geometries[id]; ok {
		return model.ModelKindGeometry
	}
	if _, ok := s.networks[id]; ok {
		return model.ModelKindNetwork
	}
	if _, ok := s.sites[id]; ok {
		return model.ModelKindSite
	}
	return model.ModelKindUnknown
}

// load stores a model with put after checking the id is free.
func (s *Store) load(id model.ModelID, kind model.ModelKind, put func()) error {
	s.mu.Lock()
	if k := s.kindLocked(id); k != model.ModelKindUnknown {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q (%s)", ErrModelExists, id, k)
	}
	put()
	s.mu.Unlock()

	s.notify(Event{Type: EventModelLoaded, Model: id, Kind: kind})
	return nil
}

// LoadGeometry registers a geometry model.
func (s *Store) LoadGeometry(m *geometry.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.load(m.ID(), model.ModelKindGeometry, func() { s.geometries[m.ID()] = m })
}

// LoadNetwork registers a flow network model.
func (s *Store) LoadNetwork(m *network.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.load(m.ID(), model.ModelKindNetwork, func() { s.networks[m.ID()] = m })
}

// LoadSite registers a site model.
func (s *Store) LoadSite(m *site.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.load(m.ID(), model.ModelKindSite, func() { s.sites[m.ID()] = m })
}

// Unload removes a model of any kind.
func (s *Store) Unload(id model.ModelID) error {
	s.mu.Lock()
	kind := s.kindLocked(id)
	if kind == model.ModelKindUnknown {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrModelNotFound, id)
	}
	delete(s.geometries, id)
	delete(s.networks, id)
	delete(s.sites, id)
	s.mu.Unlock()

	s.notify(Event{Type: EventModelUnloaded, Model: id, Kind: kind})
	return nil
}

// replace swaps a model of the same kind in place, or loads it when the
// id is free.
func (s *Store) replace(id model.ModelID, kind model.ModelKind, put func()) error {
	s.mu.Lock()
	cur := s.kindLocked(id)
	if cur != model.ModelKindUnknown && cur != kind {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q is a %s model", ErrModelExists, id, cur)
	}
	put()
	s.mu.Unlock()

	typ := EventModelReplaced
	if cur == model.ModelKindUnknown {
		typ = EventModelLoaded
	}
	s.notify(Event{Type: typ, Model: id, Kind: kind})
	return nil
}

// ReplaceGeometry swaps in a geometry model, typically a clone of the
// previous one. Element ids are the stable key across the swap.
func (s *Store) ReplaceGeometry(m *geometry.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.replace(m.ID(), model.ModelKindGeometry, func() { s.geometries[m.ID()] = m })
}

// ReplaceNetwork swaps in a network model.
func (s *Store) ReplaceNetwork(m *network.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.replace(m.ID(), model.ModelKindNetwork, func() { s.networks[m.ID()] = m })
}

// ReplaceSite swaps in a site model.
func (s *Store) ReplaceSite(m *site.Model) error {
	if m == nil {
		return ErrNilModel
	}
	return s.replace(m.ID(), model.ModelKindSite, func() { s.sites[m.ID()] = m })
}

// Geometry returns a loaded geometry model.
func (s *Store) Geometry(id model.ModelID) (*geometry.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.geometries[id]
	return m, ok
}

// Network returns a loaded network model.
func (s *Store) Network(id model.ModelID) (*network.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.networks[id]
	return m, ok
}

// Site returns a loaded site model.
func (s *Store) Site(id model.ModelID) (*site.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sites[id]
	return m, ok
}

// Kind returns the kind of a loaded model, ModelKindUnknown otherwise.
func (s *Store) Kind(id model.ModelID) model.ModelKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kindLocked(id)
}

// Has reports whether a model is loaded.
func (s *Store) Has(id model.ModelID) bool {
	return s.Kind(id) != model.ModelKindUnknown
}

// Resolve reports whether ref addresses an existing element of a loaded
// model.
func (s *Store) Resolve(ref model.ElementRef) bool {
	switch s.Kind(ref.Model) {
	case model.ModelKindGeometry:
		m, _ := s.Geometry(ref.Model)
		return m != nil && m.Has(ref.Element)
	case model.ModelKindNetwork:
		m, _ := s.Network(ref.Model)
		return m != nil && m.Has(ref.Element)
	case model.ModelKindSite:
		m, _ := s.Site(ref.Model)
		return m != nil && m.Has(ref.Element)
	}
	return false
}

// Models returns the ids of all loaded models, sorted.
func (s *Store) Models() []model.ModelID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ModelID, 0, len(s.geometries)+len(s.networks)+len(s.sites))
	for id := range s.geometries {
		out = append(out, id)
	}
	for id := range s.networks {
		out = append(out, id)
	}
	for id := range s.sites {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextSub
	s.nextSub++
	s.subs[idx] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, idx)
	}
}

// notify delivers an event outside the lock to avoid deadlocks.
func (s *Store) notify(ev Event) {
	s.mu.RLock()
	keys := make([]int, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	subs := make([]func(Event), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, s.subs[k])
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub(ev)
	}
}
