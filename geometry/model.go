// Package geometry is the in-memory geometry kernel the exchange works
// against: an arena of vertices, edges, edge loops, polylines, faces,
// volumes and proxy geometries addressed by stable integer ids.
//
// Element ids are never reused inside a model and are preserved by Clone,
// so a cloned model can be swapped in for the original and every
// reference by id stays meaningful.
package geometry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/model"
)

var (
	ErrElementNotFound = errors.New("geometry element not found")
	ErrWrongKind       = errors.New("geometry element has wrong kind")
	ErrInvalidTopology = errors.New("invalid topology")
	ErrNoBatch         = errors.New("no batch operation in progress")
)

// Kind enumerates the element kinds of a geometry model.
type Kind int

const (
	KindUnknown Kind = iota
	KindVertex
	KindEdge
	KindEdgeLoop
	KindPolyline
	KindFace
	KindVolume
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindEdge:
		return "edge"
	case KindEdgeLoop:
		return "edge-loop"
	case KindPolyline:
		return "polyline"
	case KindFace:
		return "face"
	case KindVolume:
		return "volume"
	case KindProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// Vertex is a point. Parent optionally attaches the vertex to another
// element (for example a network node placed inside a volume).
type Vertex struct {
	ID       model.ElementID
	Position model.Vec3
	Parent   model.ElementID
}

// Edge connects two vertices.
type Edge struct {
	ID     model.ElementID
	V0, V1 model.ElementID
}

// EdgeLoop is a closed, ordered chain of edges.
type EdgeLoop struct {
	ID    model.ElementID
	Edges []model.ElementID
}

// Polyline is an open, ordered chain of edges.
type Polyline struct {
	ID    model.ElementID
	Edges []model.ElementID
}

// Face is bounded by one edge loop and may have hole loops. Material
// optionally names the component supplying the face's material.
type Face struct {
	ID       model.ElementID
	Boundary model.ElementID
	Holes    []model.ElementID
	Material string
}

// VolumeFace is a face reference with orientation inside a volume.
type VolumeFace struct {
	Face     model.ElementID
	Reversed bool
}

// Volume is a closed set of oriented faces.
type Volume struct {
	ID    model.ElementID
	Faces []VolumeFace
}

// Proxy is a lightweight visual marker attached to a vertex.
type Proxy struct {
	ID       model.ElementID
	Vertex   model.ElementID
	Size     model.Vec3
	Rotation model.Vec3 // Euler angles in degrees
	Mesh     *kernel.Mesh
	Color    model.DerivedColor
}

// EventType indicates what kind of change happened in the model.
type EventType int

const (
	EventChanged EventType = iota
	EventBatchStarted
	EventBatchEnded
)

// Event is emitted to subscribers after every mutation. Changed lists the
// elements that were added or modified (including parents whose child
// lists changed); Removed lists elements that no longer exist.
type Event struct {
	Type       EventType
	Model      model.ModelID
	Changed    []model.ElementID
	Removed    []model.ElementID
	Structural bool
}

// Model is a geometry model. It is safe for concurrent reads; mutations
// are expected from a single writer. Subscribers are notified outside the
// lock so they may call back into the model.
type Model struct {
	mu sync.RWMutex

	id     model.ModelID
	nextID model.ElementID
	batch  int

	kinds     map[model.ElementID]Kind
	vertices  map[model.ElementID]*Vertex
	edges     map[model.ElementID]*Edge
	loops     map[model.ElementID]*EdgeLoop
	polylines map[model.ElementID]*Polyline
	faces     map[model.ElementID]*Face
	volumes   map[model.ElementID]*Volume
	proxies   map[model.ElementID]*Proxy

	// parents maps a child element to the elements that directly contain it.
	parents map[model.ElementID]map[model.ElementID]struct{}

	subs    map[int]func(Event)
	nextSub int
}

// NewModel constructs an empty model.
func NewModel(id model.ModelID) *Model {
	return &Model{
		id:        id,
		nextID:    1,
		kinds:     make(map[model.ElementID]Kind),
		vertices:  make(map[model.ElementID]*Vertex),
		edges:     make(map[model.ElementID]*Edge),
		loops:     make(map[model.ElementID]*EdgeLoop),
		polylines: make(map[model.ElementID]*Polyline),
		faces:     make(map[model.ElementID]*Face),
		volumes:   make(map[model.ElementID]*Volume),
		proxies:   make(map[model.ElementID]*Proxy),
		parents:   make(map[model.ElementID]map[model.ElementID]struct{}),
		subs:      make(map[int]func(Event)),
	}
}

// ID returns the model id.
func (m *Model) ID() model.ModelID { return m.id }

// Ref builds an ElementRef for an element of this model.
func (m *Model) Ref(id model.ElementID) model.ElementRef {
	return model.Ref(m.id, id)
}

// Subscribe registers a callback for model events. It returns an
// unsubscribe function.
func (m *Model) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.nextSub
	m.nextSub++
	m.subs[idx] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, idx)
	}
}

// notify must be called without holding m.mu.
func (m *Model) notify(ev Event) {
	ev.Model = m.id
	m.mu.RLock()
	keys := make([]int, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	subs := make([]func(Event), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, m.subs[k])
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub(ev)
	}
}

func (m *Model) changed(structural bool, ids ...model.ElementID) {
	m.notify(Event{Type: EventChanged, Changed: ids, Structural: structural})
}

// StartBatchOperation opens a (nestable) batch. Subscribers receive
// EventBatchStarted when the outermost batch opens.
func (m *Model) StartBatchOperation() {
	m.mu.Lock()
	m.batch++
	first := m.batch == 1
	m.mu.Unlock()
	if first {
		m.notify(Event{Type: EventBatchStarted})
	}
}

// EndBatchOperation closes a batch. Subscribers receive EventBatchEnded
// when the outermost batch closes.
func (m *Model) EndBatchOperation() error {
	m.mu.Lock()
	if m.batch == 0 {
		m.mu.Unlock()
		return ErrNoBatch
	}
	m.batch--
	last := m.batch == 0
	m.mu.Unlock()
	if last {
		m.notify(Event{Type: EventBatchEnded})
	}
	return nil
}

// InBatch reports whether a batch is open.
func (m *Model) InBatch() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batch > 0
}

func (m *Model) allocLocked(k Kind) model.ElementID {
	id := m.nextID
	m.nextID++
	m.kinds[id] = k
	return id
}

func (m *Model) linkLocked(child, parent model.ElementID) {
	if child == 0 {
		return
	}
	set, ok := m.parents[child]
	if !ok {
		set = make(map[model.ElementID]struct{})
		m.parents[child] = set
	}
	set[parent] = struct{}{}
}

func (m *Model) unlinkLocked(child, parent model.ElementID) {
	if set, ok := m.parents[child]; ok {
		delete(set, parent)
		if len(set) == 0 {
			delete(m.parents, child)
		}
	}
}

func (m *Model) requireLocked(id model.ElementID, k Kind) error {
	got, ok := m.kinds[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrElementNotFound, id)
	}
	if got != k {
		return fmt.Errorf("%w: %d is %s, want %s", ErrWrongKind, id, got, k)
	}
	return nil
}

//
// ---------- Queries ----------
//

// Has reports whether the element exists.
func (m *Model) Has(id model.ElementID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.kinds[id]
	return ok
}

// Kind returns the kind of an element.
func (m *Model) Kind(id model.ElementID) (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[id]
	return k, ok
}

// Parents returns the elements directly containing id, sorted by id.
func (m *Model) Parents(id model.ElementID) []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.parents[id]
	out := make([]model.ElementID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Vertex returns a copy of the vertex.
func (m *Model) Vertex(id model.ElementID) (Vertex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vertices[id]
	if !ok {
		return Vertex{}, false
	}
	return *v, true
}

// Edge returns a copy of the edge.
func (m *Model) Edge(id model.ElementID) (Edge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// EdgeLoop returns a copy of the loop.
func (m *Model) EdgeLoop(id model.ElementID) (EdgeLoop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loops[id]
	if !ok {
		return EdgeLoop{}, false
	}
	return EdgeLoop{ID: l.ID, Edges: append([]model.ElementID(nil), l.Edges...)}, true
}

// Polyline returns a copy of the polyline.
func (m *Model) Polyline(id model.ElementID) (Polyline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.polylines[id]
	if !ok {
		return Polyline{}, false
	}
	return Polyline{ID: p.ID, Edges: append([]model.ElementID(nil), p.Edges...)}, true
}

// Face returns a copy of the face.
func (m *Model) Face(id model.ElementID) (Face, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faces[id]
	if !ok {
		return Face{}, false
	}
	cp := *f
	cp.Holes = append([]model.ElementID(nil), f.Holes...)
	return cp, true
}

// Volume returns a copy of the volume.
func (m *Model) Volume(id model.ElementID) (Volume, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[id]
	if !ok {
		return Volume{}, false
	}
	return Volume{ID: v.ID, Faces: append([]VolumeFace(nil), v.Faces...)}, true
}

// Proxy returns a copy of the proxy geometry.
func (m *Model) Proxy(id model.ElementID) (Proxy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[id]
	if !ok {
		return Proxy{}, false
	}
	return *p, true
}

// ProxyForVertex returns the proxy attached to a vertex, if any.
func (m *Model) ProxyForVertex(vertex model.ElementID) (model.ElementID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.parents[vertex] {
		if m.kinds[p] == KindProxy {
			return p, true
		}
	}
	return 0, false
}

// FaceByBoundary returns the face whose boundary loop is loop, if any.
func (m *Model) FaceByBoundary(loop model.ElementID) (model.ElementID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.parents[loop] {
		if f, ok := m.faces[p]; ok && f.Boundary == loop {
			return p, true
		}
	}
	return 0, false
}

// Count returns the number of elements of the given kind.
func (m *Model) Count(k Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, kk := range m.kinds {
		if kk == k {
			n++
		}
	}
	return n
}

// IDs returns all element ids of the given kind, sorted.
func (m *Model) IDs(k Kind) []model.ElementID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ElementID, 0)
	for id, kk := range m.kinds {
		if kk == k {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy with identical model and element ids and no
// subscribers.
func (m *Model) Clone() *Model {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := NewModel(m.id)
	c.nextID = m.nextID
	for id, k := range m.kinds {
		c.kinds[id] = k
	}
	for id, v := range m.vertices {
		cp := *v
		c.vertices[id] = &cp
	}
	for id, e := range m.edges {
		cp := *e
		c.edges[id] = &cp
	}
	for id, l := range m.loops {
		c.loops[id] = &EdgeLoop{ID: l.ID, Edges: append([]model.ElementID(nil), l.Edges...)}
	}
	for id, p := range m.polylines {
		c.polylines[id] = &Polyline{ID: p.ID, Edges: append([]model.ElementID(nil), p.Edges...)}
	}
	for id, f := range m.faces {
		cp := *f
		cp.Holes = append([]model.ElementID(nil), f.Holes...)
		c.faces[id] = &cp
	}
	for id, v := range m.volumes {
		c.volumes[id] = &Volume{ID: v.ID, Faces: append([]VolumeFace(nil), v.Faces...)}
	}
	for id, p := range m.proxies {
		cp := *p
		cp.Mesh = p.Mesh.Clone()
		c.proxies[id] = &cp
	}
	for child, set := range m.parents {
		cs := make(map[model.ElementID]struct{}, len(set))
		for p := range set {
			cs[p] = struct{}{}
		}
		c.parents[child] = cs
	}
	return c
}
