// Package network holds flow network models: nodes and edges laid out on
// a 2D canvas, where any node can be promoted to a nested sub-network.
//
// All elements of a root network and its nested sub-networks share one id
// space, so an ElementID addresses a node, edge or sub-network anywhere in
// the nesting.
package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/geoexchange/model"
)

var (
	ErrElementNotFound    = errors.New("network element not found")
	ErrWrongKind          = errors.New("network element has wrong kind")
	ErrSubnetworkNotEmpty = errors.New("sub-network is not empty")
	ErrInvalidEdge        = errors.New("invalid network edge")
	ErrNoBatch            = errors.New("no batch operation in progress")
)

// Kind enumerates network element kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindNode
	KindSubNetwork
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindSubNetwork:
		return "sub-network"
	case KindEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// IsNodeLike reports whether the kind can be an edge endpoint.
func (k Kind) IsNodeLike() bool {
	return k == KindNode || k == KindSubNetwork
}

// Node is a network node or a sub-network. Owner is the containing
// sub-network, 0 for the root network. Entry is the entry node of a
// sub-network; it anchors nested positions.
type Node struct {
	ID             model.ElementID
	Kind           Kind
	Owner          model.ElementID
	Name           string
	Position       model.Vec2
	Entry          model.ElementID
	Representation model.ElementRef
}

// Edge connects two node-like elements.
type Edge struct {
	ID             model.ElementID
	Owner          model.ElementID
	From, To       model.ElementID
	Representation model.ElementRef
}

// End selects one end of an edge.
type End int

const (
	EndFrom End = iota
	EndTo
)

// EventType indicates what kind of change happened in the network.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventNodeMoved
	EventEdgeAdded
	EventEdgeRemoved
	EventEdgeRedirected
	EventPromoted
	EventCollapsed
	EventEntryChanged
	EventBatchStarted
	EventBatchEnded
)

func (t EventType) String() string {
	switch t {
	case EventNodeAdded:
		return "node-added"
	case EventNodeRemoved:
		return "node-removed"
	case EventNodeMoved:
		return "node-moved"
	case EventEdgeAdded:
		return "edge-added"
	case EventEdgeRemoved:
		return "edge-removed"
	case EventEdgeRedirected:
		return "edge-redirected"
	case EventPromoted:
		return "promoted"
	case EventCollapsed:
		return "collapsed"
	case EventEntryChanged:
		return "entry-changed"
	case EventBatchStarted:
		return "batch-started"
	case EventBatchEnded:
		return "batch-ended"
	default:
		return "unknown"
	}
}

// Event describes one network change. For removals, Node or Edge holds
// the element as it was. For redirects, End, OldNode and NewNode describe
// the re-pointed end.
type Event struct {
	Type    EventType
	Model   model.ModelID
	Element model.ElementID
	Node    Node
	Edge    Edge
	End     End
	OldNode model.ElementID
	NewNode model.ElementID
}

// Model is a root flow network with all of its nested sub-networks.
type Model struct {
	mu sync.RWMutex

	id     model.ModelID
	nextID model.ElementID
	nodes  map[model.ElementID]*Node
	edges  map[model.ElementID]*Edge
	batch  int

	subs    map[int]func(Event)
	nextSub int
}

// NewModel constructs an empty root network.
func NewModel(id model.ModelID) *Model {
	return &Model{
		id:     id,
		nextID: 1,
		nodes:  make(map[model.ElementID]*Node),
		edges:  make(map[model.ElementID]*Edge),
		subs:   make(map[int]func(Event)),
	}
}

// ID returns the model id.
func (m *Model) ID() model.ModelID { return m.id }

// Ref builds an ElementRef for an element of this network.
func (m *Model) Ref(id model.ElementID) model.ElementRef {
	return model.Ref(m.id, id)
}

// Subscribe registers a callback for network events. Events raised inside
// nested sub-networks are delivered here as well.
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

func (m *Model) requireOwnerLocked(owner model.ElementID) error {
	if owner == 0 {
		return nil
	}
	n, ok := m.nodes[owner]
	if !ok {
		return fmt.Errorf("%w: owner %d", ErrElementNotFound, owner)
	}
	if n.Kind != KindSubNetwork {
		return fmt.Errorf("%w: owner %d is %s", ErrWrongKind, owner, n.Kind)
	}
	return nil
}

// AddNode creates a node inside owner (0 for the root network).
func (m *Model) AddNode(owner model.ElementID, name string, pos model.Vec2) (model.ElementID, error) {
	m.mu.Lock()
	if err := m.requireOwnerLocked(owner); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	id := m.nextID
	m.nextID++
	n := &Node{ID: id, Kind: KindNode, Owner: owner, Name: name, Position: pos}
	m.nodes[id] = n
	if owner != 0 && m.nodes[owner].Entry == 0 {
		m.nodes[owner].Entry = id
	}
	snapshot := *n
	m.mu.Unlock()

	m.notify(Event{Type: EventNodeAdded, Element: id, Node: snapshot})
	return id, nil
}

// AddEdge connects two node-like elements. The edge lives in the owner of
// its from node.
func (m *Model) AddEdge(from, to model.ElementID) (model.ElementID, error) {
	m.mu.Lock()
	a, okA := m.nodes[from]
	_, okB := m.nodes[to]
	if !okA || !okB {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: edge endpoints %d, %d", ErrElementNotFound, from, to)
	}
	if from == to {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: self loop on %d", ErrInvalidEdge, from)
	}
	id := m.nextID
	m.nextID++
	e := &Edge{ID: id, Owner: a.Owner, From: from, To: to}
	m.edges[id] = e
	snapshot := *e
	m.mu.Unlock()

	m.notify(Event{Type: EventEdgeAdded, Element: id, Edge: snapshot})
	return id, nil
}

// RemoveEdge deletes an edge.
func (m *Model) RemoveEdge(id model.ElementID) error {
	m.mu.Lock()
	e, ok := m.edges[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: edge %d", ErrElementNotFound, id)
	}
	delete(m.edges, id)
	snapshot := *e
	m.mu.Unlock()

	m.notify(Event{Type: EventEdgeRemoved, Element: id, Edge: snapshot})
	return nil
}

// RemoveNode deletes a node together with its incident edges. Removing a
// sub-network removes its whole content first. The cascade is reported
// inside one batch.
func (m *Model) RemoveNode(id model.ElementID) error {
	m.mu.RLock()
	n, ok := m.nodes[id]
	var kind Kind
	if ok {
		kind = n.Kind
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: node %d", ErrElementNotFound, id)
	}

	m.StartBatchOperation()
	defer func() {
		_ = m.EndBatchOperation()
	}()

	if kind == KindSubNetwork {
		for _, child := range m.Children(id) {
			if k, _ := m.Kind(child); k.IsNodeLike() {
				if err := m.RemoveNode(child); err != nil {
					return err
				}
			}
		}
	}
	for _, e := range m.IncidentEdges(id) {
		if err := m.RemoveEdge(e); err != nil {
			return err
		}
	}

	m.mu.Lock()
	snapshot := *m.nodes[id]
	delete(m.nodes, id)
	for _, other := range m.nodes {
		if other.Entry == id {
			other.Entry = 0
		}
	}
	m.mu.Unlock()

	m.notify(Event{Type: EventNodeRemoved, Element: id, Node: snapshot})
	return nil
}

// RedirectEdge re-points one end of an edge to another node-like element.
func (m *Model) RedirectEdge(edge model.ElementID, end End, node model.ElementID) error {
	m.mu.Lock()
	e, ok := m.edges[edge]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: edge %d", ErrElementNotFound, edge)
	}
	if _, ok := m.nodes[node]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrElementNotFound, node)
	}
	var old model.ElementID
	if end == EndFrom {
		if e.To == node {
			m.mu.Unlock()
			return fmt.Errorf("%w: self loop on %d", ErrInvalidEdge, node)
		}
		old, e.From = e.From, node
	} else {
		if e.From == node {
			m.mu.Unlock()
			return fmt.Errorf("%w: self loop on %d", ErrInvalidEdge, node)
		}
		old, e.To = e.To, node
	}
	snapshot := *e
	m.mu.Unlock()

	if old == node {
		return nil
	}
	m.notify(Event{Type: EventEdgeRedirected, Element: edge, Edge: snapshot, End: end, OldNode: old, NewNode: node})
	return nil
}

// MoveNode changes the 2D layout position of a node or sub-network.
func (m *Model) MoveNode(id model.ElementID, pos model.Vec2) error {
	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrElementNotFound, id)
	}
	if n.Position == pos {
		m.mu.Unlock()
		return nil
	}
	n.Position = pos
	snapshot := *n
	m.mu.Unlock()

	m.notify(Event{Type: EventNodeMoved, Element: id, Node: snapshot})
	return nil
}

// PromoteNode turns a node into an (empty) sub-network, keeping its id,
// position, edges and representation.
func (m *Model) PromoteNode(id model.ElementID) error {
	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: node %d", ErrElementNotFound, id)
	}
	if n.Kind != KindNode {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrWrongKind, id, n.Kind)
	}
	n.Kind = KindSubNetwork
	snapshot := *n
	m.mu.Unlock()

	m.notify(Event{Type: EventPromoted, Element: id, Node: snapshot})
	return nil
}

// CollapseSubnetwork turns an empty sub-network back into a plain node.
func (m *Model) CollapseSubnetwork(id model.ElementID) error {
	m.mu.Lock()
	n, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: sub-network %d", ErrElementNotFound, id)
	}
	if n.Kind != KindSubNetwork {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrWrongKind, id, n.Kind)
	}
	for _, c := range m.nodes {
		if c.Owner == id {
			m.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrSubnetworkNotEmpty, id)
		}
	}
	n.Kind = KindNode
	n.Entry = 0
	snapshot := *n
	m.mu.Unlock()

	m.notify(Event{Type: EventCollapsed, Element: id, Node: snapshot})
	return nil
}

// SetEntryNode selects the entry node of a sub-network.
func (m *Model) SetEntryNode(subnet, entry model.ElementID) error {
	m.mu.Lock()
	if err := m.requireOwnerLocked(subnet); err != nil || subnet == 0 {
		m.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: root network has no entry node", ErrWrongKind)
		}
		return err
	}
	e, ok := m.nodes[entry]
	if !ok || e.Owner != subnet {
		m.mu.Unlock()
		return fmt.Errorf("%w: entry %d in sub-network %d", ErrElementNotFound, entry, subnet)
	}
	m.nodes[subnet].Entry = entry
	snapshot := *m.nodes[subnet]
	m.mu.Unlock()

	m.notify(Event{Type: EventEntryChanged, Element: subnet, Node: snapshot})
	return nil
}

// SetRepresentation records the geometry element generated for a network
// element. It raises no event.
func (m *Model) SetRepresentation(id model.ElementID, ref model.ElementRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[id]; ok {
		n.Representation = ref
		return nil
	}
	if e, ok := m.edges[id]; ok {
		e.Representation = ref
		return nil
	}
	return fmt.Errorf("%w: %d", ErrElementNotFound, id)
}
