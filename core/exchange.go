// Package core is the association-and-recompute engine. An Exchange links
// components of a component tree to elements of the geometry, network and
// site models loaded in a kb.Store, keeps derived parameters, paths and
// connection states consistent with the models, mirrors volume topology
// into generated sub-components and bridges flow networks into geometry.
package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/geoexchange/component"
	"github.com/signalsfoundry/geoexchange/internal/logging"
	"github.com/signalsfoundry/geoexchange/kb"
	"github.com/signalsfoundry/geoexchange/kernel"
	"github.com/signalsfoundry/geoexchange/kernel/sdfx"
	"github.com/signalsfoundry/geoexchange/model"
)

const (
	// DefaultPixelToMeter converts network layout pixels to meters.
	DefaultPixelToMeter = 0.01
	// DefaultMaxFlushIterations bounds the re-entrant passes of one flush.
	DefaultMaxFlushIterations = 16

	tracerName = "github.com/signalsfoundry/geoexchange/core"
)

// EventType tells what an exchange Event reports.
type EventType int

const (
	EventGeometryInvalidated EventType = iota
	EventBuildingAssociationChanged
	EventBuildingComponentParameterChanged
)

func (t EventType) String() string {
	switch t {
	case EventGeometryInvalidated:
		return "geometry-invalidated"
	case EventBuildingAssociationChanged:
		return "building-association-changed"
	case EventBuildingComponentParameterChanged:
		return "building-component-parameter-changed"
	default:
		return "unknown"
	}
}

// Event is delivered to exchange subscribers at most once per type per
// external trigger. Elements is sorted by model then element id. Building
// is set for EventBuildingComponentParameterChanged.
type Event struct {
	Type     EventType
	Elements []model.ElementRef
	Building model.ElementRef
}

// MetricsRecorder receives per-flush measurements.
type MetricsRecorder interface {
	ObserveRecompute(d time.Duration, instances int)
	IncInvalidations()
	SetPlacementCounts(total, missing int)
}

// ProxyColors are the display colors of proxy geometry for the three
// association states.
type ProxyColors struct {
	Unassigned model.Color
	Assigned   model.Color
	Parent     model.Color
}

// DefaultColors returns grey for unassigned, blue for assigned and orange
// for parent-derived proxies.
func DefaultColors() ProxyColors {
	return ProxyColors{
		Unassigned: model.Color{R: 160, G: 160, B: 160, A: 255},
		Assigned:   model.Color{R: 40, G: 120, B: 220, A: 255},
		Parent:     model.Color{R: 230, G: 150, B: 40, A: 255},
	}
}

// Exchange is the association-and-recompute engine.
//
// It is single-writer: public methods serialise on mu, while callbacks from
// the component tree and from loaded models run synchronously on the
// mutating goroutine and never take the lock. Subscribers are notified
// after the lock is released, so they may call back into the exchange.
type Exchange struct {
	mu    sync.Mutex
	depth int

	store *kb.Store
	tree  *component.Tree

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	pixelToMeter  float64
	proxySize     model.Vec3
	colors        ProxyColors
	policies      map[AggregateKind]MissingPolicy
	maxIterations int
	kernel        kernel.Kernel
	materials     MaterialResolver
	defaultMesh   *kernel.Mesh

	reg      *registry
	pending  *changeSet
	batch    int
	user     int
	flushing bool
	outbox   []Event

	attached   map[model.ModelID]func()
	modelBatch map[model.ModelID]int
	storeUnsub func()

	bridges map[model.ModelID]*bridge
	targets map[model.ModelID]model.ModelID

	subs    map[int]func(Event)
	nextSub int
}

// ExchangeOption customises Exchange construction.
type ExchangeOption func(*Exchange)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) ExchangeOption {
	return func(e *Exchange) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics attaches an optional metrics recorder.
func WithMetrics(m MetricsRecorder) ExchangeOption {
	return func(e *Exchange) {
		e.metrics = m
	}
}

// WithTracer overrides the tracer used for flush spans.
func WithTracer(t trace.Tracer) ExchangeOption {
	return func(e *Exchange) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithAggregatePolicy sets how TargetMissing instances contribute to one
// aggregate kind.
func WithAggregatePolicy(kind AggregateKind, p MissingPolicy) ExchangeOption {
	return func(e *Exchange) {
		e.policies[kind] = p
	}
}

// WithPixelToMeter sets the network layout scale.
func WithPixelToMeter(f float64) ExchangeOption {
	return func(e *Exchange) {
		if f > 0 {
			e.pixelToMeter = f
		}
	}
}

// WithProxySize sets the size of proxies created by network conversion.
func WithProxySize(size model.Vec3) ExchangeOption {
	return func(e *Exchange) {
		e.proxySize = size
	}
}

// WithColors overrides the proxy display colors.
func WithColors(c ProxyColors) ExchangeOption {
	return func(e *Exchange) {
		e.colors = c
	}
}

// WithKernel selects the solid kernel used to tessellate the default proxy
// primitive. Without it the shared sdfx unit cube is used.
func WithKernel(k kernel.Kernel) ExchangeOption {
	return func(e *Exchange) {
		e.kernel = k
	}
}

// WithMaterialResolver replaces the face material lookup.
func WithMaterialResolver(r MaterialResolver) ExchangeOption {
	return func(e *Exchange) {
		if r != nil {
			e.materials = r
		}
	}
}

// WithMaxFlushIterations bounds the number of re-entrant passes per flush.
func WithMaxFlushIterations(n int) ExchangeOption {
	return func(e *Exchange) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewExchange attaches an exchange to a model store and a component tree.
// Every model already loaded is attached, every placement already present
// in the tree is registered and resolved.
func NewExchange(store *kb.Store, tree *component.Tree, opts ...ExchangeOption) (*Exchange, error) {
	if store == nil || tree == nil {
		return nil, fmt.Errorf("%w: nil store or tree", ErrInvalidArgument)
	}
	e := &Exchange{
		store:         store,
		tree:          tree,
		log:           logging.Noop(),
		tracer:        otel.Tracer(tracerName),
		pixelToMeter:  DefaultPixelToMeter,
		proxySize:     model.Vec3{X: 0.3, Y: 0.3, Z: 0.3},
		colors:        DefaultColors(),
		policies:      defaultPolicies(),
		maxIterations: DefaultMaxFlushIterations,
		materials:     attributeMaterials{},
		reg:           newRegistry(),
		pending:       newChangeSet(),
		attached:      make(map[model.ModelID]func()),
		modelBatch:    make(map[model.ModelID]int),
		bridges:       make(map[model.ModelID]*bridge),
		targets:       make(map[model.ModelID]model.ModelID),
		subs:          make(map[int]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	mesh, err := e.buildDefaultMesh()
	if err != nil {
		return nil, err
	}
	e.defaultMesh = mesh

	e.enter()
	defer e.leave()

	e.storeUnsub = store.Subscribe(e.onStoreEvent)
	for _, id := range store.Models() {
		e.attach(id)
	}
	tree.SetObserver(treeObserver{e: e})
	e.registerTree()
	e.maybeFlush()
	return e, nil
}

func (e *Exchange) buildDefaultMesh() (*kernel.Mesh, error) {
	if e.kernel == nil {
		mesh, err := sdfx.UnitCube()
		if err != nil {
			return nil, fmt.Errorf("default proxy mesh: %w", err)
		}
		return mesh, nil
	}
	mesh, err := e.kernel.ToMesh(e.kernel.Box(1, 1, 1))
	if err != nil {
		return nil, fmt.Errorf("default proxy mesh: %w", err)
	}
	mesh.Source = "primitive:cube"
	return mesh, nil
}

// Close detaches the exchange from the store, every model and the tree.
func (e *Exchange) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.storeUnsub != nil {
		e.storeUnsub()
		e.storeUnsub = nil
	}
	for id := range e.attached {
		e.detach(id)
	}
	e.tree.SetObserver(nil)
}

// Store returns the model store the exchange resolves against.
func (e *Exchange) Store() *kb.Store { return e.store }

// Tree returns the component tree the exchange observes.
func (e *Exchange) Tree() *component.Tree { return e.tree }

// enter and leave bracket every public entry point. Events produced while
// the lock is held are delivered by leave after unlocking.
func (e *Exchange) enter() {
	e.mu.Lock()
	e.depth++
}

func (e *Exchange) leave() {
	e.depth--
	evs := e.outbox
	e.outbox = nil
	e.mu.Unlock()
	e.emit(evs)
}

// settle flushes pending work after a callback. Outside an entry point the
// resulting events are delivered right away.
func (e *Exchange) settle() {
	e.maybeFlush()
	if e.depth == 0 && len(e.outbox) > 0 {
		evs := e.outbox
		e.outbox = nil
		e.emit(evs)
	}
}

// StartBatchOperation defers recompute until the matching
// EndBatchOperation. Batches nest.
func (e *Exchange) StartBatchOperation() {
	e.enter()
	defer e.leave()
	e.batch++
	e.user++
}

// EndBatchOperation closes a batch; closing the outermost one runs a
// single recompute over everything that changed inside it.
func (e *Exchange) EndBatchOperation() error {
	e.enter()
	defer e.leave()
	if e.user == 0 {
		return fmt.Errorf("%w: no batch operation in progress", ErrInvalidArgument)
	}
	e.user--
	e.batch--
	e.maybeFlush()
	return nil
}

// InBatch reports whether recompute is currently deferred.
func (e *Exchange) InBatch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch > 0
}

// Subscribe registers a callback for exchange events. It returns an
// unsubscribe function.
func (e *Exchange) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.nextSub
	e.nextSub++
	e.subs[idx] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, idx)
	}
}

// emit must be called without holding e.mu.
func (e *Exchange) emit(evs []Event) {
	if len(evs) == 0 {
		return
	}
	e.mu.Lock()
	keys := make([]int, 0, len(e.subs))
	for k := range e.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	subs := make([]func(Event), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, e.subs[k])
	}
	e.mu.Unlock()

	for _, ev := range evs {
		for _, sub := range subs {
			sub(ev)
		}
	}
}
