// Package fsm provides a compiled hierarchical state machine (UML statechart) engine for Go.
//
// # Overview
//
// A model is a tree of states, orthogonal regions and pseudostates joined by guarded
// transitions. Before it runs, the model is bootstrapped: every element's entry and exit
// logic, and every transition's traversal, is flattened into an ordered slice of
// behaviors. Dispatching a message then only selects transitions and replays those
// slices, so one compiled model can drive any number of independent instances.
//
// # Features
//
//   - **Hierarchical States**: composite states with any number of orthogonal regions.
//   - **Pseudostates**: initial, shallow and deep history, choice, junction and terminate.
//   - **Completion Transitions**: unguarded transitions fire as soon as their source completes.
//   - **Shared Models**: the compiled model is read-only while instances are dispatched.
//
// # Usage
//
//	model := fsm.NewStateMachine("model")
//	initial := fsm.NewPseudoState("initial", model, kind.Initial)
//	idle := fsm.NewState("idle", model)
//	running := fsm.NewState("running", model)
//
//	initial.To(idle)
//	idle.To(running).When(func(message any, instance fsm.Instance) bool {
//	    return message == "start"
//	})
//
//	instance := fsm.NewDictionaryInstance("example")
//	if err := model.Initialise(instance); err != nil {
//	    return err
//	}
//	processed, err := model.Evaluate("start", instance)
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/stateforward/fsm.go/elements"
	"github.com/stateforward/fsm.go/kind"
	"github.com/stateforward/fsm.go/tree"
)

// DefaultRegionName names the region created on demand when a vertex is added
// directly to a state.
const DefaultRegionName = "default"

var (
	// ErrFinalStateTransition is raised when a transition is created from a final state.
	ErrFinalStateTransition = errors.New("transitions may not originate from a final state")
	// ErrInvalidPseudoStateKind is raised when a pseudostate is created with a kind
	// that is not one of the concrete pseudostate kinds.
	ErrInvalidPseudoStateKind = errors.New("invalid pseudostate kind")
	// ErrForeignVertex is raised when a transition targets a vertex owned by another state machine.
	ErrForeignVertex = errors.New("transition target belongs to a different state machine")
	// ErrCrossRegionTransition is returned by Bootstrap for a transition between
	// sibling orthogonal regions.
	ErrCrossRegionTransition = errors.New("transitions may not cross sibling orthogonal region boundaries")
	// ErrInitialTransitions is reported when an initial or history pseudostate does
	// not have exactly one outgoing transition.
	ErrInitialTransitions = errors.New("initial transition must have a single outbound transition")
	// ErrMultipleTransitions is reported when more than one guard evaluates true for a message.
	ErrMultipleTransitions = errors.New("multiple outbound transitions evaluated true")
	// ErrMultipleElse is reported when a choice or junction has more than one else transition.
	ErrMultipleElse = errors.New("multiple outbound else transitions found")
	// ErrMissingInitial is reported when a region is entered without an explicit
	// target, an initial pseudostate or a remembered state.
	ErrMissingInitial = errors.New("region has no initial pseudostate")
	// ErrNilInstance is returned when Initialise or Evaluate is called without an instance.
	ErrNilInstance = errors.New("instance is nil")
)

// Behavior is an action run while entering or leaving an element, or while
// traversing a transition. history is true while a history pseudostate is
// restoring a previously active configuration.
type Behavior func(message any, instance Instance, history bool)

// Guard decides whether a transition accepts a message.
type Guard func(message any, instance Instance) bool

type behaviors []Behavior

func (b behaviors) invoke(message any, instance Instance, history bool) {
	for _, behavior := range b {
		behavior(message, instance, history)
	}
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	defaultRandom atomic.Pointer[func(int) int]
)

// SetLogger replaces the logger used for bootstrap and trace records. Passing
// nil restores slog.Default.
func SetLogger(logger *slog.Logger) {
	defaultLogger.Store(logger)
}

// SetRandom replaces the source choice pseudostates use to pick among several
// enabled transitions. fn must return a value in [0, n). Passing nil restores
// math/rand/v2.
func SetRandom(fn func(n int) int) {
	if fn == nil {
		defaultRandom.Store(nil)
		return
	}
	defaultRandom.Store(&fn)
}

func logger() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func random(n int) int {
	if fn := defaultRandom.Load(); fn != nil {
		return (*fn)(n)
	}
	return rand.IntN(n)
}

// fault carries errors raised while replaying compiled behaviors back to the
// public entry points.
type fault struct {
	err error
}

func raise(err error) {
	panic(fault{err: err})
}

func capture(err *error) {
	if r := recover(); r != nil {
		if f, ok := r.(fault); ok {
			*err = f.err
			return
		}
		panic(r)
	}
}

func traceback(err error) {
	_, file, line, _ := runtime.Caller(2)
	panic(fmt.Errorf("%s:%d: %w", file, line, err))
}

func getFunctionName(fn any) string {
	if fn == nil {
		return ""
	}
	value := reflect.ValueOf(fn)
	if value.Kind() != reflect.Func || value.IsNil() {
		return ""
	}
	return path.Base(runtime.FuncForPC(value.Pointer()).Name())
}

func functionNames[T any](fns []T) []string {
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		names = append(names, getFunctionName(fn))
	}
	return names
}

/******* Element *******/

// Element is any node of the model tree. Elements live in their state
// machine's arena and refer to each other by index.
type Element interface {
	elements.NamedElement
	// Index is the element's stable position in its state machine's arena.
	Index() int
	// Parent returns the owning element: the region of a vertex, the state of a
	// region, nil for the state machine.
	Parent() Element
	String() string

	base() *element
	bootstrapEnter(add func(behaviors), next Element)
}

type element struct {
	machine *StateMachine
	index   int
	owner   int
	name    string
	kind    uint64

	leave      behaviors
	beginEnter behaviors
	endEnter   behaviors
	enter      behaviors
}

func (e *element) base() *element {
	return e
}

func (e *element) self() Element {
	return e.machine.arena[e.index]
}

func (e *element) Name() string {
	return e.name
}

func (e *element) Kind() uint64 {
	return e.kind
}

func (e *element) Index() int {
	return e.index
}

func (e *element) Id() string {
	return strconv.Itoa(e.index)
}

func (e *element) Parent() Element {
	if e.owner < 0 {
		return nil
	}
	return e.machine.arena[e.owner]
}

func (e *element) QualifiedName() string {
	if parent := e.Parent(); parent != nil {
		return path.Join(parent.QualifiedName(), e.name)
	}
	return path.Join("/", e.name)
}

func (e *element) OwnerName() string {
	if parent := e.Parent(); parent != nil {
		return parent.QualifiedName()
	}
	return ""
}

func (e *element) String() string {
	return e.QualifiedName()
}

func (e *element) trace(action string) Behavior {
	return func(_ any, instance Instance, history bool) {
		if log := logger(); log.Enabled(context.Background(), slog.LevelDebug) {
			log.Debug("fsm: "+action, "element", e.QualifiedName(), "instance", instance, "history", history)
		}
	}
}

func (e *element) reset() {
	e.leave = behaviors{e.trace("leave")}
	e.beginEnter = behaviors{e.trace("enter")}
	e.endEnter = nil
	e.enter = nil
}

func (e *element) bootstrap(bool) {
	e.enter = slices.Concat(e.beginEnter, e.endEnter)
}

func (e *element) bootstrapEnter(add func(behaviors), _ Element) {
	add(e.beginEnter)
}

// Namespace is an element vertices can be added to: a region, or a state whose
// default region receives them.
type Namespace interface {
	Element
	defaultRegion() *Region
}

/******* Region *******/

// Region is a container of vertices. At most one of them is active per
// instance; several regions of one state run orthogonally.
type Region struct {
	element
	vertices []int
	initial  int
}

// NewRegion adds a region to state.
func NewRegion(name string, state interface {
	Namespace
	asState() *State
}) *Region {
	owner := state.asState()
	region := &Region{initial: -1}
	region.element = element{name: name, kind: kind.Region, owner: owner.index}
	owner.machine.add(region)
	owner.regions = append(owner.regions, region.index)
	return region
}

func (r *Region) defaultRegion() *Region {
	return r
}

// State returns the state owning the region.
func (r *Region) State() *State {
	return r.Parent().(interface{ asState() *State }).asState()
}

// Vertices returns the region's vertices in the order they were added.
func (r *Region) Vertices() []Vertex {
	vertices := make([]Vertex, 0, len(r.vertices))
	for _, index := range r.vertices {
		vertices = append(vertices, r.machine.arena[index].(Vertex))
	}
	return vertices
}

// Initial returns the initial or history pseudostate used when the region is
// entered without an explicit target, nil if there is none.
func (r *Region) Initial() *PseudoState {
	if r.initial < 0 {
		return nil
	}
	return r.machine.arena[r.initial].(*PseudoState)
}

func (r *Region) Members() []elements.NamedElement {
	members := make([]elements.NamedElement, 0, len(r.vertices))
	for _, index := range r.vertices {
		members = append(members, r.machine.arena[index])
	}
	return members
}

// IsComplete reports whether the region's active state is final for instance.
func (r *Region) IsComplete(instance Instance) bool {
	current := instance.Current(r)
	return current != nil && current.IsFinal()
}

func (r *Region) bootstrap(deepHistoryAbove bool) {
	initial := r.Initial()
	deepHistory := initial != nil && kind.Is(initial.kind, kind.DeepHistory)
	for _, vertex := range r.Vertices() {
		vertex.base().reset()
		vertex.bootstrap(deepHistoryAbove || deepHistory)
	}
	r.leave = append(r.leave, func(message any, instance Instance, history bool) {
		if current := instance.Current(r); current != nil {
			current.leave.invoke(message, instance, history)
		}
	})
	if deepHistoryAbove || initial == nil || kind.Is(initial.kind, kind.History) {
		r.endEnter = append(r.endEnter, func(message any, instance Instance, history bool) {
			var entering *element
			if initial != nil {
				entering = initial.base()
			}
			if history || initial == nil || kind.Is(initial.kind, kind.History) {
				if current := instance.Current(r); current != nil {
					entering = current.base()
				}
			}
			if entering == nil {
				raise(fmt.Errorf("%w: %s", ErrMissingInitial, r.QualifiedName()))
			}
			entering.enter.invoke(message, instance, history || deepHistory)
		})
	} else {
		r.endEnter = append(r.endEnter, initial.enter...)
	}
	r.element.bootstrap(deepHistoryAbove)
}

func (r *Region) evaluate(message any, instance Instance) bool {
	current := instance.Current(r)
	if current == nil {
		return false
	}
	return current.evaluate(message, instance)
}

/******* Vertex *******/

// Vertex is a node transitions can leave from and arrive at.
type Vertex interface {
	Element
	elements.Vertex
	// To creates a transition from this vertex. A nil target makes it an
	// internal transition that only runs its effects.
	To(target Vertex) *Transition
	Transitions() []*Transition
	// Region returns the region owning the vertex, nil for a state machine.
	Region() *Region

	bootstrap(deepHistoryAbove bool)
	evaluate(message any, instance Instance) bool
	isComplete(instance Instance) bool
	selectTransition(message any, instance Instance) *Transition
}

type vertex struct {
	element
	transitions []*Transition
}

func (v *vertex) init(namespace Namespace, name string, k uint64, self Vertex) *Region {
	region := namespace.defaultRegion()
	v.element = element{name: name, kind: k, owner: region.index}
	region.machine.add(self)
	region.vertices = append(region.vertices, v.index)
	return region
}

func (v *vertex) Region() *Region {
	region, _ := v.Parent().(*Region)
	return region
}

func (v *vertex) Transitions() []*Transition {
	return v.transitions
}

func (v *vertex) Outgoing() []elements.Transition {
	outgoing := make([]elements.Transition, 0, len(v.transitions))
	for _, transition := range v.transitions {
		outgoing = append(outgoing, transition)
	}
	return outgoing
}

// To creates a completion transition from the vertex to target. Use When to
// turn it into a message triggered transition.
//
// Example:
//
//	idle.To(running).When(func(message any, instance fsm.Instance) bool {
//	    return message == "start"
//	})
//	idle.To(nil).Effect(logMessage) // internal transition
func (v *vertex) To(target Vertex) *Transition {
	if kind.Is(v.kind, kind.FinalState) {
		traceback(fmt.Errorf("%w: %s", ErrFinalStateTransition, v.QualifiedName()))
	}
	if target != nil {
		if target.base().machine != v.machine {
			traceback(fmt.Errorf("%w: %s", ErrForeignVertex, target.QualifiedName()))
		}
		target = target.base().self().(Vertex)
	}
	transition := &Transition{
		source: v.self().(Vertex),
		target: target,
		kind:   kind.Transition,
	}
	v.transitions = append(v.transitions, transition)
	v.machine.invalidate()
	return transition
}

func (v *vertex) isComplete(Instance) bool {
	return true
}

func (v *vertex) bootstrap(deepHistoryAbove bool) {
	v.endEnter = append(v.endEnter, v.evaluateCompletions)
	v.element.bootstrap(deepHistoryAbove)
}

func (v *vertex) evaluateCompletions(_ any, instance Instance, _ bool) {
	self := v.self().(Vertex)
	if self.isComplete(instance) {
		self.evaluate(self, instance)
	}
}

func (v *vertex) evaluate(message any, instance Instance) bool {
	transition := v.selectTransition(message, instance)
	if transition == nil {
		return false
	}
	if !transition.targetsJunction() {
		transition.traverse.invoke(message, instance, false)
		return true
	}
	// junctions are static branches: the whole compound transition is
	// selected before any of it runs
	compound := []*Transition{transition}
	for transition.targetsJunction() {
		transition = transition.target.selectTransition(message, instance)
		if transition == nil {
			return false
		}
		compound = append(compound, transition)
	}
	for _, transition := range compound {
		transition.traverse.invoke(message, instance, false)
	}
	return true
}

func (v *vertex) selectTransition(message any, instance Instance) *Transition {
	switch {
	case kind.Is(v.kind, kind.Initial):
		if len(v.transitions) != 1 {
			raise(fmt.Errorf("%w: %s has %d", ErrInitialTransitions, v.QualifiedName(), len(v.transitions)))
		}
		return v.transitions[0]
	case kind.Is(v.kind, kind.Junction):
		if transition := v.selectSingle(message, instance); transition != nil {
			return transition
		}
		return v.selectElse()
	case kind.Is(v.kind, kind.Choice):
		var enabled []*Transition
		for _, transition := range v.transitions {
			if transition.accepts(message, instance) {
				enabled = append(enabled, transition)
			}
		}
		if len(enabled) > 0 {
			return enabled[random(len(enabled))]
		}
		return v.selectElse()
	case kind.Is(v.kind, kind.Terminate):
		return nil
	default:
		return v.selectSingle(message, instance)
	}
}

func (v *vertex) selectSingle(message any, instance Instance) *Transition {
	var selected *Transition
	for _, transition := range v.transitions {
		if !transition.accepts(message, instance) {
			continue
		}
		if selected != nil {
			raise(fmt.Errorf("%w: %s", ErrMultipleTransitions, v.QualifiedName()))
		}
		selected = transition
	}
	return selected
}

func (v *vertex) selectElse() *Transition {
	var selected *Transition
	for _, transition := range v.transitions {
		if !transition.isElse {
			continue
		}
		if selected != nil {
			raise(fmt.Errorf("%w: %s", ErrMultipleElse, v.QualifiedName()))
		}
		selected = transition
	}
	return selected
}

/******* PseudoState *******/

// PseudoState is a transient vertex. It is entered and left within a single
// dispatch and never becomes a region's current state.
type PseudoState struct {
	vertex
}

var pseudoStateKinds = []uint64{
	kind.Initial,
	kind.ShallowHistory,
	kind.DeepHistory,
	kind.Choice,
	kind.Junction,
	kind.Terminate,
}

// NewPseudoState adds a pseudostate of the given kind to namespace. Initial and
// history pseudostates become the initial vertex of their region.
//
// Example:
//
//	initial := fsm.NewPseudoState("initial", model, kind.Initial)
//	history := fsm.NewPseudoState("history", composite, kind.ShallowHistory)
func NewPseudoState(name string, namespace Namespace, pseudoStateKind uint64) *PseudoState {
	if !slices.Contains(pseudoStateKinds, pseudoStateKind) {
		traceback(fmt.Errorf("%w: %s", ErrInvalidPseudoStateKind, name))
	}
	pseudoState := &PseudoState{}
	region := pseudoState.init(namespace, name, pseudoStateKind, pseudoState)
	if kind.Is(pseudoStateKind, kind.Initial) {
		region.initial = pseudoState.index
	}
	return pseudoState
}

// IsHistory reports whether the pseudostate is a shallow or deep history.
func (p *PseudoState) IsHistory() bool {
	return kind.Is(p.kind, kind.History)
}

func (p *PseudoState) bootstrap(deepHistoryAbove bool) {
	if kind.Is(p.kind, kind.Terminate) {
		p.endEnter = append(p.endEnter, func(_ any, instance Instance, _ bool) {
			logger().Info("fsm: terminated", "element", p.QualifiedName(), "instance", instance)
			instance.Terminate()
		})
	}
	p.vertex.bootstrap(deepHistoryAbove)
}

/******* State *******/

// State is a vertex that can be the current state of its region. A state with
// regions is composite; with more than one it is orthogonal.
type State struct {
	vertex
	regions []int
	entry   behaviors
	exit    behaviors
}

// NewState adds a state to namespace.
func NewState(name string, namespace Namespace) *State {
	state := &State{}
	state.init(namespace, name, kind.State, state)
	return state
}

func (s *State) asState() *State {
	return s
}

func (s *State) defaultRegion() *Region {
	for _, region := range s.Regions() {
		if region.name == DefaultRegionName {
			return region
		}
	}
	return NewRegion(DefaultRegionName, s)
}

// Regions returns the state's regions in the order they were added.
func (s *State) Regions() []*Region {
	regions := make([]*Region, 0, len(s.regions))
	for _, index := range s.regions {
		regions = append(regions, s.machine.arena[index].(*Region))
	}
	return regions
}

func (s *State) Members() []elements.NamedElement {
	members := make([]elements.NamedElement, 0, len(s.regions))
	for _, index := range s.regions {
		members = append(members, s.machine.arena[index])
	}
	return members
}

// Entry appends behaviors run when the state is entered.
func (s *State) Entry(entry ...Behavior) *State {
	s.entry = append(s.entry, entry...)
	s.machine.invalidate()
	return s
}

// Exit appends behaviors run when the state is left.
func (s *State) Exit(exit ...Behavior) *State {
	s.exit = append(s.exit, exit...)
	s.machine.invalidate()
	return s
}

func (s *State) EntryNames() []string {
	return functionNames(s.entry)
}

func (s *State) ExitNames() []string {
	return functionNames(s.exit)
}

func (s *State) IsSimple() bool {
	return len(s.regions) == 0
}

func (s *State) IsComposite() bool {
	return len(s.regions) > 0
}

func (s *State) IsOrthogonal() bool {
	return len(s.regions) > 1
}

// IsFinal reports whether the state has no outgoing transitions, which makes
// its region complete once it is active.
func (s *State) IsFinal() bool {
	return len(s.transitions) == 0
}

// isActive reports whether s and every state enclosing it are current. Leaving
// a region does not clear its entry in the instance, so the whole chain is
// checked.
func (s *State) isActive(instance Instance) bool {
	for state := s; ; {
		region := state.Region()
		if region == nil {
			return true
		}
		if instance.Current(region) != state {
			return false
		}
		state = region.State()
	}
}

func (s *State) isComplete(instance Instance) bool {
	for _, region := range s.Regions() {
		if !region.IsComplete(instance) {
			return false
		}
	}
	return true
}

func (s *State) bootstrap(deepHistoryAbove bool) {
	for _, region := range s.Regions() {
		region.reset()
		region.bootstrap(deepHistoryAbove)
		s.leave = append(s.leave, func(message any, instance Instance, history bool) {
			region.leave.invoke(message, instance, history)
		})
		s.endEnter = append(s.endEnter, region.enter...)
	}
	s.vertex.bootstrap(deepHistoryAbove)
	s.leave = append(s.leave, s.exit...)
	s.beginEnter = append(s.beginEnter, s.entry...)
	if region := s.Region(); region != nil {
		s.beginEnter = append(s.beginEnter, func(_ any, instance Instance, _ bool) {
			instance.SetCurrent(region, s)
		})
	}
	s.element.bootstrap(deepHistoryAbove)
}

func (s *State) bootstrapEnter(add func(behaviors), next Element) {
	s.element.bootstrapEnter(add, next)
	for _, region := range s.Regions() {
		if Element(region) != next {
			add(region.enter)
		}
	}
}

func (s *State) evaluate(message any, instance Instance) bool {
	processed := false
	for _, region := range s.Regions() {
		// an earlier region may have left s or terminated the instance
		if processed && (instance.Terminated() || !s.isActive(instance)) {
			break
		}
		if region.evaluate(message, instance) {
			processed = true
		}
	}
	if !processed {
		processed = s.vertex.evaluate(message, instance)
	}
	if processed && !instance.Terminated() && s.isActive(instance) {
		if self := s.self(); message != any(self) {
			s.evaluateCompletions(self, instance, false)
		}
	}
	return processed
}

/******* FinalState *******/

// FinalState is a state that may not have outgoing transitions. To panics
// with ErrFinalStateTransition.
type FinalState struct {
	State
}

// NewFinalState adds a final state to namespace.
func NewFinalState(name string, namespace Namespace) *FinalState {
	final := &FinalState{}
	final.init(namespace, name, kind.FinalState, final)
	return final
}

/******* StateMachine *******/

// StateMachine is the root state of a model and owns the arena of every
// element in it.
//
// The model must not be modified while instances are being evaluated. Once
// bootstrapped and left unchanged it may be shared by any number of
// goroutines, each evaluating its own instances.
type StateMachine struct {
	State
	arena []Element
	clean atomic.Bool
	mutex sync.Mutex
}

// NewStateMachine creates an empty model.
func NewStateMachine(name string) *StateMachine {
	machine := &StateMachine{}
	machine.element = element{machine: machine, name: name, kind: kind.StateMachine, owner: -1}
	machine.arena = []Element{machine}
	return machine
}

func (m *StateMachine) add(e Element) {
	base := e.base()
	base.machine = m
	base.index = len(m.arena)
	m.arena = append(m.arena, e)
	m.invalidate()
}

func (m *StateMachine) invalidate() {
	m.clean.Store(false)
}

// Element returns the element stored at index in the model's arena.
func (m *StateMachine) Element(index int) Element {
	if index < 0 || index >= len(m.arena) {
		return nil
	}
	return m.arena[index]
}

// Clean reports whether the model is bootstrapped and unchanged since.
func (m *StateMachine) Clean() bool {
	return m.clean.Load()
}

// Bootstrap compiles the model. It runs implicitly on the first Initialise or
// Evaluate after a change unless auto bootstrap is disabled for that call.
func (m *StateMachine) Bootstrap() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.bootstrapLocked()
}

func (m *StateMachine) bootstrapLocked() error {
	m.invalidate()
	m.reset()
	m.State.bootstrap(false)
	if err := m.bootstrapTransitions(); err != nil {
		logger().Error("fsm: bootstrap failed", "machine", m.QualifiedName(), "error", err)
		return err
	}
	m.clean.Store(true)
	logger().Debug("fsm: bootstrapped", "machine", m.QualifiedName(), "elements", len(m.arena))
	return nil
}

func (m *StateMachine) bootstrapTransitions() error {
	for _, e := range m.arena {
		vertex, ok := e.(Vertex)
		if !ok {
			continue
		}
		transitions := vertex.Transitions()
		if kind.Is(vertex.Kind(), kind.Initial) && len(transitions) != 1 {
			return fmt.Errorf("%w: %s has %d", ErrInitialTransitions, vertex.QualifiedName(), len(transitions))
		}
		for _, transition := range transitions {
			if err := transition.bootstrap(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *StateMachine) autoBootstrap(maybeAutoBootstrap []bool) error {
	if len(maybeAutoBootstrap) > 0 && !maybeAutoBootstrap[0] {
		return nil
	}
	if m.clean.Load() {
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.clean.Load() {
		return nil
	}
	return m.bootstrapLocked()
}

// Initialise enters the model's initial configuration for instance. Auto
// bootstrap is on unless false is passed.
func (m *StateMachine) Initialise(instance Instance, maybeAutoBootstrap ...bool) (err error) {
	if instance == nil {
		return ErrNilInstance
	}
	if err := m.autoBootstrap(maybeAutoBootstrap); err != nil {
		return err
	}
	defer capture(&err)
	m.enter.invoke(nil, instance, false)
	return nil
}

// Evaluate dispatches message to instance and reports whether any transition
// consumed it. A terminated instance never processes messages.
//
// Example:
//
//	processed, err := model.Evaluate("start", instance)
//	if err != nil {
//	    return err
//	}
func (m *StateMachine) Evaluate(message any, instance Instance, maybeAutoBootstrap ...bool) (processed bool, err error) {
	if instance == nil {
		return false, ErrNilInstance
	}
	if err := m.autoBootstrap(maybeAutoBootstrap); err != nil {
		return false, err
	}
	if instance.Terminated() {
		return false, nil
	}
	defer capture(&err)
	return m.State.evaluate(message, instance), nil
}

// IsComplete reports whether every top level region of instance is complete.
func (m *StateMachine) IsComplete(instance Instance) bool {
	return m.State.isComplete(instance)
}

// Active returns the innermost active states of instance, depth first in
// region order.
func (m *StateMachine) Active(instance Instance) []*State {
	var active []*State
	var walk func(state *State)
	walk = func(state *State) {
		entered := false
		for _, region := range state.Regions() {
			if current := instance.Current(region); current != nil {
				entered = true
				walk(current)
			}
		}
		if !entered && state != &m.State {
			active = append(active, state)
		}
	}
	walk(&m.State)
	return active
}

/******* Transition *******/

// Transition is a directed edge between two vertices with an optional guard
// and effect behaviors.
type Transition struct {
	source   Vertex
	target   Vertex
	kind     uint64
	guard    Guard
	isElse   bool
	effects  behaviors
	traverse behaviors
}

// When sets the guard deciding which messages the transition accepts.
func (t *Transition) When(guard Guard) *Transition {
	t.guard = guard
	t.isElse = false
	t.invalidate()
	return t
}

// Else marks the transition as the fallback of a choice or junction, taken
// only when no other guard is true.
func (t *Transition) Else() *Transition {
	t.guard = nil
	t.isElse = true
	t.invalidate()
	return t
}

// Completion restores the default guard: a state's transition fires when the
// state completes, a pseudostate's fires whenever it is evaluated.
func (t *Transition) Completion() *Transition {
	t.guard = nil
	t.isElse = false
	t.invalidate()
	return t
}

// Effect appends behaviors run while the transition is traversed.
func (t *Transition) Effect(effects ...Behavior) *Transition {
	t.effects = append(t.effects, effects...)
	t.invalidate()
	return t
}

func (t *Transition) invalidate() {
	t.source.base().machine.invalidate()
}

func (t *Transition) Source() Vertex {
	return t.source
}

// Target returns the destination vertex, nil for internal transitions.
func (t *Transition) Target() Vertex {
	return t.target
}

// Kind is kind.Internal for a transition without a target, kind.Local when
// source and target share a region and kind.External otherwise. It is
// kind.Transition until the model is bootstrapped. An external transition
// whose source encloses its target leaves only the region on the path, so the
// source stays active.
func (t *Transition) Kind() uint64 {
	return t.kind
}

func (t *Transition) Id() string {
	return t.String()
}

func (t *Transition) IsElse() bool {
	return t.isElse
}

func (t *Transition) SourceName() string {
	return t.source.QualifiedName()
}

func (t *Transition) TargetName() string {
	if t.target == nil {
		return ""
	}
	return t.target.QualifiedName()
}

func (t *Transition) GuardName() string {
	if t.isElse {
		return "else"
	}
	return getFunctionName(t.guard)
}

func (t *Transition) EffectNames() []string {
	return functionNames(t.effects)
}

func (t *Transition) String() string {
	return t.SourceName() + "->" + t.TargetName()
}

func (t *Transition) accepts(message any, instance Instance) bool {
	switch {
	case t.isElse:
		return false
	case t.guard != nil:
		return t.guard(message, instance)
	case kind.Is(t.source.Kind(), kind.Pseudostate):
		return true
	default:
		return message == any(t.source)
	}
}

func (t *Transition) targetsJunction() bool {
	return t.target != nil && kind.Is(t.target.Kind(), kind.Junction)
}

// arrival is what entering the target contributes. A junction's completion is
// never replayed since the dispatcher resolves junction chains up front.
func (t *Transition) arrival() behaviors {
	if t.targetsJunction() {
		return t.target.base().beginEnter
	}
	return t.target.base().enter
}

func (t *Transition) bootstrap() error {
	var traverse behaviors
	add := func(b behaviors) {
		traverse = append(traverse, b...)
	}
	switch {
	case t.target == nil:
		t.kind = kind.Internal
		add(t.effects)
	case t.target.Parent() == t.source.Parent():
		t.kind = kind.Local
		add(t.source.base().leave)
		add(t.effects)
		add(t.arrival())
	default:
		sourceAncestors := tree.Ancestors[Element](t.source)
		targetAncestors := tree.Ancestors[Element](t.target)
		i := tree.LowestCommonAncestorIndex(sourceAncestors, targetAncestors) + 1
		var leaving Element
		switch {
		case i == len(targetAncestors):
			// the target encloses the source, leave and re-enter it
			t.kind = kind.External
			i--
			leaving = sourceAncestors[i]
		case i == len(sourceAncestors):
			// the source encloses the target and stays active
			t.kind = kind.External
			leaving = targetAncestors[i]
		case kind.Is(sourceAncestors[i].Kind(), kind.Region):
			return fmt.Errorf("%w: %s", ErrCrossRegionTransition, t)
		default:
			t.kind = kind.External
			leaving = sourceAncestors[i]
		}
		if leaving != Element(t.source) && kind.Is(t.source.Kind(), kind.Pseudostate) {
			add(leaveTowards(sourceAncestors, i))
		} else {
			add(leaving.base().leave)
		}
		add(t.effects)
		for ; i < len(targetAncestors)-1; i++ {
			targetAncestors[i].bootstrapEnter(add, targetAncestors[i+1])
		}
		add(t.arrival())
	}
	t.traverse = traverse
	return nil
}

// leaveTowards leaves path[i] on behalf of a pseudostate at the end of path.
// The region holding the pseudostate still records the state that was left on
// the way in, so that state is not left a second time.
func leaveTowards(path []Element, i int) behaviors {
	if i == len(path)-1 {
		return path[i].base().leave
	}
	if region, ok := path[i].(*Region); ok {
		leave := behaviors{region.trace("leave")}
		if i+1 == len(path)-1 {
			return leave
		}
		return append(leave, leaveTowards(path, i+1)...)
	}
	state := path[i].(interface{ asState() *State }).asState()
	leave := behaviors{state.trace("leave")}
	for _, region := range state.Regions() {
		if Element(region) == path[i+1] {
			leave = append(leave, leaveTowards(path, i+1)...)
		} else {
			leave = append(leave, region.leave...)
		}
	}
	return append(leave, state.exit...)
}
