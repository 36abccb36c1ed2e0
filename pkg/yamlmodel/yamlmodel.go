// Package yamlmodel builds state machine models from YAML documents.
//
// Example:
//
//	name: door
//	vertices:
//	  - id: initial
//	    kind: initial
//	    transitions:
//	      - to: closed
//	  - id: closed
//	    transitions:
//	      - to: open
//	        on: open
//	  - id: open
//	    entry: [ring]
//	    transitions:
//	      - to: closed
//	        on: close
//
// Vertex kinds are state (the default), final, initial, shallowHistory,
// deepHistory, choice, junction and terminate. A transition without "to" is
// internal. "on" matches a message literal, "when" names a registry guard and
// both must hold when both are given.
package yamlmodel

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/kind"
)

var (
	ErrInvalidDocument = errors.New("invalid model document")
	ErrMissingID       = errors.New("vertex has no id")
	ErrDuplicateID     = errors.New("duplicate vertex id")
	ErrUnknownKind     = errors.New("unknown vertex kind")
	ErrUnknownVertex   = errors.New("unknown transition target")
	ErrUnknownGuard    = errors.New("unknown guard")
	ErrUnknownBehavior = errors.New("unknown behavior")
)

// Registry resolves the guard and behavior names used in a document.
type Registry struct {
	Guards    map[string]fsm.Guard
	Behaviors map[string]fsm.Behavior
}

type Document struct {
	Name     string   `yaml:"name"`
	Vertices []Vertex `yaml:"vertices"`
}

type Region struct {
	Name     string   `yaml:"name"`
	Vertices []Vertex `yaml:"vertices"`
}

type Vertex struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name,omitempty"`
	Kind        string       `yaml:"kind,omitempty"`
	Entry       []string     `yaml:"entry,omitempty"`
	Exit        []string     `yaml:"exit,omitempty"`
	Vertices    []Vertex     `yaml:"vertices,omitempty"`
	Regions     []Region     `yaml:"regions,omitempty"`
	Transitions []Transition `yaml:"transitions,omitempty"`
}

type Transition struct {
	To     string   `yaml:"to,omitempty"`
	On     string   `yaml:"on,omitempty"`
	When   string   `yaml:"when,omitempty"`
	Else   bool     `yaml:"else,omitempty"`
	Effect []string `yaml:"effect,omitempty"`
}

var pseudoStateKinds = map[string]uint64{
	"initial":        kind.Initial,
	"shallowHistory": kind.ShallowHistory,
	"deepHistory":    kind.DeepHistory,
	"choice":         kind.Choice,
	"junction":       kind.Junction,
	"terminate":      kind.Terminate,
}

// Load builds and bootstraps the model described by data.
func Load(data []byte, registry Registry) (*fsm.StateMachine, error) {
	return Decode(bytes.NewReader(data), registry)
}

// Decode reads one document from reader. Unknown fields are rejected.
func Decode(reader io.Reader, registry Registry) (*fsm.StateMachine, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var document Document
	if err := decoder.Decode(&document); err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}
	return Build(document, registry)
}

type builder struct {
	registry Registry
	vertices map[string]fsm.Vertex
	pending  []pendingVertex
}

type pendingVertex struct {
	vertex      fsm.Vertex
	transitions []Transition
}

// Build turns a decoded document into a bootstrapped model.
func Build(document Document, registry Registry) (machine *fsm.StateMachine, err error) {
	if document.Name == "" {
		return nil, fmt.Errorf("%w: model has no name", ErrInvalidDocument)
	}
	// model construction reports misuse by panicking with an error
	defer func() {
		if r := recover(); r != nil {
			recovered, ok := r.(error)
			if !ok {
				panic(r)
			}
			machine, err = nil, recovered
		}
	}()
	b := &builder{registry: registry, vertices: map[string]fsm.Vertex{}}
	machine = fsm.NewStateMachine(document.Name)
	if err := b.addVertices(machine, document.Vertices); err != nil {
		return nil, err
	}
	for _, pending := range b.pending {
		for _, transition := range pending.transitions {
			if err := b.addTransition(pending.vertex, transition); err != nil {
				return nil, err
			}
		}
	}
	if err := machine.Bootstrap(); err != nil {
		return nil, err
	}
	return machine, nil
}

func (b *builder) addVertices(namespace fsm.Namespace, vertices []Vertex) error {
	for _, vertex := range vertices {
		if err := b.addVertex(namespace, vertex); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addVertex(namespace fsm.Namespace, document Vertex) error {
	if document.ID == "" {
		return fmt.Errorf("%w: in %s", ErrMissingID, namespace.QualifiedName())
	}
	if _, ok := b.vertices[document.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, document.ID)
	}
	name := document.Name
	if name == "" {
		name = document.ID
	}
	var vertex fsm.Vertex
	switch document.Kind {
	case "", "state", "final":
		var state *fsm.State
		if document.Kind == "final" {
			final := fsm.NewFinalState(name, namespace)
			state, vertex = &final.State, final
		} else {
			state = fsm.NewState(name, namespace)
			vertex = state
		}
		if err := b.addBehaviors(document.ID, document.Entry, state.Entry); err != nil {
			return err
		}
		if err := b.addBehaviors(document.ID, document.Exit, state.Exit); err != nil {
			return err
		}
		if err := b.addVertices(state, document.Vertices); err != nil {
			return err
		}
		for _, region := range document.Regions {
			if region.Name == "" {
				return fmt.Errorf("%w: unnamed region in %s", ErrInvalidDocument, document.ID)
			}
			if err := b.addVertices(fsm.NewRegion(region.Name, state), region.Vertices); err != nil {
				return err
			}
		}
	default:
		pseudoStateKind, ok := pseudoStateKinds[document.Kind]
		if !ok {
			return fmt.Errorf("%w: %q on %s", ErrUnknownKind, document.Kind, document.ID)
		}
		if len(document.Entry)+len(document.Exit)+len(document.Vertices)+len(document.Regions) > 0 {
			return fmt.Errorf("%w: pseudostate %s cannot have behaviors or children", ErrInvalidDocument, document.ID)
		}
		vertex = fsm.NewPseudoState(name, namespace, pseudoStateKind)
	}
	b.vertices[document.ID] = vertex
	if len(document.Transitions) > 0 {
		b.pending = append(b.pending, pendingVertex{vertex: vertex, transitions: document.Transitions})
	}
	return nil
}

func (b *builder) addBehaviors(id string, names []string, add func(...fsm.Behavior) *fsm.State) error {
	behaviors, err := b.behaviors(id, names)
	if err != nil {
		return err
	}
	if len(behaviors) > 0 {
		add(behaviors...)
	}
	return nil
}

func (b *builder) behaviors(id string, names []string) ([]fsm.Behavior, error) {
	behaviors := make([]fsm.Behavior, 0, len(names))
	for _, name := range names {
		behavior, ok := b.registry.Behaviors[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnknownBehavior, name, id)
		}
		behaviors = append(behaviors, behavior)
	}
	return behaviors, nil
}

func (b *builder) addTransition(source fsm.Vertex, document Transition) error {
	var target fsm.Vertex
	if document.To != "" {
		var ok bool
		if target, ok = b.vertices[document.To]; !ok {
			return fmt.Errorf("%w: %q from %s", ErrUnknownVertex, document.To, source.QualifiedName())
		}
	}
	effects, err := b.behaviors(source.QualifiedName(), document.Effect)
	if err != nil {
		return err
	}
	var guard fsm.Guard
	if document.When != "" {
		if guard = b.registry.Guards[document.When]; guard == nil {
			return fmt.Errorf("%w: %q from %s", ErrUnknownGuard, document.When, source.QualifiedName())
		}
	}
	if document.On != "" {
		guard = on(document.On, guard)
	}
	transition := source.To(target)
	switch {
	case document.Else:
		if guard != nil {
			return fmt.Errorf("%w: else transition from %s has a guard", ErrInvalidDocument, source.QualifiedName())
		}
		transition.Else()
	case guard != nil:
		transition.When(guard)
	}
	if len(effects) > 0 {
		transition.Effect(effects...)
	}
	return nil
}

// on accepts messages equal to literal that also satisfy guard, if any.
func on(literal string, guard fsm.Guard) fsm.Guard {
	return func(message any, instance fsm.Instance) bool {
		if message != any(literal) {
			return false
		}
		return guard == nil || guard(message, instance)
	}
}
