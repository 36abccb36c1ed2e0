// Package elements describes a state machine model without depending on the
// engine that runs it. Tooling such as diagram generators walks these
// interfaces; references between elements are qualified names.
package elements

type Element interface {
	Kind() uint64
	Id() string
}

type NamedElement interface {
	Element
	Name() string
	QualifiedName() string
	// OwnerName is the qualified name of the owning element, empty for the root.
	OwnerName() string
}

// Namespace lists its members in declaration order: regions for a state,
// vertices for a region.
type Namespace interface {
	NamedElement
	Members() []NamedElement
}

type Model interface {
	Namespace
}

type Transition interface {
	Element
	SourceName() string
	// TargetName is empty for internal transitions.
	TargetName() string
	GuardName() string
	EffectNames() []string
	IsElse() bool
}

type Vertex interface {
	NamedElement
	Outgoing() []Transition
}

type State interface {
	Vertex
	Namespace
	EntryNames() []string
	ExitNames() []string
}
