// Package kind identifies model element types with bit-packed uint64 values.
//
// The lowest 8 bits of a Kind hold its own id; each following byte holds the id
// of one of its bases. A Kind therefore carries its whole ancestry and checking
// "is a" is a handful of shifts, with no reflection and no type switches.
package kind

import "sync/atomic"

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Kind encodes a type id plus up to seven base ids.
type Kind = uint64

var counter atomic.Uint64

// The kinds understood by the state machine engine. Order matters only in that
// bases must be declared before the kinds that extend them.
var (
	Null = Make()

	Element     = Make()
	Namespace   = Make(Element)
	Vertex      = Make(Element)
	Region      = Make(Namespace)
	Pseudostate = Make(Vertex)

	Initial        = Make(Pseudostate)
	History        = Make(Initial)
	ShallowHistory = Make(History)
	DeepHistory    = Make(History)
	Choice         = Make(Pseudostate)
	Junction       = Make(Pseudostate)
	Terminate      = Make(Pseudostate)

	State        = Make(Vertex, Namespace)
	FinalState   = Make(State)
	StateMachine = Make(State)

	Transition = Make(Element)
	Internal   = Make(Transition)
	Local      = Make(Transition)
	External   = Make(Transition)
)

// ID returns the id byte of k without its bases.
func ID(k Kind) Kind {
	return k & idMask
}

// Bases lists the base ids packed into k, nearest first. The result never
// includes k's own id.
func Bases(k Kind) []Kind {
	var bases []Kind
	for i := 1; i < depthMax; i++ {
		id := (k >> (idLength * i)) & idMask
		if id == 0 {
			break
		}
		bases = append(bases, id)
	}
	return bases
}

// Make allocates a new id and packs the ids of every base (and of their bases)
// above it. Duplicates collapse, so diamond-shaped ancestry is fine as long as
// the total stays within eight ids.
func Make(bases ...Kind) Kind {
	id := (counter.Add(1) - 1) & idMask
	seen := make(map[Kind]struct{}, depthMax)
	slot := 1
	for _, base := range bases {
		for j := 0; j < depthMax && slot < depthMax; j++ {
			baseID := (base >> (idLength * j)) & idMask
			if baseID == 0 {
				break
			}
			if _, ok := seen[baseID]; ok {
				continue
			}
			seen[baseID] = struct{}{}
			id |= baseID << (idLength * slot)
			slot++
		}
	}
	return id
}

// Is reports whether k is, or extends, any of bases.
//
// Example:
//
//	kind.Is(kind.DeepHistory, kind.Initial) // true
//	kind.Is(kind.Choice, kind.State)        // false
//
//go:inline
func Is(k Kind, bases ...Kind) bool {
	for _, base := range bases {
		baseID := base & idMask
		if k&idMask == baseID {
			return true
		}
		for i := 1; i < depthMax; i++ {
			id := (k >> (idLength * i)) & idMask
			if id == 0 {
				break
			}
			if id == baseID {
				return true
			}
		}
	}
	return false
}
