package fsm

import (
	"maps"

	"github.com/stateforward/fsm.go/muid"
)

// Instance is the state of one running copy of a model: the current state of
// every region it has entered and whether it has terminated. Implementations
// may carry any application data next to it; guards and behaviors receive the
// instance they were dispatched for.
//
// Example:
//
//	type Order struct {
//	    *fsm.DictionaryInstance
//	    total int
//	}
//
//	guard := func(message any, instance fsm.Instance) bool {
//	    return instance.(*Order).total > 0
//	}
type Instance interface {
	// SetCurrent records state as the current state of region.
	SetCurrent(region *Region, state *State)
	// Current returns the last state recorded for region, nil if the region
	// was never entered.
	Current(region *Region) *State
	Terminated() bool
	Terminate()
}

// DictionaryInstance is an Instance backed by a map from region index to state
// index. It belongs to a single state machine and is not safe for concurrent use.
type DictionaryInstance struct {
	name       string
	current    map[int]int
	terminated bool
}

// NewDictionaryInstance returns an empty instance. Without a name one is
// generated.
func NewDictionaryInstance(maybeName ...string) *DictionaryInstance {
	name := ""
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	if name == "" {
		name = "instance_" + muid.MakeString()
	}
	return &DictionaryInstance{
		name:    name,
		current: map[int]int{},
	}
}

func (d *DictionaryInstance) SetCurrent(region *Region, state *State) {
	d.current[region.Index()] = state.Index()
}

func (d *DictionaryInstance) Current(region *Region) *State {
	index, ok := d.current[region.Index()]
	if !ok {
		return nil
	}
	state, ok := region.machine.Element(index).(interface{ asState() *State })
	if !ok {
		return nil
	}
	return state.asState()
}

func (d *DictionaryInstance) Terminated() bool {
	return d.terminated
}

func (d *DictionaryInstance) Terminate() {
	d.terminated = true
}

// Snapshot copies the region to state mapping, keyed by arena index.
func (d *DictionaryInstance) Snapshot() map[int]int {
	return maps.Clone(d.current)
}

// Reset forgets every current state and clears the terminated flag.
func (d *DictionaryInstance) Reset() {
	clear(d.current)
	d.terminated = false
}

func (d *DictionaryInstance) Name() string {
	return d.name
}

func (d *DictionaryInstance) String() string {
	return d.name
}
