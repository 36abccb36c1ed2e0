package yamlmodel_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/pkg/yamlmodel"
)

type counter struct {
	*fsm.DictionaryInstance
	value int
}

func newCounter() *counter {
	return &counter{DictionaryInstance: fsm.NewDictionaryInstance("counter")}
}

func registry() yamlmodel.Registry {
	return yamlmodel.Registry{
		Guards: map[string]fsm.Guard{
			"isZero": func(_ any, instance fsm.Instance) bool {
				return instance.(*counter).value == 0
			},
		},
		Behaviors: map[string]fsm.Behavior{
			"increment": func(_ any, instance fsm.Instance, _ bool) {
				instance.(*counter).value++
			},
		},
	}
}

func active(model *fsm.StateMachine, instance fsm.Instance) []string {
	var names []string
	for _, state := range model.Active(instance) {
		names = append(names, state.Name())
	}
	return names
}

const junctionModel = `
name: junction
vertices:
  - id: initial
    kind: initial
    transitions:
      - to: junction1
  - id: junction1
    kind: junction
    transitions:
      - to: junction2
        when: isZero
        effect: [increment]
      - to: error
        else: true
  - id: junction2
    kind: junction
    transitions:
      - to: success
        when: isZero
        effect: [increment]
      - to: error
        else: true
  - id: success
  - id: error
`

func TestLoadJunction(t *testing.T) {
	model, err := yamlmodel.Load([]byte(junctionModel), registry())
	require.NoError(t, err)
	assert.True(t, model.Clean())

	instance := newCounter()
	require.NoError(t, model.Initialise(instance))
	assert.Equal(t, []string{"success"}, active(model, instance))
	assert.Equal(t, 2, instance.value)
}

const playerModel = `
name: player
vertices:
  - id: initial
    kind: initial
    transitions:
      - to: powered
  - id: powered
    vertices:
      - id: history
        kind: shallowHistory
        transitions:
          - to: playing
      - id: playing
        transitions:
          - to: paused
            on: pause
      - id: paused
        transitions:
          - to: playing
            on: play
    transitions:
      - to: off
        on: power
  - id: off
    entry: [increment]
    transitions:
      - to: powered
        on: power
      - on: tick
        effect: [increment]
`

func TestLoadHistoryAndMessageLiterals(t *testing.T) {
	model, err := yamlmodel.Decode(strings.NewReader(playerModel), registry())
	require.NoError(t, err)

	instance := newCounter()
	require.NoError(t, model.Initialise(instance))
	assert.Equal(t, []string{"playing"}, active(model, instance))

	for _, step := range []struct {
		message   string
		processed bool
		active    string
	}{
		{"play", false, "playing"},
		{"pause", true, "paused"},
		{"power", true, "off"},
		{"tick", true, "off"},
		{"power", true, "paused"},
	} {
		processed, err := model.Evaluate(step.message, instance)
		require.NoError(t, err)
		assert.Equal(t, step.processed, processed, step.message)
		assert.Equal(t, []string{step.active}, active(model, instance), step.message)
	}
	assert.Equal(t, 2, instance.value)
}

const regionsModel = `
name: regions
vertices:
  - id: initial
    kind: initial
    transitions:
      - to: both
  - id: both
    regions:
      - name: left
        vertices:
          - id: leftInitial
            kind: initial
            transitions:
              - to: l1
          - id: l1
            transitions:
              - to: l2
                on: go
          - id: l2
            kind: final
      - name: right
        vertices:
          - id: rightInitial
            kind: initial
            transitions:
              - to: r1
          - id: r1
            transitions:
              - to: r2
                on: go
          - id: r2
            kind: final
    transitions:
      - to: done
  - id: done
    kind: final
`

func TestLoadRegions(t *testing.T) {
	model, err := yamlmodel.Load([]byte(regionsModel), registry())
	require.NoError(t, err)

	instance := newCounter()
	require.NoError(t, model.Initialise(instance))
	assert.Equal(t, []string{"l1", "r1"}, active(model, instance))

	processed, err := model.Evaluate("go", instance)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"done"}, active(model, instance))
	assert.True(t, model.IsComplete(instance))
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		document string
		err      error
	}{
		{
			name:     "unknown field",
			document: "name: m\ncolour: red\n",
			err:      yamlmodel.ErrInvalidDocument,
		},
		{
			name:     "missing name",
			document: "vertices: []\n",
			err:      yamlmodel.ErrInvalidDocument,
		},
		{
			name:     "missing id",
			document: "name: m\nvertices:\n  - kind: state\n",
			err:      yamlmodel.ErrMissingID,
		},
		{
			name:     "duplicate id",
			document: "name: m\nvertices:\n  - id: a\n  - id: a\n",
			err:      yamlmodel.ErrDuplicateID,
		},
		{
			name:     "unknown kind",
			document: "name: m\nvertices:\n  - id: a\n    kind: fork\n",
			err:      yamlmodel.ErrUnknownKind,
		},
		{
			name:     "unknown target",
			document: "name: m\nvertices:\n  - id: a\n    transitions:\n      - to: b\n",
			err:      yamlmodel.ErrUnknownVertex,
		},
		{
			name:     "unknown guard",
			document: "name: m\nvertices:\n  - id: a\n    transitions:\n      - when: nope\n",
			err:      yamlmodel.ErrUnknownGuard,
		},
		{
			name:     "unknown behavior",
			document: "name: m\nvertices:\n  - id: a\n    entry: [nope]\n",
			err:      yamlmodel.ErrUnknownBehavior,
		},
		{
			name:     "guarded else",
			document: "name: m\nvertices:\n  - id: c\n    kind: choice\n    transitions:\n      - to: a\n        on: x\n        else: true\n  - id: a\n",
			err:      yamlmodel.ErrInvalidDocument,
		},
		{
			name:     "final state transition",
			document: "name: m\nvertices:\n  - id: a\n    kind: final\n    transitions:\n      - to: b\n  - id: b\n",
			err:      fsm.ErrFinalStateTransition,
		},
		{
			name:     "initial without transition",
			document: "name: m\nvertices:\n  - id: initial\n    kind: initial\n",
			err:      fsm.ErrInitialTransitions,
		},
		{
			name: "cross region",
			document: `
name: m
vertices:
  - id: o
    regions:
      - name: r1
        vertices:
          - id: x
            transitions:
              - to: y
      - name: r2
        vertices:
          - id: y
`,
			err: fsm.ErrCrossRegionTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := yamlmodel.Load([]byte(tt.document), registry())
			assert.Nil(t, model)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
