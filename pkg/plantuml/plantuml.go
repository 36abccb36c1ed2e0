// Package plantuml renders a state machine model as a PlantUML state diagram.
//
// States become nested state blocks, orthogonal regions are separated by "--",
// initial pseudostates become [*] and the remaining pseudostates use the
// matching PlantUML stereotypes.
package plantuml

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/stateforward/fsm.go/elements"
	"github.com/stateforward/fsm.go/kind"
)

func idFromQualifiedName(qualifiedName string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.TrimPrefix(qualifiedName, "/"), "-", "_"), "/", ".")
}

type generator struct {
	builder     strings.Builder
	transitions []elements.Transition
}

func (g *generator) indent(depth int) string {
	return strings.Repeat(" ", depth*2)
}

func (g *generator) generateRegion(depth int, region elements.Namespace) {
	var initial []elements.Transition
	for _, member := range region.Members() {
		vertex, ok := member.(elements.Vertex)
		if !ok {
			continue
		}
		if kind.Is(vertex.Kind(), kind.Initial) && !kind.Is(vertex.Kind(), kind.History) {
			initial = append(initial, vertex.Outgoing()...)
			continue
		}
		g.generateVertex(depth, vertex)
	}
	for _, transition := range initial {
		fmt.Fprintf(&g.builder, "%s[*] --> %s%s\n", g.indent(depth), idFromQualifiedName(transition.TargetName()), label(transition))
	}
}

func (g *generator) generateVertex(depth int, vertex elements.Vertex) {
	indent := g.indent(depth)
	id := idFromQualifiedName(vertex.QualifiedName())
	declaration := fmt.Sprintf("%sstate %q as %s", indent, vertex.Name(), id)
	switch k := vertex.Kind(); {
	case kind.Is(k, kind.State):
		state := vertex.(elements.State)
		regions := state.Members()
		if len(regions) == 0 {
			fmt.Fprintln(&g.builder, declaration)
		} else {
			fmt.Fprintf(&g.builder, "%s {\n", declaration)
			for i, region := range regions {
				if i > 0 {
					fmt.Fprintf(&g.builder, "%s--\n", g.indent(depth+1))
				}
				g.generateRegion(depth+1, region.(elements.Namespace))
			}
			fmt.Fprintf(&g.builder, "%s}\n", indent)
		}
		for _, entry := range state.EntryNames() {
			fmt.Fprintf(&g.builder, "%s%s : entry / %s\n", indent, id, entry)
		}
		for _, exit := range state.ExitNames() {
			fmt.Fprintf(&g.builder, "%s%s : exit / %s\n", indent, id, exit)
		}
		if kind.Is(k, kind.FinalState) {
			fmt.Fprintf(&g.builder, "%s%s --> [*]\n", indent, id)
		}
	case kind.Is(k, kind.Choice, kind.Junction):
		fmt.Fprintf(&g.builder, "%s <<choice>>\n", declaration)
	case kind.Is(k, kind.DeepHistory):
		fmt.Fprintf(&g.builder, "%s <<history*>>\n", declaration)
	case kind.Is(k, kind.ShallowHistory):
		fmt.Fprintf(&g.builder, "%s <<history>>\n", declaration)
	case kind.Is(k, kind.Terminate):
		fmt.Fprintf(&g.builder, "%s <<end>>\n", declaration)
	}
	g.transitions = append(g.transitions, vertex.Outgoing()...)
}

func (g *generator) generateTransition(depth int, transition elements.Transition) {
	indent := g.indent(depth)
	source := idFromQualifiedName(transition.SourceName())
	if transition.TargetName() == "" {
		text := label(transition)
		if text == "" {
			text = " : internal"
		}
		fmt.Fprintf(&g.builder, "%s%s%s\n", indent, source, text)
		return
	}
	fmt.Fprintf(&g.builder, "%s%s --> %s%s\n", indent, source, idFromQualifiedName(transition.TargetName()), label(transition))
}

func label(transition elements.Transition) string {
	var parts []string
	if guard := transition.GuardName(); guard != "" {
		parts = append(parts, "["+guard+"]")
	}
	for _, effect := range transition.EffectNames() {
		parts = append(parts, "/ "+effect)
	}
	if len(parts) == 0 {
		return ""
	}
	return " : " + strings.Join(parts, " ")
}

// Generate writes model as a PlantUML document to writer. Transitions out of
// initial pseudostates are drawn inside their region, every other transition
// after the states.
func Generate(writer io.Writer, model elements.Model) error {
	g := &generator{}
	fmt.Fprintf(&g.builder, "@startuml %s\n", path.Base(model.QualifiedName()))
	for _, member := range model.Members() {
		region, ok := member.(elements.Namespace)
		if !ok {
			continue
		}
		g.generateRegion(0, region)
	}
	for _, transition := range g.transitions {
		g.generateTransition(0, transition)
	}
	fmt.Fprintln(&g.builder, "@enduml")
	_, err := io.WriteString(writer, g.builder.String())
	return err
}
