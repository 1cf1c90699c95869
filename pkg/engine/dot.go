package engine

import (
	"fmt"
	"strings"
)

// ToDOT renders the selection as a Graphviz digraph. Exclusive groups become
// clusters, edges follow the before relation, produced units carry their
// position and blacklisted units are greyed out.
func (e *Engine) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Units {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	units := e.graphUnits()
	position := make(map[*Unit]int)
	for i, u := range e.iterator.Produced() {
		position[u] = i + 1
	}

	clustered := make(map[*Unit]bool)
	for _, group := range units {
		if !group.exclusive || len(group.contains) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  subgraph \"cluster_%s\" {\n", group.name))
		sb.WriteString(fmt.Sprintf("    label=\"%s (exclusive)\";\n", group.name))
		sb.WriteString("    style=dashed;\n")
		for _, member := range group.contains {
			if !containsUnit(units, member) {
				continue
			}
			sb.WriteString("    " + e.dotNode(member, position[member]))
			clustered[member] = true
		}
		sb.WriteString("  }\n\n")
	}

	for _, u := range units {
		if !clustered[u] {
			sb.WriteString("  " + e.dotNode(u, position[u]))
		}
	}
	sb.WriteString("\n")

	for _, u := range units {
		for _, next := range u.before {
			if containsUnit(units, next) {
				sb.WriteString(fmt.Sprintf("  %q -> %q;\n", u.name, next.name))
			}
		}
		for _, dep := range u.depends {
			if containsUnit(units, dep) && !containsUnit(dep.before, u) {
				sb.WriteString(fmt.Sprintf("  %q -> %q [style=dotted];\n", u.name, dep.name))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// graphUnits returns the selected and blacklisted units, selection order first.
func (e *Engine) graphUnits() []*Unit {
	units := cloneUnits(e.selected)
	for _, u := range e.Blacklisted() {
		units = appendUnique(units, u)
	}
	return units
}

func (e *Engine) dotNode(u *Unit, position int) string {
	label := u.name
	if position > 0 {
		label = fmt.Sprintf("%d. %s", position, u.name)
	}
	if k := u.Kind(); k != KindNone {
		label = fmt.Sprintf("%s\\n%s", label, k)
	}
	return fmt.Sprintf("%q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
		u.name, label, e.nodeColor(u, position))
}

func (e *Engine) nodeColor(u *Unit, position int) string {
	switch {
	case e.IsBlacklisted(u):
		return "lightgray"
	case position > 0:
		return "lightgreen"
	case u.Kind().IsAsync():
		return "lightblue"
	default:
		return "white"
	}
}
