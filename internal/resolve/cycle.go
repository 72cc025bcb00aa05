package resolve

import (
	"fmt"
	"sort"
	"strings"
)

// DFS colors for cycle detection.
const (
	colorWhite = iota // Unvisited.
	colorGray         // On the current DFS stack.
	colorBlack        // Fully explored.
)

// Checks the raw edge set for cycles.
//
// Every node participating in any cycle is collected before the error is
// returned, so the diagnostic names the complete offending set rather
// than just the first back edge found. The membership list is sorted to
// keep the message deterministic regardless of traversal order.
func detectCycles(g *Graph) error {
	colors := make(map[*Node]int, len(g.Nodes))
	members := make(map[string]bool)

	var stack []*Node

	var visit func(n *Node)
	visit = func(n *Node) {
		colors[n] = colorGray
		stack = append(stack, n)

		for _, dep := range n.Deps {
			switch colors[dep] {
			case colorWhite:
				visit(dep)
			case colorGray:
				// Back edge: everything from dep to the stack top is on
				// the cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					members[stack[i].Name] = true
					if stack[i] == dep {
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[n] = colorBlack
	}

	for _, n := range g.Nodes {
		if colors[n] == colorWhite {
			visit(n)
		}
	}

	if len(members) == 0 {
		return nil
	}

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(names, ", "))
}
