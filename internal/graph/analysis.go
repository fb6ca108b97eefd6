package graph

import "fmt"

// loopBody collects the nodes reachable from the body ports of loop id
// without passing back through the loop itself.
func (g *Graph) loopBody(id string) []string {
	loop := g.nodes[id]
	seen := map[string]bool{id: true}
	var queue []string
	for _, c := range g.outgoing[id] {
		if loop.Meta.Loop.IsBodyPort(c.From.Port) && !seen[c.To.NodeID] {
			seen[c.To.NodeID] = true
			queue = append(queue, c.To.NodeID)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.outgoing[cur] {
			if !seen[c.To.NodeID] {
				seen[c.To.NodeID] = true
				queue = append(queue, c.To.NodeID)
			}
		}
	}
	delete(seen, id)
	return g.inOrder(seen)
}

// Ancestors returns the targets plus every node needed to produce their
// inputs. Loop nodes bring their whole body along.
func (g *Graph) Ancestors(targets []string) (map[string]bool, error) {
	set := make(map[string]bool)
	var queue []string
	add := func(id string) {
		if !set[id] {
			set[id] = true
			queue = append(queue, id)
		}
	}
	for _, id := range targets {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("unknown target node %q", id)
		}
		add(id)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.incoming[cur] {
			add(c.From.NodeID)
		}
		for _, member := range g.bodies[cur] {
			add(member)
		}
	}
	return set, nil
}

// TriggerReachable returns the nodes reachable from start through
// connections that end on a trigger port.
func (g *Graph) TriggerReachable(start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.outgoing[cur] {
			dst, ok := g.nodes[c.To.NodeID]
			if !ok {
				continue
			}
			port, ok := dst.Input(c.To.Port)
			if !ok || !port.Trigger {
				continue
			}
			if !seen[dst.ID] {
				seen[dst.ID] = true
				queue = append(queue, dst.ID)
			}
		}
	}
	return seen
}

// FindCycles returns the cycles of the graph once loop nodes are removed.
// Each cycle is reported as a closed path.
func (g *Graph) FindCycles() [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, c := range g.outgoing[id] {
			next := c.To.NodeID
			if g.nodes[next].IsLoop() {
				continue
			}
			switch color[next] {
			case white:
				visit(next)
			case grey:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				path := append([]string{}, stack[start:]...)
				cycles = append(cycles, append(path, next))
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.order {
		if g.nodes[id].IsLoop() || color[id] != white {
			continue
		}
		visit(id)
	}
	return cycles
}

func (g *Graph) inOrder(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for _, id := range g.order {
		if set[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sorted returns the members of set in declaration order.
func (g *Graph) Sorted(set map[string]bool) []string {
	return g.inOrder(set)
}
