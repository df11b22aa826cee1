package workflow

import "fmt"

const noNode = -1

// Graph is the parsed, in-memory projection of a serialized definition.
// Nodes live in an arena; edges are explicit indexes so the chain can grow branches later.
type Graph struct {
	ID       int64
	FlowName string

	nodes []Node
	index map[string]int
	next  []int
}

func newGraph(id int64, flowName string, capacity int) *Graph {
	return &Graph{
		ID:       id,
		FlowName: flowName,
		nodes:    make([]Node, 0, capacity),
		index:    make(map[string]int, capacity),
	}
}

func (g *Graph) add(n Node) {
	if _, exists := g.index[n.NodeID()]; !exists {
		g.index[n.NodeID()] = len(g.nodes)
	}
	g.nodes = append(g.nodes, n)
}

// link resolves every next pointer into an arena index
func (g *Graph) link() {
	g.next = make([]int, len(g.nodes))
	for i, n := range g.nodes {
		g.next[i] = noNode
		if n.Next() == "" {
			continue
		}
		if j, ok := g.index[n.Next()]; ok {
			g.next[i] = j
		}
	}
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns the nodes in definition order
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Get finds a node by id; nil when absent
func (g *Graph) Get(id string) Node {
	if id == "" {
		return nil
	}
	if i, ok := g.index[id]; ok {
		return g.nodes[i]
	}
	return nil
}

// NextOf returns the node following n; nil at the end of the chain
func (g *Graph) NextOf(n Node) Node {
	if n == nil {
		return nil
	}
	i, ok := g.index[n.NodeID()]
	if !ok || g.next[i] == noNode {
		return nil
	}
	return g.nodes[g.next[i]]
}

// Start returns the first START node
func (g *Graph) Start() Node {
	return g.firstOfKind(KindStart)
}

// End returns the first END node
func (g *Graph) End() Node {
	return g.firstOfKind(KindEnd)
}

// Predecessor returns the node whose next pointer is id
func (g *Graph) Predecessor(id string) Node {
	for _, n := range g.nodes {
		if n.Next() != "" && n.Next() == id {
			return n
		}
	}
	return nil
}

func (g *Graph) firstOfKind(kind NodeKind) Node {
	for _, n := range g.nodes {
		if n.Kind() == kind {
			return n
		}
	}
	return nil
}

// Validate enforces the linear-chain shape: exactly one START first, exactly one END last,
// unique ids and next pointers that resolve inside the graph.
func (g *Graph) Validate() error {
	if len(g.nodes) < 2 {
		return fmt.Errorf("%w: need at least a start and an end node", ErrInvalidDefinition)
	}
	if g.nodes[0].Kind() != KindStart {
		return fmt.Errorf("%w: first node %q is not a start node", ErrInvalidDefinition, g.nodes[0].NodeID())
	}
	last := g.nodes[len(g.nodes)-1]
	if last.Kind() != KindEnd {
		return fmt.Errorf("%w: last node %q is not an end node", ErrInvalidDefinition, last.NodeID())
	}

	starts, ends := 0, 0
	seen := make(map[string]bool, len(g.nodes))
	for i, n := range g.nodes {
		if n.NodeID() == "" {
			return fmt.Errorf("%w: node at position %d has no id", ErrInvalidDefinition, i)
		}
		if seen[n.NodeID()] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, n.NodeID())
		}
		seen[n.NodeID()] = true

		switch n.Kind() {
		case KindStart:
			starts++
		case KindEnd:
			ends++
			continue
		}
		if g.next[i] == noNode {
			return fmt.Errorf("%w: next node %q of %q not found", ErrInvalidDefinition, n.Next(), n.NodeID())
		}
	}
	if starts != 1 || ends != 1 {
		return fmt.Errorf("%w: expected one start and one end node, got %d and %d", ErrInvalidDefinition, starts, ends)
	}
	return nil
}
