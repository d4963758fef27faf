package graph

import (
	"fmt"

	"nodeflow/internal/models"
)

// Output handle names with routing meaning. Edges off a loop node's
// "loop_body" handle form the loop's re-entrant body; "done" edges fire
// after the loop finishes.
const (
	HandleLoopBody = "loop_body"
	HandleDone     = "done"
)

// CycleError reports a dependency cycle that prevents a total execution order.
// NodeID names at least one node on the cycle.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a dependency cycle involving node '%s'", e.NodeID)
}

// Graph is an in-memory view of a workflow's nodes and edges with the
// adjacency indexes the engine and debugger need. It is built per run and
// never mutated afterwards.
type Graph struct {
	nodes    []models.Node
	edges    []models.Edge
	index    map[string]models.Node
	incoming map[string][]models.Edge
	outgoing map[string][]models.Edge
}

// New builds a Graph from a workflow's nodes and edges. Insertion order of
// nodes is preserved and used as the tie-breaker for ordering.
func New(nodes []models.Node, edges []models.Edge) *Graph {
	g := &Graph{
		nodes:    nodes,
		edges:    edges,
		index:    make(map[string]models.Node, len(nodes)),
		incoming: make(map[string][]models.Edge),
		outgoing: make(map[string][]models.Edge),
	}
	for _, n := range nodes {
		g.index[n.ID] = n
	}
	for _, e := range edges {
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}
	return g
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (models.Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []models.Node { return g.nodes }

// Edges returns all edges.
func (g *Graph) Edges() []models.Edge { return g.edges }

// Incoming returns the edges targeting a node.
func (g *Graph) Incoming(id string) []models.Edge { return g.incoming[id] }

// Outgoing returns the edges leaving a node.
func (g *Graph) Outgoing(id string) []models.Edge { return g.outgoing[id] }

// Validate checks structural integrity before execution: every edge endpoint
// must reference an existing node and every node type must be registered.
// Nothing runs if any error is returned.
func (g *Graph) Validate(hasType func(string) bool) []models.ValidationError {
	var errs []models.ValidationError
	seen := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		if seen[n.ID] {
			errs = append(errs, models.ValidationError{
				Type:    "schema",
				Message: fmt.Sprintf("duplicate node id '%s'", n.ID),
				NodeID:  n.ID,
			})
		}
		seen[n.ID] = true
		if hasType != nil && !hasType(n.Type) {
			errs = append(errs, models.ValidationError{
				Type:    "missing_node_type",
				Message: fmt.Sprintf("node '%s' has unknown type '%s'", n.ID, n.Type),
				NodeID:  n.ID,
			})
		}
	}
	for _, e := range g.edges {
		if _, ok := g.index[e.Source]; !ok {
			errs = append(errs, models.ValidationError{
				Type:    "dangling_edge",
				Message: fmt.Sprintf("edge '%s' references missing source node '%s'", e.ID, e.Source),
				EdgeID:  e.ID,
			})
		}
		if _, ok := g.index[e.Target]; !ok {
			errs = append(errs, models.ValidationError{
				Type:    "dangling_edge",
				Message: fmt.Sprintf("edge '%s' references missing target node '%s'", e.ID, e.Target),
				EdgeID:  e.ID,
			})
		}
	}
	return errs
}

// TopologicalOrder computes a total execution order over all nodes using
// Kahn's algorithm. Zero in-degree nodes are seeded in insertion order and
// the queue is FIFO, so the order is stable and deterministic. A cycle
// yields a *CycleError naming one node on it.
func (g *Graph) TopologicalOrder() ([]string, error) {
	return g.TopologicalOrderExcluding(nil)
}

// TopologicalOrderExcluding computes the order while treating the excluded
// nodes (and every edge touching them) as absent. The engine uses this to
// keep loop body sub-regions out of the global order; they are scheduled by
// the loop node itself.
func (g *Graph) TopologicalOrderExcluding(exclude map[string]bool) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		if exclude[n.ID] {
			continue
		}
		inDegree[n.ID] = 0
	}
	for _, e := range g.edges {
		if exclude[e.Source] || exclude[e.Target] {
			continue
		}
		if _, ok := inDegree[e.Target]; ok {
			inDegree[e.Target]++
		}
	}

	var queue []string
	for _, n := range g.nodes {
		if exclude[n.ID] {
			continue
		}
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, e := range g.outgoing[id] {
			if exclude[e.Target] {
				continue
			}
			if _, ok := inDegree[e.Target]; !ok {
				continue
			}
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if len(order) != len(inDegree) {
		// Some node never reached zero in-degree: it sits on a cycle.
		ordered := make(map[string]bool, len(order))
		for _, id := range order {
			ordered[id] = true
		}
		for _, n := range g.nodes {
			if exclude[n.ID] || ordered[n.ID] {
				continue
			}
			return nil, &CycleError{NodeID: n.ID}
		}
	}

	return order, nil
}

// ReachableFrom returns the set of nodes reachable from the given node by
// following outgoing edges, excluding the node itself.
func (g *Graph) ReachableFrom(id string) map[string]bool {
	reachable := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, e := range g.outgoing[cur] {
			if reachable[e.Target] {
				continue
			}
			reachable[e.Target] = true
			walk(e.Target)
		}
	}
	walk(id)
	return reachable
}

// PredecessorsOf returns the direct upstream node ids of a node, in edge
// insertion order.
func (g *Graph) PredecessorsOf(id string) []string {
	var preds []string
	for _, e := range g.incoming[id] {
		preds = append(preds, e.Source)
	}
	return preds
}

// LoopBody returns the set of nodes forming a loop node's body sub-region:
// everything reachable from the loop's "loop_body" edges, stopping at the
// targets of its "done" edges and at the loop node itself. These nodes are
// re-entered once per iteration and are excluded from the global order.
func (g *Graph) LoopBody(loopID string) map[string]bool {
	doneTargets := make(map[string]bool)
	var seeds []string
	for _, e := range g.outgoing[loopID] {
		switch e.SourceHandle {
		case HandleDone:
			doneTargets[e.Target] = true
		case HandleLoopBody, "":
			seeds = append(seeds, e.Target)
		}
	}

	body := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		if body[id] || doneTargets[id] || id == loopID {
			return
		}
		body[id] = true
		for _, e := range g.outgoing[id] {
			walk(e.Target)
		}
	}
	for _, seed := range seeds {
		walk(seed)
	}
	return body
}

// LoopBodies returns the union of all loop nodes' body sub-regions, keyed by
// member node id. isLoop reports whether a node type is a loop control node.
func (g *Graph) LoopBodies(isLoop func(models.Node) bool) map[string]bool {
	members := make(map[string]bool)
	for _, n := range g.nodes {
		if !isLoop(n) {
			continue
		}
		for id := range g.LoopBody(n.ID) {
			members[id] = true
		}
	}
	return members
}
