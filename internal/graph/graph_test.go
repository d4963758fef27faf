package graph

import (
	"errors"
	"testing"

	"nodeflow/internal/models"
)

func node(id string) models.Node {
	return models.Node{ID: id, Type: "test", Name: id}
}

func edge(source, target string) models.Edge {
	return models.Edge{ID: source + "-" + target, Source: source, Target: target}
}

func TestTopologicalOrder_LinearChain(t *testing.T) {
	g := New(
		[]models.Node{node("a"), node("b"), node("c")},
		[]models.Edge{edge("a", "b"), edge("b", "c")},
	)

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("order[%d] = %s, want %s (full order: %v)", i, order[i], id, order)
		}
	}
}

func TestTopologicalOrder_PredecessorsFirst(t *testing.T) {
	// Diamond: a -> b, a -> c, b -> d, c -> d
	g := New(
		[]models.Node{node("a"), node("b"), node("c"), node("d")},
		[]models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
	)

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, e := range g.Edges() {
		if pos[e.Source] >= pos[e.Target] {
			t.Errorf("edge %s -> %s violated by order %v", e.Source, e.Target, order)
		}
	}
}

func TestTopologicalOrder_Deterministic(t *testing.T) {
	nodes := []models.Node{node("x"), node("y"), node("z")}
	edges := []models.Edge{edge("x", "z"), edge("y", "z")}

	first, err := New(nodes, edges).TopologicalOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := New(nodes, edges).TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("order not deterministic: %v vs %v", first, again)
			}
		}
	}
	// Ties broken by insertion order: x before y.
	if first[0] != "x" || first[1] != "y" {
		t.Errorf("expected insertion-order tie break [x y z], got %v", first)
	}
}

func TestTopologicalOrder_CycleError(t *testing.T) {
	g := New(
		[]models.Node{node("a"), node("b")},
		[]models.Edge{edge("a", "b"), edge("b", "a")},
	)

	_, err := g.TopologicalOrder()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if cycleErr.NodeID != "a" && cycleErr.NodeID != "b" {
		t.Errorf("cycle error names node '%s', want a node on the cycle", cycleErr.NodeID)
	}
}

func TestTopologicalOrderExcluding_LoopBodyCycleAllowed(t *testing.T) {
	// start -> loop, loop -(loop_body)-> work -> loop (back edge),
	// loop -(done)-> end. Excluding the body makes the rest acyclic.
	loopEdges := []models.Edge{
		edge("start", "loop"),
		{ID: "e1", Source: "loop", SourceHandle: HandleLoopBody, Target: "work"},
		edge("work", "loop"),
		{ID: "e2", Source: "loop", SourceHandle: HandleDone, Target: "end"},
	}
	g := New([]models.Node{node("start"), node("loop"), node("work"), node("end")}, loopEdges)

	body := g.LoopBody("loop")
	if !body["work"] {
		t.Fatalf("expected 'work' in loop body, got %v", body)
	}
	if body["end"] || body["loop"] {
		t.Fatalf("loop body leaked into done target or loop node: %v", body)
	}

	order, err := g.TopologicalOrderExcluding(body)
	if err != nil {
		t.Fatalf("expected loop back-edge to be tolerated, got %v", err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["start"] > pos["loop"] || pos["loop"] > pos["end"] {
		t.Errorf("unexpected order %v", order)
	}
}

func TestReachableFrom(t *testing.T) {
	g := New(
		[]models.Node{node("a"), node("b"), node("c"), node("d")},
		[]models.Edge{edge("a", "b"), edge("b", "c")},
	)

	reach := g.ReachableFrom("a")
	if !reach["b"] || !reach["c"] {
		t.Errorf("expected b and c reachable from a, got %v", reach)
	}
	if reach["d"] || reach["a"] {
		t.Errorf("unexpected members in reachable set: %v", reach)
	}
}

func TestPredecessorsOf(t *testing.T) {
	g := New(
		[]models.Node{node("a"), node("b"), node("c")},
		[]models.Edge{edge("a", "c"), edge("b", "c")},
	)

	preds := g.PredecessorsOf("c")
	if len(preds) != 2 || preds[0] != "a" || preds[1] != "b" {
		t.Errorf("expected [a b], got %v", preds)
	}
}

func TestValidate(t *testing.T) {
	g := New(
		[]models.Node{node("a"), {ID: "b", Type: "bogus"}},
		[]models.Edge{edge("a", "ghost")},
	)

	errs := g.Validate(func(typ string) bool { return typ == "test" })
	var sawMissingType, sawDangling bool
	for _, e := range errs {
		switch e.Type {
		case "missing_node_type":
			sawMissingType = true
		case "dangling_edge":
			sawDangling = true
		}
	}
	if !sawMissingType {
		t.Error("expected missing_node_type validation error")
	}
	if !sawDangling {
		t.Error("expected dangling_edge validation error")
	}
}
