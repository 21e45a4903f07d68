package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func passthrough(ctx context.Context, s State) (State, error) { return s, nil }

func TestAddNodeEmptyName(t *testing.T) {
	g := NewGraph()
	defer func() {
		if r := recover(); r != "node name cannot be empty" {
			t.Errorf("Expected panic 'node name cannot be empty', got %v", r)
		}
	}()
	g.AddNode(&Node{Name: "", Type: NodeTypeCustom, Execute: passthrough})
}

func TestAddNodeDuplicate(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{Name: "dup_node", Type: NodeTypeCustom, Execute: passthrough})
	defer func() {
		if r := recover(); r != "node dup_node already exists" {
			t.Errorf("Expected panic 'node dup_node already exists', got %v", r)
		}
	}()
	g.AddNode(&Node{Name: "dup_node", Type: NodeTypeCustom, Execute: passthrough})
}

func TestAddNodeRequiresExecute(t *testing.T) {
	g := NewGraph()
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for node without Execute")
		}
	}()
	g.AddNode(&Node{Name: "x", Type: NodeTypeTool})
}

func TestAddEdgeRejectsFanOut(t *testing.T) {
	b := NewBuilder().
		AddNode("a", NodeTypeStart, passthrough).
		AddNode("b", NodeTypeCustom, passthrough).
		AddNode("c", NodeTypeEnd, passthrough).
		AddEdge("a", "b")
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on second outgoing edge")
		}
	}()
	b.AddEdge("a", "c")
}

func TestBuildValidates(t *testing.T) {
	_, err := NewBuilder().
		AddNode("start", NodeTypeStart, passthrough).
		AddNode("end", NodeTypeEnd, passthrough).
		Build()
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute for dangling start, got %v", err)
	}

	_, err = NewBuilder().
		AddNode("start", NodeTypeStart, passthrough).
		AddConditionNode("gate", func(context.Context, State) (string, error) { return "x", nil },
			map[string]string{"x": "missing"}).
		AddNode("end", NodeTypeEnd, passthrough).
		AddEdge("start", "gate").
		Build()
	if err == nil || !strings.Contains(err.Error(), "unknown node missing") {
		t.Fatalf("expected unknown node error, got %v", err)
	}
}

func TestExecuteLinear(t *testing.T) {
	var order []string
	step := func(name string) NodeFunc {
		return func(ctx context.Context, s State) (State, error) {
			order = append(order, name)
			return s, nil
		}
	}
	g, err := NewBuilder().
		AddNode("start", NodeTypeStart, step("start")).
		AddNode("work", NodeTypeTool, step("work")).
		AddNode("end", NodeTypeEnd, step("end")).
		AddEdge("start", "work").
		AddEdge("work", "end").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := g.Execute(context.Background(), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Join(order, ",") != "start,work,end" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestExecuteBoundedLoop(t *testing.T) {
	var transitions []string
	g, err := NewBuilder().
		AddNode("start", NodeTypeStart, func(ctx context.Context, s State) (State, error) {
			s["n"] = 0
			return s, nil
		}).
		AddNode("inc", NodeTypeCustom, func(ctx context.Context, s State) (State, error) {
			s["n"] = s["n"].(int) + 1
			return s, nil
		}).
		AddConditionNode("gate", func(ctx context.Context, s State) (string, error) {
			if s["n"].(int) < 3 {
				return "again", nil
			}
			return "stop", nil
		}, map[string]string{"again": "inc", "stop": "end"}).
		AddNode("end", NodeTypeEnd, passthrough).
		AddEdge("start", "inc").
		AddEdge("inc", "gate").
		OnTransition(func(ctx context.Context, from, to string) {
			transitions = append(transitions, from+">"+to)
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	out, err := g.Execute(context.Background(), State{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["n"].(int) != 3 {
		t.Fatalf("expected 3 iterations, got %v", out["n"])
	}
	if len(transitions) != 7 {
		t.Fatalf("expected 7 transitions, got %v", transitions)
	}
}

func TestExecuteVisitLimit(t *testing.T) {
	g, err := NewBuilder().
		AddNode("start", NodeTypeStart, passthrough).
		AddNode("spin", NodeTypeCustom, passthrough).
		AddConditionNode("gate", func(context.Context, State) (string, error) { return "loop", nil },
			map[string]string{"loop": "spin", "exit": "end"}).
		AddNode("end", NodeTypeEnd, passthrough).
		AddEdge("start", "spin").
		AddEdge("spin", "gate").
		SetMaxVisits(4).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = g.Execute(context.Background(), nil)
	if !errors.Is(err, ErrVisitLimit) {
		t.Fatalf("expected ErrVisitLimit, got %v", err)
	}
}

func TestExecuteWrapsNodeErrors(t *testing.T) {
	boom := errors.New("boom")
	g, err := NewBuilder().
		AddNode("start", NodeTypeStart, passthrough).
		AddNode("fail", NodeTypeTool, func(context.Context, State) (State, error) { return nil, boom }).
		AddNode("end", NodeTypeEnd, passthrough).
		AddEdge("start", "fail").
		AddEdge("fail", "end").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	state, err := g.Execute(context.Background(), State{"k": "v"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "error executing node fail") {
		t.Fatalf("error should name the node: %v", err)
	}
	if state["k"] != "v" {
		t.Fatal("state should be returned alongside the error")
	}
}

func TestExecuteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := NewBuilder().
		AddNode("start", NodeTypeStart, func(context.Context, State) (State, error) {
			cancel()
			return nil, nil
		}).
		AddNode("end", NodeTypeEnd, func(context.Context, State) (State, error) {
			t.Error("end should not run after cancellation")
			return nil, nil
		}).
		AddEdge("start", "end").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := g.Execute(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
