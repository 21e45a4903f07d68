// Package graph runs workflows expressed as a directed graph of named nodes.
// Execution is strictly sequential: exactly one node is active at a time and
// cycles are permitted but bounded by a per-node visit cap.
package graph

import (
	"context"
	"errors"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
	NodeTypeCustom    NodeType = "custom"
)

var (
	// ErrVisitLimit is returned when a node is entered more often than allowed.
	ErrVisitLimit = errors.New("graph: visit limit exceeded")
	// ErrNoRoute is returned when a node has nowhere to go next.
	ErrNoRoute = errors.New("graph: no route")
)

// State represents the execution state passed between nodes
type State map[string]any

// NodeFunc is the function executed by a node
type NodeFunc func(context.Context, State) (State, error)

// ConditionFunc evaluates a condition and returns a route key
type ConditionFunc func(context.Context, State) (string, error)

// TransitionFunc observes every edge taken during execution.
type TransitionFunc func(ctx context.Context, from, to string)

// Node represents a node in the execution graph
type Node struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc
	Condition ConditionFunc     // Only for condition nodes
	Next      string            // Outgoing edge for non-condition nodes
	NextMap   map[string]string // For condition nodes: route key -> next node
}

// Graph represents an execution flow graph
type Graph struct {
	nodes        map[string]*Node
	startNode    string
	endNode      string
	maxVisits    int
	onTransition TransitionFunc
}

// NewGraph creates a new graph
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		maxVisits: 10,
	}
}

func (g *Graph) validateNode(node *Node) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *Node) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)
	g.nodes[node.Name] = node

	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
	if node.Type == NodeTypeEnd {
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph) SetMaxVisits(maxVisits int) {
	if maxVisits > 0 {
		g.maxVisits = maxVisits
	}
}

// OnTransition registers an observer called for every edge taken.
func (g *Graph) OnTransition(fn TransitionFunc) {
	g.onTransition = fn
}

// GetNode returns a node by name
func (g *Graph) GetNode(name string) (*Node, error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Validate checks that the graph is closed: a start and end exist and every
// edge points at a known node.
func (g *Graph) Validate() error {
	if g.startNode == "" {
		return errors.New("start node not set")
	}
	if g.endNode == "" {
		return errors.New("end node not set")
	}
	for _, node := range g.nodes {
		switch {
		case node.Type == NodeTypeCondition:
			if len(node.NextMap) == 0 {
				return fmt.Errorf("condition node %s has no routes", node.Name)
			}
			for key, target := range node.NextMap {
				if _, ok := g.nodes[target]; !ok {
					return fmt.Errorf("route %s of node %s points at unknown node %s", key, node.Name, target)
				}
			}
		case node.Name == g.endNode:
		default:
			if node.Next == "" {
				return fmt.Errorf("node %s: %w", node.Name, ErrNoRoute)
			}
			if _, ok := g.nodes[node.Next]; !ok {
				return fmt.Errorf("node %s points at unknown node %s", node.Name, node.Next)
			}
		}
	}
	return nil
}

// Execute runs the graph from the start node until the end node returns.
// The context is checked before every node; on error the state reached so
// far is returned alongside it.
func (g *Graph) Execute(ctx context.Context, initialState State) (State, error) {
	if g.startNode == "" {
		return nil, errors.New("start node not set")
	}

	state := initialState
	if state == nil {
		state = make(State)
	}

	visited := make(map[string]int)
	current := g.startNode
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, exists := g.nodes[current]
		if !exists {
			return state, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			return state, fmt.Errorf("node %s visited %d times: %w", current, visited[current], ErrVisitLimit)
		}

		if node.Type == NodeTypeCondition {
			route, err := node.Condition(ctx, state)
			if err != nil {
				return state, fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err)
			}
			next, ok := node.NextMap[route]
			if !ok || next == "" {
				return state, fmt.Errorf("node %s route %q: %w", node.Name, route, ErrNoRoute)
			}
			g.transition(ctx, current, next)
			current = next
			continue
		}

		out, err := node.Execute(ctx, state)
		if out != nil {
			state = out
		}
		if err != nil {
			return state, fmt.Errorf("error executing node %s: %w", node.Name, err)
		}
		if current == g.endNode {
			return state, nil
		}
		if node.Next == "" {
			return state, fmt.Errorf("node %s: %w", node.Name, ErrNoRoute)
		}
		g.transition(ctx, current, node.Next)
		current = node.Next
	}
}

func (g *Graph) transition(ctx context.Context, from, to string) {
	if g.onTransition != nil {
		g.onTransition(ctx, from, to)
	}
}

// Builder helps build graphs fluently
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new graph builder
func NewBuilder() *Builder {
	return &Builder{
		graph: NewGraph(),
	}
}

// AddNode adds a node to the graph
func (b *Builder) AddNode(name string, nodeType NodeType, execute NodeFunc) *Builder {
	b.graph.AddNode(&Node{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder) AddConditionNode(name string, condition ConditionFunc, nextMap map[string]string) *Builder {
	b.graph.AddNode(&Node{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		NextMap:   nextMap,
	})
	return b
}

// AddEdge connects two nodes. A node has at most one outgoing edge; branching
// goes through condition nodes.
func (b *Builder) AddEdge(from, to string) *Builder {
	node, exists := b.graph.nodes[from]
	if !exists {
		panic(fmt.Sprintf("node %s not found", from))
	}
	if node.Type == NodeTypeCondition {
		panic(fmt.Sprintf("condition node %s routes through its NextMap", from))
	}
	if node.Next != "" && node.Next != to {
		panic(fmt.Sprintf("node %s already has an edge to %s", from, node.Next))
	}
	node.Next = to
	return b
}

// SetStart sets the start node
func (b *Builder) SetStart(name string) *Builder {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder) SetEnd(name string) *Builder {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the per-node visit cap
func (b *Builder) SetMaxVisits(maxVisits int) *Builder {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// OnTransition registers an edge observer
func (b *Builder) OnTransition(fn TransitionFunc) *Builder {
	b.graph.OnTransition(fn)
	return b
}

// Build validates and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
