package gatewaysync

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortressi/gatewaysync/dag"
	"github.com/fortressi/gatewaysync/set"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/topo"
)

// PlanName names the shape of a plan, e.g. "create_api".
type PlanName string

// OperationKind is the logical operation a plan performs.
type OperationKind int

const (
	OpCreate OperationKind = iota
	OpUpdate
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Plan is an ordered list of dependent steps for one logical operation.
type Plan[TX any] struct {
	Name   PlanName
	Kind   OperationKind
	Unique []UniqueKey

	graph *dag.Graph
	steps map[int64]Step[TX]
}

// Len returns the number of steps.
func (p *Plan[TX]) Len() int {
	return len(p.steps)
}

// Order returns the steps in execution order. Ties are broken by the order in
// which steps were appended so the result is deterministic.
func (p *Plan[TX]) Order() ([]Step[TX], error) {
	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("plan %s: topological sort failed: %w", p.Name, err)
	}

	order := make([]Step[TX], 0, len(sorted))
	for _, node := range sorted {
		order = append(order, p.steps[node.ID()])
	}
	return order, nil
}

// DOT renders the plan graph in Graphviz format.
func (p *Plan[TX]) DOT() (string, error) {
	return p.graph.ExportToDot(string(p.Name))
}

// PlanBuilder appends steps to a plan.
//
// Steps are always appended in dependency order, parent before child. For
// delete plans Build reverses every edge, so children are removed before
// their parent without the caller restating the dependency.
type PlanBuilder[TX any] struct {
	name   PlanName
	kind   OperationKind
	unique []UniqueKey

	graph     *dag.Graph
	steps     map[int64]Step[TX]
	edges     [][2]int64
	last      int64
	hasLast   bool
	stepNames *set.Set[StepName]
}

// NewPlanBuilder creates a builder for a plan of the given kind.
func NewPlanBuilder[TX any](name PlanName, kind OperationKind) *PlanBuilder[TX] {
	return &PlanBuilder[TX]{
		name:      name,
		kind:      kind,
		graph:     dag.New(),
		steps:     make(map[int64]Step[TX]),
		stepNames: &set.Set[StepName]{},
	}
}

// Require declares unique keys checked against the mirror before the plan's
// first remote call. Keys with an empty value are ignored.
func (b *PlanBuilder[TX]) Require(keys ...UniqueKey) *PlanBuilder[TX] {
	for _, k := range keys {
		if k.Value != "" {
			b.unique = append(b.unique, k)
		}
	}
	return b
}

// Append adds a step depending on the previously appended one.
func (b *PlanBuilder[TX]) Append(step Step[TX]) error {
	if step == nil {
		return errors.New("nil step")
	}
	if b.stepNames.Contains(step.Name()) {
		return fmt.Errorf("step with name '%s' already exists", step.Name())
	}
	b.stepNames.Insert(step.Name())

	node := b.graph.NewNode(string(step.Name()))
	if err := node.SetAttribute(encoding.Attribute{Key: "label", Value: step.Label()}); err != nil {
		return fmt.Errorf("label step %s: %w", step.Name(), err)
	}
	b.graph.AddNode(node)
	b.steps[node.ID()] = step

	if b.hasLast {
		b.edges = append(b.edges, [2]int64{b.last, node.ID()})
	}
	b.last, b.hasLast = node.ID(), true
	return nil
}

// Build finalizes the plan.
func (b *PlanBuilder[TX]) Build() (*Plan[TX], error) {
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("plan %s has no steps", b.name)
	}

	for _, e := range b.edges {
		from, to := e[0], e[1]
		if b.kind == OpDelete {
			from, to = to, from
		}
		if err := b.graph.Connect(from, to); err != nil {
			return nil, fmt.Errorf("plan %s: %w", b.name, err)
		}
	}

	return &Plan[TX]{
		Name:   b.name,
		Kind:   b.kind,
		Unique: b.unique,
		graph:  b.graph,
		steps:  b.steps,
	}, nil
}
