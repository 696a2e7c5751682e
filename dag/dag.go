// Package dag wraps a gonum directed graph with DOT attributes so plans can be
// rendered for inspection.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

type Graph struct {
	*simple.DirectedGraph
	attrs encoding.Attributes
}

func New() *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph()}
}

// NewNode returns a node carrying the given DOT id. The node still has to be
// added with AddNode.
func (g *Graph) NewNode(name string) *Node {
	return &Node{Node: g.DirectedGraph.NewNode(), name: name}
}

// Connect adds an edge between two nodes already in the graph.
func (g *Graph) Connect(from, to int64) error {
	f, t := g.Node(from), g.Node(to)
	if f == nil || t == nil {
		return fmt.Errorf("edge %d -> %d references a missing node", from, to)
	}
	g.SetEdge(g.NewEdge(f, t))
	return nil
}

func (g *Graph) DOTAttributers() (encoding.Attributer, encoding.Attributer, encoding.Attributer) {
	return &g.attrs, &encoding.Attributes{}, &encoding.Attributes{}
}

func (g *Graph) Attributes() []encoding.Attribute {
	return g.attrs.Attributes()
}

func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

type Node struct {
	graph.Node
	name  string
	attrs encoding.Attributes
}

// DOTID names the node in DOT output.
func (n *Node) DOTID() string {
	return n.name
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %w", err)
	}
	return string(data), nil
}

func (g *Graph) NewEdge(from, to graph.Node) graph.Edge {
	return &edge{Edge: g.DirectedGraph.NewEdge(from, to)}
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}
