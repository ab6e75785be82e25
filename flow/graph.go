package flow

import (
	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/registry"
)

// Graph is an immutable snapshot of one flow version. Executions bind
// to a snapshot for their whole lifetime; draft edits never reach it.
type Graph struct {
	flowId  string
	version int
	nodes   map[string]model.Node
	out     map[string][]model.Edge
	entry   []string
}

func BuildGraph(def *model.FlowDefinition) *Graph {
	g := &Graph{
		flowId:  def.Id,
		version: def.Version,
		nodes:   make(map[string]model.Node, len(def.Nodes)),
		out:     make(map[string][]model.Edge),
	}
	for _, n := range def.Nodes {
		g.nodes[n.Id] = n
		if registry.IsTrigger(n.Kind) {
			g.entry = append(g.entry, n.Id)
		}
	}
	for _, e := range def.Edges {
		g.out[e.SourceId] = append(g.out[e.SourceId], e)
	}
	return g
}

func (g *Graph) FlowId() string {
	return g.flowId
}

func (g *Graph) Version() int {
	return g.version
}

func (g *Graph) Node(id string) (model.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Entry returns the trigger nodes of the flow.
func (g *Graph) Entry() []model.Node {
	nodes := make([]model.Node, 0, len(g.entry))
	for _, id := range g.entry {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Outgoing returns the single edge leaving nodeId with the given
// handle, if any.
func (g *Graph) Outgoing(nodeId string, handle string) (model.Edge, bool) {
	for _, e := range g.out[nodeId] {
		if e.SourceHandle == handle {
			return e, true
		}
	}
	return model.Edge{}, false
}

func (g *Graph) OutgoingAll(nodeId string) []model.Edge {
	return g.out[nodeId]
}
