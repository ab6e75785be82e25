package flow

import (
	"fmt"

	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/registry"
)

// Violation is one structural problem found in a flow definition. A
// flow cannot be published while violations exist.
type Violation struct {
	NodeId  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.NodeId == "" {
		return v.Message
	}
	return fmt.Sprintf("node %s: %s", v.NodeId, v.Message)
}

// Validate checks the structural invariants of a flow definition and
// returns every violation found. An empty result means the flow may be
// published.
func Validate(def *model.FlowDefinition) []Violation {
	var violations []Violation
	add := func(nodeId string, format string, args ...any) {
		violations = append(violations, Violation{NodeId: nodeId, Message: fmt.Sprintf(format, args...)})
	}

	nodes := make(map[string]model.Node, len(def.Nodes))
	var triggers []string
	for _, n := range def.Nodes {
		if _, dup := nodes[n.Id]; dup {
			add(n.Id, "duplicate node id")
			continue
		}
		nodes[n.Id] = n
		if _, err := registry.CategoryOf(n.Kind); err != nil {
			add(n.Id, "%v", err)
			continue
		}
		if err := registry.ValidateConfig(n.Kind, n.Config); err != nil {
			add(n.Id, "%v", err)
		}
		if registry.IsTrigger(n.Kind) {
			triggers = append(triggers, n.Id)
		}
	}
	if len(triggers) == 0 {
		add("", "flow has no trigger node")
	}

	out := make(map[string][]model.Edge)
	for _, e := range def.Edges {
		if _, ok := nodes[e.SourceId]; !ok {
			add(e.SourceId, "edge source does not exist")
			continue
		}
		target, ok := nodes[e.TargetId]
		if !ok {
			add(e.TargetId, "edge target does not exist")
			continue
		}
		if registry.IsTrigger(target.Kind) {
			add(e.TargetId, "edge targets a trigger node")
			continue
		}
		out[e.SourceId] = append(out[e.SourceId], e)
	}

	for id, n := range nodes {
		violations = append(violations, validateOutgoing(n, out[id])...)
	}

	violations = append(violations, validateReachability(nodes, out, triggers)...)
	violations = append(violations, validateCycles(nodes, out)...)
	return violations
}

func validateOutgoing(n model.Node, edges []model.Edge) []Violation {
	var violations []Violation
	handles := make(map[string]int)
	for _, e := range edges {
		handles[e.SourceHandle]++
	}
	for h, count := range handles {
		if count > 1 {
			violations = append(violations, Violation{NodeId: n.Id, Message: fmt.Sprintf("more than one outgoing edge with handle %q", h)})
		}
	}
	switch {
	case registry.IsCondition(n.Kind):
		if handles[model.HANDLE_TRUE] != 1 || handles[model.HANDLE_FALSE] != 1 || len(edges) != 2 {
			violations = append(violations, Violation{NodeId: n.Id, Message: "condition node requires exactly two outgoing edges labeled true and false"})
		}
	case n.Kind == model.ACTION_END:
		if len(edges) != 0 {
			violations = append(violations, Violation{NodeId: n.Id, Message: "end node must have no outgoing edges"})
		}
	case n.Kind == model.ACTION_WAIT_REPLY:
		for h := range handles {
			if h != model.HANDLE_DEFAULT && h != model.HANDLE_TIMEOUT {
				violations = append(violations, Violation{NodeId: n.Id, Message: fmt.Sprintf("wait node has unexpected handle %q", h)})
			}
		}
	default:
		if len(edges) > 1 {
			violations = append(violations, Violation{NodeId: n.Id, Message: "node must have at most one outgoing edge"})
		} else if len(edges) == 1 && edges[0].SourceHandle != model.HANDLE_DEFAULT {
			violations = append(violations, Violation{NodeId: n.Id, Message: fmt.Sprintf("node has unexpected handle %q", edges[0].SourceHandle)})
		}
	}
	return violations
}

// validateReachability requires every non-trigger node to be reachable
// from exactly one trigger.
func validateReachability(nodes map[string]model.Node, out map[string][]model.Edge, triggers []string) []Violation {
	var violations []Violation
	covered := make(map[string]int)
	for _, t := range triggers {
		seen := map[string]bool{}
		stack := []string{t}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[id] {
				continue
			}
			seen[id] = true
			if id != t {
				covered[id]++
			}
			for _, e := range out[id] {
				stack = append(stack, e.TargetId)
			}
		}
	}
	for id, n := range nodes {
		if registry.IsTrigger(n.Kind) {
			continue
		}
		switch covered[id] {
		case 0:
			violations = append(violations, Violation{NodeId: id, Message: "not reachable from any trigger"})
		case 1:
		default:
			violations = append(violations, Violation{NodeId: id, Message: "reachable from more than one trigger"})
		}
	}
	return violations
}

// validateCycles rejects cycles that contain no suspension point: such
// a cycle would loop synchronously forever at run time.
func validateCycles(nodes map[string]model.Node, out map[string][]model.Edge) []Violation {
	var violations []Violation
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	var stack []string

	var walk func(id string)
	walk = func(id string) {
		state[id] = inStack
		stack = append(stack, id)
		for _, e := range out[id] {
			switch state[e.TargetId] {
			case unvisited:
				walk(e.TargetId)
			case inStack:
				// back edge: the cycle is the stack suffix from target
				start := 0
				for i, s := range stack {
					if s == e.TargetId {
						start = i
						break
					}
				}
				suspends := false
				for _, s := range stack[start:] {
					if registry.IsSuspending(nodes[s].Kind) {
						suspends = true
						break
					}
				}
				if !suspends {
					violations = append(violations, Violation{NodeId: e.TargetId, Message: "cycle without suspension point"})
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}
	for id := range nodes {
		if state[id] == unvisited {
			walk(id)
		}
	}
	return violations
}
