package flow

import (
	"testing"

	"github.com/converso/flowengine/model"
	"github.com/stretchr/testify/require"
)

func validFlow() *model.FlowDefinition {
	return &model.FlowDefinition{
		Id:          "f1",
		Name:        "welcome",
		TriggerType: model.TRIGGER_KEYWORD,
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_KEYWORD, Config: map[string]any{"keywords": []any{"oi"}}},
			{Id: "c1", Kind: model.CONDITION_TAG, Config: map[string]any{"tag": "vip"}},
			{Id: "s1", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "Olá {{nome}}!"}},
			{Id: "s2", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "Bem-vindo!"}},
			{Id: "e1", Kind: model.ACTION_END},
			{Id: "e2", Kind: model.ACTION_END},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "c1"},
			{SourceId: "c1", TargetId: "s1", SourceHandle: model.HANDLE_TRUE},
			{SourceId: "c1", TargetId: "s2", SourceHandle: model.HANDLE_FALSE},
			{SourceId: "s1", TargetId: "e1"},
			{SourceId: "s2", TargetId: "e2"},
		},
	}
}

func violationMessages(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.String())
	}
	return out
}

func TestValidate(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"valid flow has no violations":     testValidFlow,
		"duplicate node ids":               testDuplicateNodeIds,
		"unknown kind":                     testUnknownKind,
		"missing trigger":                  testMissingTrigger,
		"edge to missing node":             testEdgeToMissingNode,
		"edge targeting trigger":           testEdgeTargetingTrigger,
		"condition edge shape":             testConditionEdges,
		"end node with outgoing edge":      testEndNodeEdges,
		"multiple default edges":           testMultipleDefaultEdges,
		"unreachable node":                 testUnreachableNode,
		"cycle without suspension":         testCycleWithoutSuspension,
		"cycle through wait node accepted": testCycleWithSuspension,
	} {
		t.Run(scenario, fn)
	}
}

func testValidFlow(t *testing.T) {
	require.Empty(t, Validate(validFlow()))
}

func testDuplicateNodeIds(t *testing.T) {
	def := validFlow()
	def.Nodes = append(def.Nodes, model.Node{Id: "s1", Kind: model.ACTION_END})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node s1: duplicate node id")
}

func testUnknownKind(t *testing.T) {
	def := validFlow()
	def.Nodes[2].Kind = model.NodeKind("action_teleport")
	require.NotEmpty(t, Validate(def))
}

func testMissingTrigger(t *testing.T) {
	def := &model.FlowDefinition{
		Id: "f2",
		Nodes: []model.Node{
			{Id: "e1", Kind: model.ACTION_END},
		},
	}
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "flow has no trigger node")
}

func testEdgeToMissingNode(t *testing.T) {
	def := validFlow()
	def.Edges = append(def.Edges, model.Edge{SourceId: "e1", TargetId: "ghost"})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node ghost: edge target does not exist")
}

func testEdgeTargetingTrigger(t *testing.T) {
	def := validFlow()
	def.Edges = append(def.Edges, model.Edge{SourceId: "s2", TargetId: "t1"})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node t1: edge targets a trigger node")
}

func testConditionEdges(t *testing.T) {
	def := validFlow()
	// drop the false edge
	def.Edges = append(def.Edges[:2], def.Edges[3:]...)
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node c1: condition node requires exactly two outgoing edges labeled true and false")
}

func testEndNodeEdges(t *testing.T) {
	def := validFlow()
	def.Nodes = append(def.Nodes, model.Node{Id: "s3", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "tchau"}})
	def.Edges = append(def.Edges, model.Edge{SourceId: "e1", TargetId: "s3"})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node e1: end node must have no outgoing edges")
}

func testMultipleDefaultEdges(t *testing.T) {
	def := validFlow()
	def.Edges = append(def.Edges, model.Edge{SourceId: "s1", TargetId: "e2"})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node s1: node must have at most one outgoing edge")
}

func testUnreachableNode(t *testing.T) {
	def := validFlow()
	def.Nodes = append(def.Nodes, model.Node{Id: "orphan", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "x"}})
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node orphan: not reachable from any trigger")
}

func testCycleWithoutSuspension(t *testing.T) {
	def := &model.FlowDefinition{
		Id: "f3",
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_MESSAGE},
			{Id: "s1", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "a"}},
			{Id: "g1", Kind: model.ACTION_ADD_TAG, Config: map[string]any{"tag": "loop"}},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "s1"},
			{SourceId: "s1", TargetId: "g1"},
			{SourceId: "g1", TargetId: "s1"},
		},
	}
	violations := Validate(def)
	require.Contains(t, violationMessages(violations), "node s1: cycle without suspension point")
}

func testCycleWithSuspension(t *testing.T) {
	def := &model.FlowDefinition{
		Id: "f4",
		Nodes: []model.Node{
			{Id: "t1", Kind: model.TRIGGER_MESSAGE},
			{Id: "s1", Kind: model.ACTION_SEND_TEXT, Config: map[string]any{"message": "a"}},
			{Id: "w1", Kind: model.ACTION_WAIT_REPLY, Config: map[string]any{}},
		},
		Edges: []model.Edge{
			{SourceId: "t1", TargetId: "s1"},
			{SourceId: "s1", TargetId: "w1"},
			{SourceId: "w1", TargetId: "s1"},
		},
	}
	for _, v := range Validate(def) {
		require.NotContains(t, v.Message, "cycle")
	}
}
