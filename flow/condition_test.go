package flow

import (
	"testing"
	"time"

	"github.com/converso/flowengine/model"
	"github.com/stretchr/testify/require"
)

func conditionNode(kind model.NodeKind, config map[string]any) model.Node {
	return model.Node{Id: "cond", Kind: kind, Config: config}
}

func TestEvalConditionTag(t *testing.T) {
	contact := &model.Contact{Id: "c1", Tags: []string{"VIP", "newsletter"}}

	result, err := EvalCondition(conditionNode(model.CONDITION_TAG, map[string]any{"tag": "vip"}), contact, time.Now())
	require.NoError(t, err)
	require.True(t, result)

	result, err = EvalCondition(conditionNode(model.CONDITION_TAG, map[string]any{"tag": "churned"}), contact, time.Now())
	require.NoError(t, err)
	require.False(t, result)

	// hasTag=false inverts the test
	result, err = EvalCondition(conditionNode(model.CONDITION_TAG, map[string]any{"tag": "churned", "hasTag": false}), contact, time.Now())
	require.NoError(t, err)
	require.True(t, result)

	// nil contact has no tags
	result, err = EvalCondition(conditionNode(model.CONDITION_TAG, map[string]any{"tag": "vip"}), nil, time.Now())
	require.NoError(t, err)
	require.False(t, result)
}

func TestEvalConditionField(t *testing.T) {
	contact := &model.Contact{
		Id:     "c1",
		Name:   "Ana",
		Fields: map[string]string{"cidade": "Recife"},
	}
	for scenario, tc := range map[string]struct {
		config map[string]any
		want   bool
	}{
		"equals match":           {map[string]any{"field": "cidade", "operator": "equals", "value": "recife"}, true},
		"equals mismatch":        {map[string]any{"field": "cidade", "operator": "equals", "value": "natal"}, false},
		"builtin field":          {map[string]any{"field": "name", "operator": "equals", "value": "Ana"}, true},
		"contains":               {map[string]any{"field": "cidade", "operator": "contains", "value": "cif"}, true},
		"not equals":             {map[string]any{"field": "cidade", "operator": "not_equals", "value": "natal"}, true},
		"absent equals false":    {map[string]any{"field": "estado", "operator": "equals", "value": "PE"}, false},
		"absent contains false":  {map[string]any{"field": "estado", "operator": "contains", "value": "P"}, false},
		"absent not_equals true": {map[string]any{"field": "estado", "operator": "not_equals", "value": "PE"}, true},
		"absent empty true":      {map[string]any{"field": "estado", "operator": "empty"}, true},
		"absent not_empty false": {map[string]any{"field": "estado", "operator": "not_empty"}, false},
		"present not_empty true": {map[string]any{"field": "cidade", "operator": "not_empty"}, true},
		"present empty false":    {map[string]any{"field": "cidade", "operator": "empty"}, false},
	} {
		t.Run(scenario, func(t *testing.T) {
			result, err := EvalCondition(conditionNode(model.CONDITION_FIELD, tc.config), contact, time.Now())
			require.NoError(t, err)
			require.Equal(t, tc.want, result)
		})
	}

	_, err := EvalCondition(conditionNode(model.CONDITION_FIELD, map[string]any{"field": "cidade", "operator": "matches", "value": "x"}), contact, time.Now())
	require.Error(t, err)
	_, ok := err.(ConfigError)
	require.True(t, ok)
}

func TestEvalConditionTime(t *testing.T) {
	node := conditionNode(model.CONDITION_TIME, map[string]any{"start": "09:00", "end": "18:00"})
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
	}

	result, err := EvalCondition(node, nil, at(10, 30))
	require.NoError(t, err)
	require.True(t, result)

	result, err = EvalCondition(node, nil, at(20, 0))
	require.NoError(t, err)
	require.False(t, result)

	// window crossing midnight
	night := conditionNode(model.CONDITION_TIME, map[string]any{"start": "22:00", "end": "06:00"})
	result, err = EvalCondition(night, nil, at(23, 15))
	require.NoError(t, err)
	require.True(t, result)

	result, err = EvalCondition(night, nil, at(3, 0))
	require.NoError(t, err)
	require.True(t, result)

	result, err = EvalCondition(night, nil, at(12, 0))
	require.NoError(t, err)
	require.False(t, result)
}

func TestEvalConditionDay(t *testing.T) {
	node := conditionNode(model.CONDITION_DAY, map[string]any{"days": []any{"monday", "friday"}})

	monday := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	result, err := EvalCondition(node, nil, monday)
	require.NoError(t, err)
	require.True(t, result)

	result, err = EvalCondition(node, nil, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.False(t, result)
}
