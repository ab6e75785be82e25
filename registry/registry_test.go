package registry

import (
	"testing"

	"github.com/converso/flowengine/model"
	"github.com/stretchr/testify/require"
)

func TestCategoryOf(t *testing.T) {
	for kind, want := range map[model.NodeKind]Category{
		model.TRIGGER_KEYWORD:       CATEGORY_TRIGGER,
		model.TRIGGER_WEBHOOK:       CATEGORY_TRIGGER,
		model.CONDITION_TAG:         CATEGORY_CONDITION,
		model.CONDITION_DAY:         CATEGORY_CONDITION,
		model.ACTION_SEND_TEXT:      CATEGORY_ACTION_MESSAGE,
		model.ACTION_SEND_BUTTONS:   CATEGORY_ACTION_MESSAGE,
		model.ACTION_ADD_TAG:        CATEGORY_ACTION_DATA,
		model.ACTION_WEBHOOK:        CATEGORY_ACTION_DATA,
		model.ACTION_DELAY:          CATEGORY_CONTROL,
		model.ACTION_WAIT_REPLY:     CATEGORY_CONTROL,
		model.ACTION_END:            CATEGORY_CONTROL,
		model.ACTION_TRANSFER_HUMAN: CATEGORY_CONTROL,
	} {
		got, err := CategoryOf(kind)
		require.NoError(t, err)
		require.Equal(t, want, got, string(kind))
	}

	_, err := CategoryOf(model.NodeKind("action_teleport"))
	require.Error(t, err)
}

func TestIsSuspending(t *testing.T) {
	require.True(t, IsSuspending(model.ACTION_DELAY))
	require.True(t, IsSuspending(model.ACTION_WAIT_REPLY))
	require.False(t, IsSuspending(model.ACTION_SEND_TEXT))
	require.False(t, IsSuspending(model.ACTION_END))
}

func TestValidateConfig(t *testing.T) {
	for scenario, tc := range map[string]struct {
		kind    model.NodeKind
		config  map[string]any
		wantErr bool
	}{
		"keyword trigger with keywords": {
			kind:   model.TRIGGER_KEYWORD,
			config: map[string]any{"keywords": []any{"oi", "menu"}},
		},
		"keyword trigger without keywords": {
			kind:    model.TRIGGER_KEYWORD,
			config:  map[string]any{},
			wantErr: true,
		},
		"field condition equals needs value": {
			kind:    model.CONDITION_FIELD,
			config:  map[string]any{"field": "city", "operator": "equals"},
			wantErr: true,
		},
		"field condition empty needs no value": {
			kind:   model.CONDITION_FIELD,
			config: map[string]any{"field": "city", "operator": "empty"},
		},
		"field condition unknown operator": {
			kind:    model.CONDITION_FIELD,
			config:  map[string]any{"field": "city", "operator": "matches", "value": "x"},
			wantErr: true,
		},
		"time condition malformed clock": {
			kind:    model.CONDITION_TIME,
			config:  map[string]any{"start": "9h00", "end": "18:00"},
			wantErr: true,
		},
		"time condition valid window": {
			kind:   model.CONDITION_TIME,
			config: map[string]any{"start": "09:00", "end": "18:00"},
		},
		"day condition unknown day": {
			kind:    model.CONDITION_DAY,
			config:  map[string]any{"days": []any{"funday"}},
			wantErr: true,
		},
		"buttons within limit": {
			kind: model.ACTION_SEND_BUTTONS,
			config: map[string]any{
				"body": "pick one",
				"buttons": []any{
					map[string]any{"id": "b1", "text": "yes"},
					map[string]any{"id": "b2", "text": "no"},
				},
			},
		},
		"too many buttons": {
			kind: model.ACTION_SEND_BUTTONS,
			config: map[string]any{
				"body": "pick one",
				"buttons": []any{
					map[string]any{"id": "b1", "text": "a"},
					map[string]any{"id": "b2", "text": "b"},
					map[string]any{"id": "b3", "text": "c"},
					map[string]any{"id": "b4", "text": "d"},
				},
			},
			wantErr: true,
		},
		"media with unknown type": {
			kind:    model.ACTION_SEND_MEDIA,
			config:  map[string]any{"mediaUrl": "https://cdn.example.com/a.png", "mediaType": "hologram"},
			wantErr: true,
		},
		"webhook relative url": {
			kind:    model.ACTION_WEBHOOK,
			config:  map[string]any{"url": "/internal/hook"},
			wantErr: true,
		},
		"webhook absolute url": {
			kind:   model.ACTION_WEBHOOK,
			config: map[string]any{"url": "https://example.com/hook", "method": "POST"},
		},
		"delay with json number amount": {
			kind:   model.ACTION_DELAY,
			config: map[string]any{"amount": float64(5), "unit": "minutes"},
		},
		"delay zero amount": {
			kind:    model.ACTION_DELAY,
			config:  map[string]any{"amount": float64(0), "unit": "minutes"},
			wantErr: true,
		},
		"wait reply timeout must be positive": {
			kind:    model.ACTION_WAIT_REPLY,
			config:  map[string]any{"timeoutMinutes": float64(0)},
			wantErr: true,
		},
		"wait reply without timeout": {
			kind:   model.ACTION_WAIT_REPLY,
			config: map[string]any{},
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			err := ValidateConfig(tc.kind, tc.config)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	minutes, err := ParseClock("09:30")
	require.NoError(t, err)
	require.Equal(t, 570, minutes)

	_, err = ParseClock("24:00")
	require.Error(t, err)
	_, err = ParseClock("09:61")
	require.Error(t, err)
	_, err = ParseClock("0930")
	require.Error(t, err)
}
