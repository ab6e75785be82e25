package flow

import (
	"testing"

	"github.com/converso/flowengine/model"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	vars := map[string]string{"nome": "Ana", "cidade": "Recife"}

	require.Equal(t, "Olá Ana!", Render("Olá {{nome}}!", vars))
	require.Equal(t, "Olá Ana de Recife", Render("Olá {{ nome }} de {{cidade}}", vars))

	// unresolved placeholders pass through literally
	require.Equal(t, "Olá {{sobrenome}}", Render("Olá {{sobrenome}}", vars))

	// rendering is idempotent on plain text
	require.Equal(t, "sem variáveis", Render("sem variáveis", vars))
	require.Equal(t, "", Render("", vars))
}

func TestResolvePayloadVars(t *testing.T) {
	payload := map[string]any{
		"order": map[string]any{"id": float64(981), "total": 42.5},
		"tag":   "vip",
	}
	mapping := map[string]any{
		"pedido":  "$.order.id",
		"total":   "$.order.total",
		"origem":  "webhook",
		"ausente": "$.missing.path",
	}
	vars := ResolvePayloadVars(payload, mapping)
	require.Equal(t, "981", vars["pedido"])
	require.Equal(t, "42.5", vars["total"])
	require.Equal(t, "webhook", vars["origem"])
	_, ok := vars["ausente"]
	require.False(t, ok)
}

func TestSeedVariables(t *testing.T) {
	contact := &model.Contact{
		Id:          "c1",
		Name:        "Ana",
		PhoneNumber: "+5511999990000",
		Email:       "ana@example.com",
		Fields:      map[string]string{"cidade": "Recife"},
	}
	event := &model.InboundEvent{
		Type:      model.EVENT_MESSAGE,
		ContactId: "c1",
		Text:      "oi pessoal",
	}
	vars := SeedVariables(contact, event, nil)
	require.Equal(t, "Ana", vars["nome"])
	require.Equal(t, "+5511999990000", vars["telefone"])
	require.Equal(t, "ana@example.com", vars["email"])
	require.Equal(t, "Recife", vars["cidade"])
	require.Equal(t, "oi pessoal", vars["message"])
}

func TestSeedVariablesWebhookMapping(t *testing.T) {
	event := &model.InboundEvent{
		Type:      model.EVENT_WEBHOOK,
		ContactId: "c1",
		Payload:   map[string]any{"order": map[string]any{"id": "A-7"}},
	}
	triggerConfig := map[string]any{
		"mapping": map[string]any{"pedido": "$.order.id"},
	}
	vars := SeedVariables(nil, event, triggerConfig)
	require.Equal(t, "A-7", vars["pedido"])
}
