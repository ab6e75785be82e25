package flow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/converso/flowengine/model"
	"github.com/oliveagle/jsonpath"
)

var placeholderRegex = regexp.MustCompile(`{{\s*([a-zA-Z0-9_]+)\s*}}`)

// Render substitutes {{variable}} placeholders from the execution's
// variable map. Unresolved placeholders pass through literally;
// rendering is total and never fails.
func Render(template string, vars map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.TrimSpace(token[2 : len(token)-2])
		if value, ok := vars[name]; ok {
			return value
		}
		return token
	})
}

// ResolvePayloadVars maps an inbound payload into execution variables.
// Mapping values starting with $ are jsonpath expressions evaluated
// against the payload; anything else is taken literally. Paths that do
// not resolve are skipped.
func ResolvePayloadVars(payload map[string]any, mapping map[string]any) map[string]string {
	out := make(map[string]string)
	for name, expr := range mapping {
		s, ok := expr.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(s, "$") {
			value, err := jsonpath.JsonPathLookup(payload, s)
			if err != nil {
				continue
			}
			out[name] = fmt.Sprintf("%v", value)
		} else {
			out[name] = s
		}
	}
	return out
}

// SeedVariables builds the initial variable bindings of an execution
// from the contact snapshot and the trigger event. The built-in names
// match the placeholders the flow editor offers.
func SeedVariables(contact *model.Contact, event *model.InboundEvent, triggerConfig map[string]any) map[string]string {
	vars := make(map[string]string)
	if contact != nil {
		for k, v := range contact.Fields {
			vars[k] = v
		}
		vars["nome"] = contact.Name
		vars["telefone"] = contact.PhoneNumber
		vars["email"] = contact.Email
	}
	if event != nil {
		if event.Text != "" {
			vars["message"] = event.Text
		}
		if event.Type == model.EVENT_WEBHOOK {
			if mapping, ok := triggerConfig["mapping"].(map[string]any); ok {
				for k, v := range ResolvePayloadVars(event.Payload, mapping) {
					vars[k] = v
				}
			}
		}
	}
	return vars
}
