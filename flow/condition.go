package flow

import (
	"strings"
	"time"

	"github.com/converso/flowengine/model"
	"github.com/converso/flowengine/registry"
)

// EvalCondition evaluates a condition node against the contact and the
// current time and returns the branch to take. An absent tag or field
// is treated as an empty value, never as an error.
func EvalCondition(node model.Node, contact *model.Contact, now time.Time) (bool, error) {
	switch node.Kind {
	case model.CONDITION_TAG:
		tag := registry.String(node.Config, "tag")
		if tag == "" {
			return false, ConfigError{NodeId: node.Id, Message: "tag missing"}
		}
		has := false
		if contact != nil {
			for _, t := range contact.Tags {
				if strings.EqualFold(t, tag) {
					has = true
					break
				}
			}
		}
		return has == registry.Bool(node.Config, "hasTag", true), nil

	case model.CONDITION_FIELD:
		field := registry.String(node.Config, "field")
		operator := registry.String(node.Config, "operator")
		if field == "" || operator == "" {
			return false, ConfigError{NodeId: node.Id, Message: "field or operator missing"}
		}
		actual := contactField(contact, field)
		expected := registry.String(node.Config, "value")
		switch operator {
		case "equals":
			return actual != "" && strings.EqualFold(actual, expected), nil
		case "not_equals":
			return actual == "" || !strings.EqualFold(actual, expected), nil
		case "contains":
			return actual != "" && strings.Contains(strings.ToLower(actual), strings.ToLower(expected)), nil
		case "empty":
			return actual == "", nil
		case "not_empty":
			return actual != "", nil
		}
		return false, ConfigError{NodeId: node.Id, Message: "operator " + operator + " not recognized"}

	case model.CONDITION_TIME:
		start, err := registry.ParseClock(registry.String(node.Config, "start"))
		if err != nil {
			return false, ConfigError{NodeId: node.Id, Message: err.Error()}
		}
		end, err := registry.ParseClock(registry.String(node.Config, "end"))
		if err != nil {
			return false, ConfigError{NodeId: node.Id, Message: err.Error()}
		}
		minute := now.Hour()*60 + now.Minute()
		if start <= end {
			return minute >= start && minute <= end, nil
		}
		// window crosses midnight
		return minute >= start || minute <= end, nil

	case model.CONDITION_DAY:
		days := registry.StringList(node.Config, "days")
		if len(days) == 0 {
			return false, ConfigError{NodeId: node.Id, Message: "days missing"}
		}
		for _, d := range days {
			day, err := registry.ParseWeekday(d)
			if err != nil {
				return false, ConfigError{NodeId: node.Id, Message: err.Error()}
			}
			if day == now.Weekday() {
				return true, nil
			}
		}
		return false, nil
	}
	return false, ConfigError{NodeId: node.Id, Message: "not a condition node"}
}

// contactField resolves the built-in contact fields the editor exposes
// plus any custom field.
func contactField(contact *model.Contact, field string) string {
	if contact == nil {
		return ""
	}
	switch field {
	case "name":
		return contact.Name
	case "phone_number":
		return contact.PhoneNumber
	case "email":
		return contact.Email
	}
	return contact.Fields[field]
}
