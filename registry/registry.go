// Package registry is the static catalog of node kinds: their category
// and the configuration each kind requires. Config validation runs at
// flow save/publish time; the interpreter still re-checks required
// options defensively before executing a node.
package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/converso/flowengine/model"
)

type Category string

const CATEGORY_TRIGGER Category = "trigger"
const CATEGORY_CONDITION Category = "condition"
const CATEGORY_ACTION_MESSAGE Category = "action_message"
const CATEGORY_ACTION_DATA Category = "action_data"
const CATEGORY_CONTROL Category = "control"

// CategoryOf maps every node kind to its category. The kind set is
// closed: an unknown kind is an error, not a fallback.
func CategoryOf(kind model.NodeKind) (Category, error) {
	switch kind {
	case model.TRIGGER_BUTTON_CLICK, model.TRIGGER_KEYWORD, model.TRIGGER_WEBHOOK, model.TRIGGER_MESSAGE:
		return CATEGORY_TRIGGER, nil
	case model.CONDITION_TAG, model.CONDITION_FIELD, model.CONDITION_TIME, model.CONDITION_DAY:
		return CATEGORY_CONDITION, nil
	case model.ACTION_SEND_TEXT, model.ACTION_SEND_TEMPLATE, model.ACTION_SEND_BUTTONS,
		model.ACTION_SEND_LIST, model.ACTION_SEND_MEDIA:
		return CATEGORY_ACTION_MESSAGE, nil
	case model.ACTION_ADD_TAG, model.ACTION_REMOVE_TAG, model.ACTION_UPDATE_FIELD, model.ACTION_WEBHOOK:
		return CATEGORY_ACTION_DATA, nil
	case model.ACTION_WAIT_REPLY, model.ACTION_DELAY, model.ACTION_TRANSFER_HUMAN, model.ACTION_END:
		return CATEGORY_CONTROL, nil
	}
	return "", fmt.Errorf("unknown node kind %s", kind)
}

func IsTrigger(kind model.NodeKind) bool {
	c, err := CategoryOf(kind)
	return err == nil && c == CATEGORY_TRIGGER
}

func IsCondition(kind model.NodeKind) bool {
	c, err := CategoryOf(kind)
	return err == nil && c == CATEGORY_CONDITION
}

// IsSuspending reports whether a node pauses the execution pending an
// external event or timer.
func IsSuspending(kind model.NodeKind) bool {
	return kind == model.ACTION_WAIT_REPLY || kind == model.ACTION_DELAY
}

func IsTerminal(kind model.NodeKind) bool {
	return kind == model.ACTION_END || kind == model.ACTION_TRANSFER_HUMAN
}

var fieldOperators = map[string]bool{
	"equals":     true,
	"not_equals": true,
	"contains":   true,
	"empty":      true,
	"not_empty":  true,
}

var delayUnits = map[string]bool{
	"minutes": true,
	"hours":   true,
	"days":    true,
}

var mediaTypes = map[string]bool{
	"image":    true,
	"video":    true,
	"document": true,
	"audio":    true,
}

// ValidateConfig checks a node's configuration against its kind's
// recognized options.
func ValidateConfig(kind model.NodeKind, config map[string]any) error {
	switch kind {
	case model.TRIGGER_KEYWORD:
		if len(StringList(config, "keywords")) == 0 {
			return fmt.Errorf("trigger_keyword requires at least one keyword")
		}
	case model.TRIGGER_BUTTON_CLICK, model.TRIGGER_WEBHOOK, model.TRIGGER_MESSAGE:
		// no required options; webhook token is issued at publish time
	case model.CONDITION_TAG:
		if String(config, "tag") == "" {
			return fmt.Errorf("condition_tag requires tag")
		}
	case model.CONDITION_FIELD:
		if String(config, "field") == "" {
			return fmt.Errorf("condition_field requires field")
		}
		op := String(config, "operator")
		if !fieldOperators[op] {
			return fmt.Errorf("condition_field operator %q not recognized", op)
		}
		if op != "empty" && op != "not_empty" && !Has(config, "value") {
			return fmt.Errorf("condition_field operator %s requires value", op)
		}
	case model.CONDITION_TIME:
		for _, key := range []string{"start", "end"} {
			if _, err := ParseClock(String(config, key)); err != nil {
				return fmt.Errorf("condition_time %s: %v", key, err)
			}
		}
	case model.CONDITION_DAY:
		days := StringList(config, "days")
		if len(days) == 0 {
			return fmt.Errorf("condition_day requires at least one day")
		}
		for _, d := range days {
			if _, err := ParseWeekday(d); err != nil {
				return err
			}
		}
	case model.ACTION_SEND_TEXT:
		if String(config, "message") == "" {
			return fmt.Errorf("action_send_text requires message")
		}
	case model.ACTION_SEND_TEMPLATE:
		if String(config, "templateName") == "" {
			return fmt.Errorf("action_send_template requires templateName")
		}
	case model.ACTION_SEND_BUTTONS:
		if String(config, "body") == "" {
			return fmt.Errorf("action_send_buttons requires body")
		}
		buttons := List(config, "buttons")
		if len(buttons) == 0 || len(buttons) > 3 {
			return fmt.Errorf("action_send_buttons requires 1 to 3 buttons")
		}
		for _, b := range buttons {
			bm, ok := b.(map[string]any)
			if !ok || String(bm, "id") == "" || String(bm, "text") == "" {
				return fmt.Errorf("action_send_buttons button requires id and text")
			}
		}
	case model.ACTION_SEND_LIST:
		if String(config, "body") == "" {
			return fmt.Errorf("action_send_list requires body")
		}
		if len(List(config, "sections")) == 0 {
			return fmt.Errorf("action_send_list requires sections")
		}
	case model.ACTION_SEND_MEDIA:
		if String(config, "mediaUrl") == "" {
			return fmt.Errorf("action_send_media requires mediaUrl")
		}
		if !mediaTypes[String(config, "mediaType")] {
			return fmt.Errorf("action_send_media mediaType %q not recognized", String(config, "mediaType"))
		}
	case model.ACTION_ADD_TAG, model.ACTION_REMOVE_TAG:
		if String(config, "tag") == "" {
			return fmt.Errorf("%s requires tag", kind)
		}
	case model.ACTION_UPDATE_FIELD:
		if String(config, "field") == "" {
			return fmt.Errorf("action_update_field requires field")
		}
	case model.ACTION_WEBHOOK:
		raw := String(config, "url")
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("action_webhook requires an absolute http(s) url")
		}
		method := strings.ToUpper(String(config, "method"))
		if method != "" && method != "GET" && method != "POST" {
			return fmt.Errorf("action_webhook method %q not recognized", method)
		}
	case model.ACTION_WAIT_REPLY:
		if Has(config, "timeoutMinutes") {
			if v, ok := Int(config, "timeoutMinutes"); !ok || v < 1 {
				return fmt.Errorf("action_wait_reply timeoutMinutes must be an integer >= 1")
			}
		}
	case model.ACTION_DELAY:
		v, ok := Int(config, "amount")
		if !ok || v < 1 {
			return fmt.Errorf("action_delay amount must be an integer >= 1")
		}
		if !delayUnits[String(config, "unit")] {
			return fmt.Errorf("action_delay unit %q not recognized", String(config, "unit"))
		}
	case model.ACTION_TRANSFER_HUMAN, model.ACTION_END:
		// no options
	default:
		return fmt.Errorf("unknown node kind %s", kind)
	}
	return nil
}
