package model

type EventType string

const EVENT_MESSAGE EventType = "message"
const EVENT_BUTTON EventType = "button"
const EVENT_WEBHOOK EventType = "webhook"

// InboundEvent is what the trigger dispatcher consumes: a message or
// button reply from a contact, or a webhook call targeting one flow.
type InboundEvent struct {
	Type      EventType      `json:"type"`
	ContactId string         `json:"contactId"`
	Text      string         `json:"text,omitempty"`
	ButtonId  string         `json:"buttonId,omitempty"`
	FlowId    string         `json:"flowId,omitempty"`
	Token     string         `json:"token,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Contact struct {
	Id          string            `json:"id"`
	Name        string            `json:"name"`
	PhoneNumber string            `json:"phoneNumber"`
	Email       string            `json:"email"`
	Tags        []string          `json:"tags"`
	Fields      map[string]string `json:"fields"`
	NeedsHuman  bool              `json:"needsHuman"`
}
