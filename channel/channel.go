// Package channel is the boundary to the external messaging channel.
// The engine renders content and hands it off; delivery, retries and
// receipts are the channel collaborator's concern.
package channel

type ContentKind string

const CONTENT_TEXT ContentKind = "text"
const CONTENT_TEMPLATE ContentKind = "template"
const CONTENT_BUTTONS ContentKind = "buttons"
const CONTENT_LIST ContentKind = "list"
const CONTENT_MEDIA ContentKind = "media"

type Button struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

type Content struct {
	Kind         ContentKind       `json:"kind"`
	Text         string            `json:"text,omitempty"`
	TemplateName string            `json:"templateName,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Buttons      []Button          `json:"buttons,omitempty"`
	Sections     []any             `json:"sections,omitempty"`
	MediaUrl     string            `json:"mediaUrl,omitempty"`
	MediaType    string            `json:"mediaType,omitempty"`
	Caption      string            `json:"caption,omitempty"`
}

type SendResult struct {
	MessageId string `json:"id"`
	Status    string `json:"status"`
}

// ChannelError distinguishes transient delivery failures, which the
// flow proceeds past, from fatal ones (e.g. invalid recipient), which
// fail the execution.
type ChannelError struct {
	Message   string
	Retryable bool
}

func (e ChannelError) Error() string {
	return e.Message
}

func IsRetryable(err error) bool {
	if ce, ok := err.(ChannelError); ok {
		return ce.Retryable
	}
	return false
}

type Channel interface {
	Send(contactId string, content Content) (*SendResult, error)
}

// WebhookCaller issues best-effort HTTP calls for action_webhook nodes.
type WebhookCaller interface {
	Call(method string, url string, payload map[string]any) error
}
