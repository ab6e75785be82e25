package model

import "time"

type NodeKind string

const TRIGGER_BUTTON_CLICK NodeKind = "trigger_button_click"
const TRIGGER_KEYWORD NodeKind = "trigger_keyword"
const TRIGGER_WEBHOOK NodeKind = "trigger_webhook"
const TRIGGER_MESSAGE NodeKind = "trigger_message"

const CONDITION_TAG NodeKind = "condition_tag"
const CONDITION_FIELD NodeKind = "condition_field"
const CONDITION_TIME NodeKind = "condition_time"
const CONDITION_DAY NodeKind = "condition_day"

const ACTION_SEND_TEXT NodeKind = "action_send_text"
const ACTION_SEND_TEMPLATE NodeKind = "action_send_template"
const ACTION_SEND_BUTTONS NodeKind = "action_send_buttons"
const ACTION_SEND_LIST NodeKind = "action_send_list"
const ACTION_SEND_MEDIA NodeKind = "action_send_media"
const ACTION_ADD_TAG NodeKind = "action_add_tag"
const ACTION_REMOVE_TAG NodeKind = "action_remove_tag"
const ACTION_UPDATE_FIELD NodeKind = "action_update_field"
const ACTION_WEBHOOK NodeKind = "action_webhook"
const ACTION_WAIT_REPLY NodeKind = "action_wait_reply"
const ACTION_DELAY NodeKind = "action_delay"
const ACTION_TRANSFER_HUMAN NodeKind = "action_transfer_human"
const ACTION_END NodeKind = "action_end"

type FlowStatus string

const FLOW_STATUS_DRAFT FlowStatus = "draft"
const FLOW_STATUS_PUBLISHED FlowStatus = "published"

// Edge handles used to disambiguate branches. Condition nodes carry
// HANDLE_TRUE/HANDLE_FALSE, wait nodes may carry HANDLE_TIMEOUT, every
// other edge uses HANDLE_DEFAULT.
const HANDLE_DEFAULT string = ""
const HANDLE_TRUE string = "true"
const HANDLE_FALSE string = "false"
const HANDLE_TIMEOUT string = "timeout"

type Node struct {
	Id        string         `json:"id"`
	Kind      NodeKind       `json:"kind"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
	PositionX float64        `json:"positionX"`
	PositionY float64        `json:"positionY"`
}

type Edge struct {
	SourceId     string `json:"sourceId"`
	TargetId     string `json:"targetId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

type FlowDefinition struct {
	Id             string         `json:"id"`
	OrganizationId string         `json:"organizationId"`
	Name           string         `json:"name"`
	TriggerType    NodeKind       `json:"triggerType"`
	TriggerConfig  map[string]any `json:"triggerConfig,omitempty"`
	Active         bool           `json:"active"`
	Status         FlowStatus     `json:"status"`
	Version        int            `json:"version"`
	WebhookToken   string         `json:"webhookToken,omitempty"`
	Nodes          []Node         `json:"nodes"`
	Edges          []Edge         `json:"edges"`
	PublishedAt    *time.Time     `json:"publishedAt,omitempty"`

	TotalExecutions      int `json:"totalExecutions"`
	SuccessfulExecutions int `json:"successfulExecutions"`
	FailedExecutions     int `json:"failedExecutions"`
}
