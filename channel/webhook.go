package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ WebhookCaller = new(HttpWebhookCaller)

type HttpWebhookCaller struct {
	client *http.Client
}

func NewHttpWebhookCaller() *HttpWebhookCaller {
	return &HttpWebhookCaller{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Call fires the configured webhook with the execution variables as
// payload. Failures are reported as retryable channel errors; the
// caller logs them and moves on.
func (c *HttpWebhookCaller) Call(method string, target string, payload map[string]any) error {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodPost
	}
	var req *http.Request
	var err error
	if method == http.MethodGet {
		params := url.Values{}
		for k, v := range payload {
			params.Set(k, fmt.Sprintf("%v", v))
		}
		full := target
		if encoded := params.Encode(); encoded != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			full = target + sep + encoded
		}
		req, err = http.NewRequest(http.MethodGet, full, nil)
	} else {
		var body []byte
		body, err = json.Marshal(payload)
		if err == nil {
			req, err = http.NewRequest(method, target, bytes.NewReader(body))
			if req != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return ChannelError{Message: err.Error(), Retryable: true}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ChannelError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChannelError{Message: fmt.Sprintf("webhook returned status %d", resp.StatusCode), Retryable: true}
	}
	return nil
}
