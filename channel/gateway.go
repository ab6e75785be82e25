package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/converso/flowengine/logger"
	"go.uber.org/zap"
)

var _ Channel = new(HttpGateway)

// HttpGateway posts rendered content to the messaging gateway service
// that owns the WhatsApp connection.
type HttpGateway struct {
	baseUrl string
	token   string
	client  *http.Client
}

func NewHttpGateway(baseUrl string, token string) *HttpGateway {
	return &HttpGateway{
		baseUrl: baseUrl,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	ContactId string  `json:"contactId"`
	Content   Content `json:"content"`
}

func (g *HttpGateway) Send(contactId string, content Content) (*SendResult, error) {
	body, err := json.Marshal(sendRequest{ContactId: contactId, Content: content})
	if err != nil {
		return nil, ChannelError{Message: err.Error(), Retryable: false}
	}
	req, err := http.NewRequest(http.MethodPost, g.baseUrl+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, ChannelError{Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		logger.Error("error calling messaging gateway", zap.String("contactId", contactId), zap.Error(err))
		return nil, ChannelError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result SendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, ChannelError{Message: "malformed gateway response: " + err.Error(), Retryable: true}
		}
		return &result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// the gateway rejected the recipient or content; retrying the
		// same send cannot succeed
		return nil, ChannelError{Message: fmt.Sprintf("gateway rejected send with status %d", resp.StatusCode), Retryable: false}
	default:
		return nil, ChannelError{Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode), Retryable: true}
	}
}
