package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
)

// HandleInboundEvent accepts a message or button event from the
// messaging channel and hands it to the dispatcher.
func (s *Server) HandleInboundEvent(w http.ResponseWriter, r *http.Request) {
	var event model.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed event")
		return
	}
	defer r.Body.Close()
	if event.ContactId == "" {
		respondWithError(w, http.StatusBadRequest, "contactId missing")
		return
	}
	if event.Type == "" {
		if event.ButtonId != "" {
			event.Type = model.EVENT_BUTTON
		} else {
			event.Type = model.EVENT_MESSAGE
		}
	}
	if event.Type == model.EVENT_WEBHOOK {
		respondWithError(w, http.StatusBadRequest, "webhook events use the hooks endpoint")
		return
	}
	if err := s.dispatcher.StartOrRouteEvent(&event); err != nil {
		logger.Error("error dispatching event", zap.String("contactId", event.ContactId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error dispatching event")
		return
	}
	respondOKWithoutBody(w)
}

// HandleWebhookIngress is the per-flow webhook URL issued at publish
// time. The payload must carry the contact id; everything else is made
// available to the flow through its trigger mapping.
func (s *Server) HandleWebhookIngress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["flowId"]
	token := vars["token"]

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	defer r.Body.Close()

	contactId := r.URL.Query().Get("contactId")
	if contactId == "" {
		contactId = fmt.Sprintf("%v", payload["contactId"])
		if contactId == "<nil>" {
			contactId = ""
		}
	}
	if contactId == "" {
		respondWithError(w, http.StatusBadRequest, "contactId missing")
		return
	}

	event := model.InboundEvent{
		Type:      model.EVENT_WEBHOOK,
		ContactId: contactId,
		FlowId:    flowId,
		Token:     token,
		Payload:   payload,
	}
	if err := s.dispatcher.StartOrRouteEvent(&event); err != nil {
		logger.Warn("webhook rejected", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusForbidden, "webhook rejected")
		return
	}
	respondOKWithoutBody(w)
}
