package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/converso/flowengine/flow"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/model"
)

// HandleSaveFlow stores a flow as a draft. Saving over a published
// version opens a new draft version; the published version stays live
// until the draft is published, and in-flight executions keep running
// on the version they started with.
func (s *Server) HandleSaveFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed flow definition")
		return
	}
	defer r.Body.Close()
	if def.Id == "" {
		def.Id = uuid.New().String()
	}
	latest, err := s.definitions.GetLatestFlowDefinition(def.Id)
	if err != nil {
		logger.Error("error loading flow", zap.String("flowId", def.Id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving flow")
		return
	}
	switch {
	case latest == nil:
		def.Version = 1
	case latest.Status == model.FLOW_STATUS_DRAFT:
		def.Version = latest.Version
		def.WebhookToken = latest.WebhookToken
	default:
		def.Version = latest.Version + 1
		def.WebhookToken = latest.WebhookToken
	}
	def.Status = model.FLOW_STATUS_DRAFT
	def.Active = false
	def.PublishedAt = nil
	if err := s.definitions.SaveFlowDefinition(&def); err != nil {
		logger.Error("error saving flow", zap.String("flowId", def.Id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving flow")
		return
	}
	respondOK(w, map[string]any{"id": def.Id, "version": def.Version})
}

func (s *Server) HandleValidateFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed flow definition")
		return
	}
	defer r.Body.Close()
	violations := flow.Validate(&def)
	respondWithJSON(w, http.StatusOK, map[string]any{"valid": len(violations) == 0, "violations": violations})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	def, err := s.definitions.GetLatestFlowDefinition(flowId)
	if err != nil {
		logger.Error("error loading flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading flow")
		return
	}
	if def == nil {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	if err := s.definitions.DeleteFlowDefinition(flowId); err != nil {
		logger.Error("error deleting flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error deleting flow")
		return
	}
	respondOKWithoutBody(w)
}

// HandlePublishFlow validates the draft and promotes it. A webhook flow
// gets its ingress token issued here; the token is stable across
// republishes.
func (s *Server) HandlePublishFlow(w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	def, err := s.definitions.GetLatestFlowDefinition(flowId)
	if err != nil {
		logger.Error("error loading flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error publishing flow")
		return
	}
	if def == nil {
		respondWithError(w, http.StatusNotFound, "flow not found")
		return
	}
	violations := flow.Validate(def)
	if len(violations) > 0 {
		respondWithJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "violations": violations})
		return
	}
	now := time.Now()
	def.Status = model.FLOW_STATUS_PUBLISHED
	def.Active = true
	def.PublishedAt = &now
	if def.TriggerType == model.TRIGGER_WEBHOOK && def.WebhookToken == "" {
		def.WebhookToken = uuid.New().String()
	}
	if err := s.definitions.SaveFlowDefinition(def); err != nil {
		logger.Error("error publishing flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error publishing flow")
		return
	}
	logger.Info("flow published", zap.String("flowId", def.Id), zap.Int("version", def.Version))
	respondOK(w, map[string]any{"id": def.Id, "version": def.Version, "webhookToken": def.WebhookToken})
}

func (s *Server) HandleActivateFlow(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, true)
}

func (s *Server) HandleDeactivateFlow(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r, false)
}

// setActive toggles the published version; a draft being edited on top
// of it is not affected.
func (s *Server) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	flowId := mux.Vars(r)["id"]
	def, err := s.definitions.GetPublishedFlowDefinition(flowId)
	if err != nil {
		logger.Error("error loading flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error updating flow")
		return
	}
	if def == nil {
		respondWithError(w, http.StatusBadRequest, "only a published flow can be activated")
		return
	}
	def.Active = active
	if err := s.definitions.SaveFlowDefinition(def); err != nil {
		logger.Error("error updating flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error updating flow")
		return
	}
	respondOKWithoutBody(w)
}
