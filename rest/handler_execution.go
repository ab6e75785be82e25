package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/converso/flowengine/logger"
)

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionId := mux.Vars(r)["id"]
	execCtx, err := s.executions.GetExecutionContext(executionId)
	if err != nil {
		logger.Error("error loading execution", zap.String("executionId", executionId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading execution")
		return
	}
	if execCtx == nil {
		respondWithError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondWithJSON(w, http.StatusOK, execCtx)
}

func (s *Server) HandleGetExecutionLog(w http.ResponseWriter, r *http.Request) {
	executionId := mux.Vars(r)["id"]
	entries, err := s.logs.GetLog(executionId)
	if err != nil {
		logger.Error("error loading execution log", zap.String("executionId", executionId), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading execution log")
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionId := mux.Vars(r)["id"]
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}
	if err := s.dispatcher.CancelExecution(executionId, req.Reason); err != nil {
		logger.Error("error cancelling execution", zap.String("executionId", executionId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error cancelling execution")
		return
	}
	respondOKWithoutBody(w)
}
