package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/converso/flowengine/dispatcher"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/persistence"
)

type Server struct {
	http.Server
	Port        int
	definitions persistence.MetadataStorage
	executions  persistence.ExecutionStorage
	logs        persistence.LogSink
	dispatcher  *dispatcher.Dispatcher
}

func NewServer(httpPort int, definitions persistence.MetadataStorage, executions persistence.ExecutionStorage, logs persistence.LogSink, disp *dispatcher.Dispatcher) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:        httpPort,
		definitions: definitions,
		executions:  executions,
		logs:        logs,
		dispatcher:  disp,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flow", s.HandleSaveFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/validate", s.HandleValidateFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}", s.HandleDeleteFlow).Methods(http.MethodDelete)
	router.HandleFunc("/flow/{id}/publish", s.HandlePublishFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/{id}/activate", s.HandleActivateFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/{id}/deactivate", s.HandleDeactivateFlow).Methods(http.MethodPost)

	router.HandleFunc("/event/message", s.HandleInboundEvent).Methods(http.MethodPost)
	router.HandleFunc("/hooks/{flowId}/{token}", s.HandleWebhookIngress).Methods(http.MethodPost)

	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/log", s.HandleGetExecutionLog).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
