package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carlos-burelo/cgsm-tabuladores/audit"
	"github.com/carlos-burelo/cgsm-tabuladores/engine"
	"github.com/carlos-burelo/cgsm-tabuladores/flow"
	"github.com/carlos-burelo/cgsm-tabuladores/idempotency"
	"github.com/carlos-burelo/cgsm-tabuladores/lock"
	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/notification"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port     int
	flows    *flow.Repository
	engine   *engine.Engine
	auditor  *audit.Service
	notifier *notification.Notifier
	guard    *idempotency.Guard
	locks    lock.Manager
}

func NewServer(httpPort int, flows *flow.Repository, eng *engine.Engine, auditor *audit.Service,
	notifier *notification.Notifier, guard *idempotency.Guard, locks lock.Manager) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:     httpPort,
		flows:    flows,
		engine:   eng,
		auditor:  auditor,
		notifier: notifier,
		guard:    guard,
		locks:    locks,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flow", s.HandleCreateFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}", s.HandleUpdateFlow).Methods(http.MethodPut)
	router.HandleFunc("/department/{id}/flows", s.HandleListFlows).Methods(http.MethodGet)

	router.HandleFunc("/instance", s.HandleStartInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/return", s.HandleReturnInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/resume", s.HandleResumeInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/history", s.HandleGetHistory).Methods(http.MethodGet)
	router.HandleFunc("/task/{id}/complete", s.HandleCompleteTask).Methods(http.MethodPost)

	router.HandleFunc("/audit/{entityId}", s.HandleGetAudit).Methods(http.MethodGet)
	router.HandleFunc("/user/{id}/notifications", s.HandleGetNotifications).Methods(http.MethodGet)
	router.HandleFunc("/user/{id}/notifications/read", s.HandleMarkAllRead).Methods(http.MethodPost)
	router.HandleFunc("/user/{id}/notifications/{notificationId}/read", s.HandleMarkRead).Methods(http.MethodPost)

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

// statusError is satisfied by the api error types that carry their own
// HTTP status.
type statusError interface {
	error
	HttpStatus() int
}

func respondWithDomainError(w http.ResponseWriter, err error) {
	var se statusError
	if errors.As(err, &se) {
		respondWithError(w, se.HttpStatus(), se.Error())
		return
	}
	respondWithError(w, http.StatusInternalServerError, err.Error())
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
