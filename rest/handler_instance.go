package rest

import (
	"encoding/json"
	"net/http"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// withIdempotency serializes callers sharing one idempotency key on a
// per-key lease: the first runs fn and stores its result, every later
// caller gets the stored result back without fn running again.
func (s *Server) withIdempotency(key string, ownerId string, fn func() (map[string]any, error)) (map[string]any, bool, error) {
	if key == "" {
		result, err := fn()
		return result, false, err
	}
	var result map[string]any
	replayed := false
	err := s.locks.WithLock("idempotency:"+key, func() error {
		check, err := s.guard.Check(key)
		if err != nil {
			return err
		}
		if check.Exists {
			result = check.Result
			replayed = true
			return nil
		}
		if result, err = fn(); err != nil {
			return err
		}
		_, err = s.guard.CheckAndStore(key, ownerId, result)
		return err
	})
	return result, replayed, err
}

func (s *Server) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	var req model.StartInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	key := r.Header.Get(idempotencyHeader)
	result, replayed, err := s.withIdempotency(key, req.InitiatorId, func() (map[string]any, error) {
		instanceId, err := s.engine.StartInstance(req.DocumentId, req.FlowId, req.InitiatorId)
		if err != nil {
			return nil, err
		}
		return map[string]any{"instanceId": instanceId}, nil
	})
	if err != nil {
		logger.Error("error starting instance", zap.String("documentId", req.DocumentId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	if replayed {
		respondOK(w, result)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (s *Server) HandleCompleteTask(w http.ResponseWriter, r *http.Request) {
	taskId := mux.Vars(r)["id"]
	var req model.CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	key := r.Header.Get(idempotencyHeader)
	result, _, err := s.withIdempotency(key, req.UserId, func() (map[string]any, error) {
		if err := s.engine.CompleteTask(taskId, req.UserId, req.Payload); err != nil {
			return nil, err
		}
		return map[string]any{"taskId": taskId, "status": "done"}, nil
	})
	if err != nil {
		logger.Error("error completing task", zap.String("taskId", taskId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOK(w, result)
}

func (s *Server) HandleReturnInstance(w http.ResponseWriter, r *http.Request) {
	instanceId := mux.Vars(r)["id"]
	var req model.ReturnInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := s.engine.ReturnInstance(instanceId, req.TargetNodeId, req.UserId, req.Annotation); err != nil {
		logger.Error("error returning instance", zap.String("instanceId", instanceId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleResumeInstance(w http.ResponseWriter, r *http.Request) {
	instanceId := mux.Vars(r)["id"]
	var req model.ResumeInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := s.engine.ResumeInstance(instanceId, req.UserId); err != nil {
		logger.Error("error resuming instance", zap.String("instanceId", instanceId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	instanceId := mux.Vars(r)["id"]
	steps, err := s.engine.GetExecutionHistory(instanceId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, steps)
}

func (s *Server) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	entityId := mux.Vars(r)["entityId"]
	entries, err := s.auditor.GetHistory(entityId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}
