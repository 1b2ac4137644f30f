package rest

import (
	"encoding/json"
	"net/http"

	"github.com/carlos-burelo/cgsm-tabuladores/logger"
	"github.com/carlos-burelo/cgsm-tabuladores/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var def model.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	flowId, err := s.flows.CreateFlow(def)
	if err != nil {
		logger.Error("error creating flow", zap.String("name", def.Name), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"flowId": flowId})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	flow, err := s.flows.GetFlow(flowId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, flow)
}

func (s *Server) HandleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	flowId := mux.Vars(r)["id"]
	var def model.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if err := s.flows.UpdateFlow(flowId, def); err != nil {
		logger.Error("error updating flow", zap.String("flowId", flowId), zap.Error(err))
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	departmentId := mux.Vars(r)["id"]
	flows, err := s.flows.ListFlowsByDepartment(departmentId)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, flows)
}
