package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) HandleGetNotifications(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["id"]
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	notifications, err := s.notifier.GetUserNotifications(userId, limit)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, notifications)
}

func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.notifier.MarkRead(vars["id"], vars["notificationId"]); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userId := mux.Vars(r)["id"]
	if err := s.notifier.MarkAllRead(userId); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
