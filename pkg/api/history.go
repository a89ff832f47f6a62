package api

import (
	"net/http"
	"strconv"

	"github.com/txn2/devops-bootcamp/pkg/audit"
	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/learning"
	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type sessionHistoryResponse struct {
	Sessions []*session.Session `json:"sessions"`
	Total    int                `json:"total"`
}

type activityResponse struct {
	Events []audit.Event `json:"events"`
	Total  int           `json:"total"`
}

// sessionHistory lists the caller's sandbox sessions, newest first.
//
// @Summary      Session history
// @Description  Lists sandbox sessions, newest first. Instructors may pass userId.
// @Tags         User
// @Produce      json
// @Param        limit   query  int     false  "Maximum sessions"
// @Param        userId  query  string  false  "Learner to list (instructors only)"
// @Success      200  {object}  sessionHistoryResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/sessions [get]
func (h *Handler) sessionHistory(w http.ResponseWriter, r *http.Request, user learning.User) {
	userID, err := h.historyUser(r, user)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	sessions, err := h.deps.Sessions.History(r.Context(), userID, historyLimit(r))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessionHistoryResponse{Sessions: sessions, Total: len(sessions)})
}

// activity lists the caller's audited sandbox actions, newest first.
//
// @Summary      Activity
// @Description  Lists audited sandbox actions, newest first. Instructors may pass userId.
// @Tags         User
// @Produce      json
// @Param        limit   query  int     false  "Maximum events"
// @Param        userId  query  string  false  "Learner to list (instructors only)"
// @Success      200  {object}  activityResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/activity [get]
func (h *Handler) activity(w http.ResponseWriter, r *http.Request, user learning.User) {
	userID, err := h.historyUser(r, user)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	events, err := h.deps.Audit.Query(r.Context(), audit.QueryFilter{
		UserID: userID,
		Limit:  historyLimit(r),
	})
	if err != nil {
		writeLearningError(w, err, "Failed to get activity")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, activityResponse{Events: events, Total: len(events)})
}

// historyUser returns the learner whose history is read: the caller, or
// ?userId= for instructors.
func (h *Handler) historyUser(r *http.Request, user learning.User) (string, error) {
	other := r.URL.Query().Get("userId")
	if other == "" || other == user.ID {
		return user.ID, nil
	}
	if u := auth.GetUser(r.Context()); u != nil && h.isInstructor(u) {
		return other, nil
	}
	return "", errForbidden
}

// historyLimit reads ?limit=, clamped to [1, maxHistoryLimit].
func historyLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case err != nil || n <= 0:
		return defaultHistoryLimit
	case n > maxHistoryLimit:
		return maxHistoryLimit
	}
	return n
}
