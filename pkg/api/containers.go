package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/txn2/devops-bootcamp/pkg/audit"
	"github.com/txn2/devops-bootcamp/pkg/auth"
	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	actionLaunch    = "launch"
	actionStatus    = "status"
	actionTerminate = "terminate"

	launchMessage    = "Container is being provisioned. Check status in 30-60 seconds."
	terminateMessage = "Container terminated successfully"
)

// containerRequest is the body of POST /api/containers.
type containerRequest struct {
	Action      string `json:"action"`
	UserID      string `json:"userId"`
	ChallengeID string `json:"challengeId"`
	SessionID   string `json:"sessionId"`
}

type launchResponse struct {
	SessionID  string         `json:"sessionId"`
	TaskHandle string         `json:"taskHandle"`
	Status     session.Status `json:"status"`
	Message    string         `json:"message"`
}

type conflictResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId"`
}

// containers dispatches the sandbox lifecycle by action.
//
// @Summary      Manage a sandbox
// @Description  Launches, inspects or terminates a sandbox depending on action. A second launch while a session is active answers 400 with the active sessionId.
// @Tags         Containers
// @Accept       json
// @Produce      json
// @Param        body  body  containerRequest  true  "Action and identifiers"
// @Success      200  {object}  launchResponse
// @Failure      400  {object}  conflictResponse
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /containers [post]
func (h *Handler) containers(w http.ResponseWriter, r *http.Request) {
	var req containerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Action {
	case actionLaunch:
		h.launch(w, r, req)
	case actionStatus:
		h.status(w, r, req)
	case actionTerminate:
		h.terminate(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
	}
}

// errForbidden rejects an authenticated caller acting for another learner.
var errForbidden = errors.New("forbidden")

func (h *Handler) launch(w http.ResponseWriter, r *http.Request, req containerRequest) {
	start := time.Now()
	userID, err := h.actingUser(r, req.UserID)
	if err != nil {
		h.record(r, audit.NewEvent(audit.ActionLaunch).WithUser(callerID(r)).WithSession("", req.ChallengeID), start, err)
		writeSessionError(w, err)
		return
	}

	sess, err := h.deps.Sessions.Launch(r.Context(), userID, req.ChallengeID)
	var sessionID string
	if sess != nil {
		sessionID = sess.ID
	}
	h.record(r, audit.NewEvent(audit.ActionLaunch).WithUser(userID).WithSession(sessionID, req.ChallengeID), start, err)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, launchResponse{
		SessionID:  sess.ID,
		TaskHandle: sess.TaskHandle,
		Status:     sess.Status,
		Message:    launchMessage,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request, req containerRequest) {
	if err := h.authorizeSession(r, req.SessionID); err != nil {
		writeSessionError(w, err)
		return
	}
	view, err := h.deps.Sessions.Status(r.Context(), req.SessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) terminate(w http.ResponseWriter, r *http.Request, req containerRequest) {
	start := time.Now()
	err := h.authorizeSession(r, req.SessionID)
	if err == nil {
		err = h.deps.Sessions.Terminate(r.Context(), req.SessionID)
	}

	event := audit.NewEvent(audit.ActionTerminate).WithUser(callerID(r)).WithSession(req.SessionID, "")
	h.record(r, event, start, err)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": terminateMessage})
}

// actingUser resolves whom a launch is for. Anonymous callers name the
// learner in the body. Authenticated callers act as themselves unless they
// hold the instructor role.
func (h *Handler) actingUser(r *http.Request, bodyUserID string) (string, error) {
	u := auth.GetUser(r.Context())
	if u == nil {
		return bodyUserID, nil
	}
	if strings.TrimSpace(bodyUserID) == "" || bodyUserID == u.UserID {
		return u.UserID, nil
	}
	if h.isInstructor(u) {
		return bodyUserID, nil
	}
	return "", errForbidden
}

// authorizeSession checks that an authenticated caller owns the session.
// Instructors and anonymous callers pass.
func (h *Handler) authorizeSession(r *http.Request, sessionID string) error {
	u := auth.GetUser(r.Context())
	if u == nil || h.isInstructor(u) {
		return nil
	}
	sess, err := h.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != u.UserID {
		slog.Warn("session access denied", "session_id", sessionID, "user_id", u.UserID)
		return errForbidden
	}
	return nil
}

func (h *Handler) isInstructor(u *auth.UserInfo) bool {
	return h.deps.InstructorRole != "" && u.HasRole(h.deps.InstructorRole)
}

// callerID is the authenticated user's ID, or "".
func callerID(r *http.Request) string {
	if u := auth.GetUser(r.Context()); u != nil {
		return u.UserID
	}
	return ""
}

// record writes an audit event for a container action. Audit failures are
// logged and never fail the request.
func (h *Handler) record(r *http.Request, e *audit.Event, start time.Time, err error) {
	if h.deps.Audit == nil {
		return
	}
	var msg string
	if err != nil {
		msg = err.Error()
	}
	e.WithResult(err == nil, msg, time.Since(start).Milliseconds())
	if logErr := h.deps.Audit.Log(r.Context(), *e); logErr != nil {
		slog.Warn("audit log failed", "action", e.Action, "session_id", e.SessionID, "error", logErr)
	}
}

// writeSessionError maps lifecycle errors onto the containers contract.
// Upstream and provision failures surface their message unredacted.
func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, errForbidden) {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var se *session.Error
	if !errors.As(err, &se) {
		slog.Error("container request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch se.Kind {
	case session.KindValidation:
		writeError(w, http.StatusBadRequest, se.Message)
	case session.KindConflict:
		writeJSON(w, http.StatusBadRequest, conflictResponse{Error: se.Message, SessionID: se.SessionID})
	case session.KindNotFound:
		writeError(w, http.StatusNotFound, se.Message)
	default:
		slog.Error("container request failed", "kind", se.Kind.String(), "session_id", se.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
