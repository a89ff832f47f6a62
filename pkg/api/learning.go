package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/devops-bootcamp/pkg/learning"
)

// listChallenges handles GET /api/challenges.
//
// @Summary      List challenges
// @Description  Returns the published challenges grouped by category.
// @Tags         Challenges
// @Produce      json
// @Success      200  {object}  learning.ChallengeList
// @Failure      500  {object}  map[string]string
// @Router       /challenges [get]
func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Learning.ListChallenges(r.Context())
	if err != nil {
		writeLearningError(w, err, "Failed to fetch challenges")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// getProfile handles GET /api/user/profile.
//
// @Summary      Get profile
// @Description  Returns the caller's profile, creating it on first access.
// @Tags         User
// @Produce      json
// @Success      200  {object}  learning.Profile
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/profile [get]
func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request, user learning.User) {
	p, err := h.deps.Learning.GetProfile(r.Context(), user)
	if err != nil {
		writeLearningError(w, err, "Failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// updateProfile handles PUT /api/user/profile.
//
// @Summary      Update profile
// @Description  Updates the caller's display name and preferences.
// @Tags         User
// @Accept       json
// @Produce      json
// @Param        body  body  learning.ProfileUpdate  true  "Profile fields"
// @Success      200  {object}  learning.Profile
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/profile [put]
func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, user learning.User) {
	var u learning.ProfileUpdate
	if err := decodeBody(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := h.deps.Learning.UpdateProfile(r.Context(), user, u)
	if err != nil {
		writeLearningError(w, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// getProgress handles GET /api/user/progress.
//
// @Summary      Get progress
// @Description  Returns the caller's challenge progress and totals.
// @Tags         User
// @Produce      json
// @Success      200  {object}  learning.ProgressReport
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/progress [get]
func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request, user learning.User) {
	report, err := h.deps.Learning.GetProgress(r.Context(), user)
	if err != nil {
		writeLearningError(w, err, "Failed to get progress")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// recordProgress handles POST /api/user/progress.
//
// @Summary      Record progress
// @Description  Records a challenge attempt for the caller.
// @Tags         User
// @Accept       json
// @Produce      json
// @Param        body  body  learning.ProgressRequest  true  "Attempt"
// @Success      200  {object}  learning.ProgressResult
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /user/progress [post]
func (h *Handler) recordProgress(w http.ResponseWriter, r *http.Request, user learning.User) {
	var req learning.ProgressRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.deps.Learning.RecordProgress(r.Context(), user, req)
	if err != nil {
		writeLearningError(w, err, "Failed to update progress")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// leaderboard handles GET /api/leaderboard.
//
// @Summary      Leaderboard
// @Description  Returns learners ranked by points.
// @Tags         Challenges
// @Produce      json
// @Success      200  {object}  learning.Leaderboard
// @Failure      500  {object}  map[string]string
// @Router       /leaderboard [get]
func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.deps.Learning.Leaderboard(r.Context())
	if err != nil {
		writeLearningError(w, err, "Failed to get leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// writeLearningError maps learning errors to status codes. Internal
// failures are logged and reported with the fixed fallback message.
func writeLearningError(w http.ResponseWriter, err error, fallback string) {
	var le *learning.Error
	switch {
	case errors.Is(err, learning.ErrInvalid) && errors.As(err, &le):
		writeError(w, http.StatusBadRequest, le.Message)
	case errors.Is(err, learning.ErrNotFound) && errors.As(err, &le):
		writeError(w, http.StatusNotFound, le.Message)
	default:
		slog.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
