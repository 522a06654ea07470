// Package skillprogress serves derived skill-progress summaries. Raw
// judgement records stay internal.
package skillprogress

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/service/judge"
	"github.com/hikkinomore/buddy-server/pkg/utils"
)

// Handler exposes per-user skill progress.
type Handler struct {
	log      *logrus.Logger
	judgeSvc *judge.Service
}

// New creates the skill progress handler.
func New(log *logrus.Logger, judgeSvc *judge.Service) *Handler {
	return &Handler{log: log, judgeSvc: judgeSvc}
}

// RegisterRoutes wires the skill progress routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userID}/skills", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	summary, err := h.judgeSvc.UserSummary(r.Context(), userID)
	if err != nil {
		h.log.WithField("user", userID).WithError(err).Error("skill summary failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to compute skill summary")
		return
	}

	utils.RespondJSON(w, http.StatusOK, summary)
}
