package preset

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	presetmodel "github.com/hikkinomore/buddy-server/internal/model/preset"
	"github.com/hikkinomore/buddy-server/pkg/utils"
)

// Handler exposes the preset registry.
type Handler struct{}

// New creates the preset handler.
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes wires the preset routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/presets", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"presets": presetmodel.List(),
	})
}
