package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	chathandler "github.com/hikkinomore/buddy-server/internal/handler/chat"
	presethandler "github.com/hikkinomore/buddy-server/internal/handler/preset"
	"github.com/hikkinomore/buddy-server/internal/handler/skillprogress"
	wshandler "github.com/hikkinomore/buddy-server/internal/handler/ws"
	"github.com/hikkinomore/buddy-server/internal/middleware"
	chatservice "github.com/hikkinomore/buddy-server/internal/service/chat"
	"github.com/hikkinomore/buddy-server/internal/service/judge"
)

// NewRouter wires HTTP routes to core services. judgeSvc may be nil when the
// evaluation sidecar is disabled.
func NewRouter(log *logrus.Logger, chatSvc *chatservice.Service, judgeSvc *judge.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	chatHandler := chathandler.New(log, chatSvc)
	presetHandler := presethandler.New()
	wsHandler := wshandler.New(log, chatSvc)

	r.Route("/api", func(api chi.Router) {
		presetHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		if judgeSvc != nil {
			skillprogress.New(log, judgeSvc).RegisterRoutes(api)
		}
	})

	return r
}
