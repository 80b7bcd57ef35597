package app

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/streamrec/hlschunker/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.Route("/api", createRouteAPI(s))
	s.Router.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)
	// chunk playlists are generated from the recorded chunk manifests
	s.Router.MethodFunc("GET", "/{feedID}/chunks/*", s.chunkHandlerFunc)
	// everything else under a feed id is raw recorded data
	s.Router.MethodFunc("GET", "/{feedID}/*", s.dataFileHandlerFunc)
	return nil
}
