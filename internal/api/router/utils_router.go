package router

import (
	"net/http"

	"github.com/relaymesh/chatcore/internal/api"
	"github.com/relaymesh/chatcore/internal/api/endpoints"
)

func HealthRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		healthEndpoints := endpoints.NewHealthEndpoints(s.Store(), s.Bus())
		mux.HandleFunc("GET "+prefix+"/health", s.MakeHTTPHandleFunc(healthEndpoints.Health))
		mux.HandleFunc("GET "+prefix+"/health/detailed", s.MakeHTTPHandleFunc(healthEndpoints.Detailed))
		mux.HandleFunc("GET "+prefix+"/ready", s.MakeHTTPHandleFunc(healthEndpoints.Ready))
		mux.HandleFunc("GET "+prefix+"/live", s.MakeHTTPHandleFunc(healthEndpoints.Live))
	}
}
