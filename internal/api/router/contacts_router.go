package router

import (
	"net/http"

	"github.com/relaymesh/chatcore/internal/api"
	"github.com/relaymesh/chatcore/internal/api/endpoints"
	"github.com/relaymesh/chatcore/internal/api/middleware"
	"github.com/relaymesh/chatcore/internal/contacts"
)

// ContactRoutes registers the contact-request and block resource
// family (spec.md §6.1) behind the bearer-token auth middleware.
func ContactRoutes(prefix string, contactsSvc *contacts.Service) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		contactEndpoints := endpoints.NewContactEndpoints(contactsSvc, s.Permission())
		auth := middleware.Auth(s.Identity())

		mux.HandleFunc("GET "+prefix+"/contacts/requests", s.MakeHTTPHandleFunc(contactEndpoints.ListReceived, auth))
		mux.HandleFunc("GET "+prefix+"/contacts/requests/sent", s.MakeHTTPHandleFunc(contactEndpoints.ListSent, auth))
		mux.HandleFunc("POST "+prefix+"/contacts/requests", s.MakeHTTPHandleFunc(contactEndpoints.Create, auth))
		mux.HandleFunc("POST "+prefix+"/contacts/requests/{id}/respond", s.MakeHTTPHandleFunc(contactEndpoints.Respond, auth))
		mux.HandleFunc("POST "+prefix+"/contacts/block", s.MakeHTTPHandleFunc(contactEndpoints.CreateBlock, auth))
		mux.HandleFunc("DELETE "+prefix+"/contacts/block/{userId}", s.MakeHTTPHandleFunc(contactEndpoints.DeleteBlock, auth))
		mux.HandleFunc("GET "+prefix+"/contacts/blocked", s.MakeHTTPHandleFunc(contactEndpoints.ListBlocked, auth))
		mux.HandleFunc("GET "+prefix+"/contacts/can-message/{userId}", s.MakeHTTPHandleFunc(contactEndpoints.CanMessage, auth))
	}
}
