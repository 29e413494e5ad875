package router

import (
	"net/http"

	"github.com/relaymesh/chatcore/internal/api"
	"github.com/relaymesh/chatcore/internal/api/endpoints"
	"github.com/relaymesh/chatcore/internal/api/middleware"
)

// ConversationRoutes registers the conversation/message resource
// family (spec.md §6.1) behind the bearer-token auth middleware.
func ConversationRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		convEndpoints := endpoints.NewConversationEndpoints(s.Messaging(), s.Permission())
		auth := middleware.Auth(s.Identity())

		mux.HandleFunc("GET "+prefix+"/conversations", s.MakeHTTPHandleFunc(convEndpoints.List, auth))
		mux.HandleFunc("POST "+prefix+"/conversations", s.MakeHTTPHandleFunc(convEndpoints.Create, auth))
		mux.HandleFunc("GET "+prefix+"/conversations/usage", s.MakeHTTPHandleFunc(convEndpoints.Usage, auth))
		mux.HandleFunc("GET "+prefix+"/conversations/{id}", s.MakeHTTPHandleFunc(convEndpoints.Get, auth))
		mux.HandleFunc("GET "+prefix+"/conversations/{id}/messages", s.MakeHTTPHandleFunc(convEndpoints.ListMessages, auth))
		mux.HandleFunc("POST "+prefix+"/conversations/{id}/messages", s.MakeHTTPHandleFunc(convEndpoints.SendMessage, auth))
		mux.HandleFunc("GET "+prefix+"/conversations/{id}/messages/{mid}", s.MakeHTTPHandleFunc(convEndpoints.GetMessage, auth))
		mux.HandleFunc("POST "+prefix+"/conversations/{id}/read", s.MakeHTTPHandleFunc(convEndpoints.MarkRead, auth))
		mux.HandleFunc("GET "+prefix+"/conversations/{id}/participants", s.MakeHTTPHandleFunc(convEndpoints.ListParticipants, auth))
		mux.HandleFunc("GET "+prefix+"/messages/unread", s.MakeHTTPHandleFunc(convEndpoints.UnreadTotal, auth))
	}
}
