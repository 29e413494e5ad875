package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/identity"
	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
	"github.com/relaymesh/chatcore/internal/queue"
	"github.com/relaymesh/chatcore/internal/store"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

// APIServer is the request surface (C8), wired to the messaging,
// permission, presence, and identity services rather than talking to
// the store directly, following the layering of the teacher's
// internal/api.APIServer.
type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	messaging           *messaging.Service
	permission          *permission.Service
	presence            *presence.Service
	identity            *identity.Verifier
	bus                 bus.Bus
	store               *store.Gateway
	rateLimitMax        int
	rateLimitWindow     time.Duration
	requestDeadline     time.Duration
	corsOrigins         []string
	routeRegistrars     []RouteRegistrar
	metrics             *metrics
}

type Services struct {
	Messaging         *messaging.Service
	Permission        *permission.Service
	Presence          *presence.Service
	Identity          *identity.Verifier
	Bus               bus.Bus
	Store             *store.Gateway
	RateLimitMax      int
	RateLimitWindowMs int
	RequestDeadlineMs int
}

func NewAPIServer(listenAddr string, rqm *queue.RequestQueueManager, svc Services, corsOrigins []string, registrars ...RouteRegistrar) *APIServer {
	deadlineMs := svc.RequestDeadlineMs
	if deadlineMs <= 0 {
		deadlineMs = 10000
	}
	return &APIServer{
		listenAddr:          listenAddr,
		requestQueueManager: rqm,
		messaging:           svc.Messaging,
		permission:          svc.Permission,
		presence:            svc.Presence,
		identity:            svc.Identity,
		bus:                 svc.Bus,
		store:               svc.Store,
		rateLimitMax:        svc.RateLimitMax,
		rateLimitWindow:     time.Duration(svc.RateLimitWindowMs) * time.Millisecond,
		requestDeadline:     time.Duration(deadlineMs) * time.Millisecond,
		corsOrigins:         corsOrigins,
		routeRegistrars:     registrars,
		metrics:             newMetrics(prometheus.DefaultRegisterer, listenAddr, rqm),
	}
}

func (s *APIServer) Run() {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	fmt.Printf("chatcore api listening on http://localhost%s\n", s.listenAddr)

	if err := http.ListenAndServe(s.listenAddr, s.metrics.instrument(mux)); err != nil {
		fmt.Printf("server stopped: %v\n", err)
	}
}

func (s *APIServer) Messaging() *messaging.Service    { return s.messaging }
func (s *APIServer) Permission() *permission.Service  { return s.permission }
func (s *APIServer) Presence() *presence.Service      { return s.presence }
func (s *APIServer) Identity() *identity.Verifier     { return s.identity }
func (s *APIServer) CORSOrigins() []string            { return s.corsOrigins }
func (s *APIServer) Store() *store.Gateway            { return s.store }
func (s *APIServer) Bus() bus.Bus                     { return s.bus }
func (s *APIServer) RequestDeadline() time.Duration   { return s.requestDeadline }
