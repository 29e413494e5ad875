// Command wsgateway runs the duplex session transport (C7): it accepts
// authenticated websocket connections, runs each through the session
// state machine, and fans messages out across the shared bus so every
// server instance sees every conversation, per spec.md §4.7.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/config"
	"github.com/relaymesh/chatcore/internal/identity"
	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
	"github.com/relaymesh/chatcore/internal/session"
	"github.com/relaymesh/chatcore/internal/store"
	"github.com/relaymesh/chatcore/internal/store/dynamo"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	dynamoClient, err := dynamo.New(ctx, dynamo.Options{
		Region:   cfg.StoreDSN,
		Endpoint: cfg.StoreEndpoint,
	})
	if err != nil {
		log.Fatalf("wsgateway: dynamo init failed: %v", err)
	}

	storeGateway := store.New(dynamoClient)
	sharedBus := bus.Dial(ctx, cfg.BusDSN)

	identityVerifier := identity.NewVerifier(cfg.IdentityVerifierSecret)
	presenceSvc := presence.New(sharedBus)
	permissionSvc := permission.New(storeGateway)
	messagingSvc := messaging.New(storeGateway, permissionSvc, presenceSvc)

	manager := session.NewManager(sharedBus, presenceSvc, messagingSvc, permissionSvc, identityVerifier)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("wsgateway: upgrade failed: %v", err)
			return
		}
		manager.HandleConn(r.Context(), conn)
	})

	log.Printf("chatcore wsgateway listening on ws://localhost%s/ws\n", cfg.ListenAddr())
	if err := http.ListenAndServe(cfg.ListenAddr(), mux); err != nil {
		log.Fatalf("wsgateway: server stopped: %v", err)
	}
}
