// Command apiserver runs the request surface (C8): the REST endpoints
// for conversations, messages, and contacts described in spec.md §6.1,
// backed by the same store/bus/permission/messaging stack the wsgateway
// binary uses for the session transport.
package main

import (
	"context"
	"log"

	"github.com/relaymesh/chatcore/internal/api"
	"github.com/relaymesh/chatcore/internal/api/router"
	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/config"
	"github.com/relaymesh/chatcore/internal/contacts"
	"github.com/relaymesh/chatcore/internal/identity"
	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
	"github.com/relaymesh/chatcore/internal/queue"
	"github.com/relaymesh/chatcore/internal/store"
	"github.com/relaymesh/chatcore/internal/store/dynamo"
)

// defaultQueueBufferSize bounds the request queue manager's job buffer;
// it is unrelated to the rate limiter, which is keyed by RATE_LIMIT_MAX
// and enforced per caller by the rate-limit middleware instead.
const defaultQueueBufferSize = 256

func main() {
	cfg := config.Load()
	ctx := context.Background()

	dynamoClient, err := dynamo.New(ctx, dynamo.Options{
		Region:   cfg.StoreDSN,
		Endpoint: cfg.StoreEndpoint,
	})
	if err != nil {
		log.Fatalf("apiserver: dynamo init failed: %v", err)
	}

	storeGateway := store.New(dynamoClient)
	if err := storeGateway.SeedDefaultRulesIfEmpty(ctx); err != nil {
		log.Printf("apiserver: rule seeding skipped: %v", err)
	}

	sharedBus := bus.Dial(ctx, cfg.BusDSN)

	identityVerifier := identity.NewVerifier(cfg.IdentityVerifierSecret)
	presenceSvc := presence.New(sharedBus)
	permissionSvc := permission.New(storeGateway)
	messagingSvc := messaging.New(storeGateway, permissionSvc, presenceSvc)
	contactsSvc := contacts.New(storeGateway)

	queueManager := queue.NewRequestQueueManager(defaultQueueBufferSize, 10)

	server := api.NewAPIServer(
		cfg.ListenAddr(),
		queueManager,
		api.Services{
			Messaging:         messagingSvc,
			Permission:        permissionSvc,
			Presence:          presenceSvc,
			Identity:          identityVerifier,
			Bus:               sharedBus,
			Store:             storeGateway,
			RateLimitMax:      cfg.RateLimitMax,
			RateLimitWindowMs: cfg.RateLimitWindowMs,
			RequestDeadlineMs: cfg.RequestDeadlineMs,
		},
		cfg.CORSOrigins,
		router.HealthRoutes("/api/v1"),
		router.ConversationRoutes("/api/v1"),
		router.ContactRoutes("/api/v1", contactsSvc),
	)

	server.Run()
}
