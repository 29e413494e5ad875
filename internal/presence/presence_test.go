package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaymesh/chatcore/internal/bus"
)

func TestSetOnlineAndOffline(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()
	svc := New(b)

	if err := svc.SetOnline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOnline returned error: %v", err)
	}

	online, err := svc.IsOnline(ctx, "user-1")
	if err != nil || !online {
		t.Fatalf("IsOnline = (%v, %v), want (true, nil)", online, err)
	}

	users, err := svc.OnlineUsers(ctx, "tenant-1")
	if err != nil || len(users) != 1 || users[0] != "user-1" {
		t.Fatalf("OnlineUsers(tenant-1) = (%v, %v), want [user-1]", users, err)
	}

	globalUsers, err := svc.OnlineUsers(ctx, "")
	if err != nil || len(globalUsers) != 0 {
		t.Fatalf("OnlineUsers(global) = (%v, %v), want [] since user-1 is tenant-scoped", globalUsers, err)
	}

	if err := svc.SetOffline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOffline returned error: %v", err)
	}

	online, err = svc.IsOnline(ctx, "user-1")
	if err != nil || online {
		t.Fatalf("IsOnline after SetOffline = (%v, %v), want (false, nil)", online, err)
	}
}

func TestSetOnlineGlobalScopeForTenantlessUser(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()
	svc := New(b)

	if err := svc.SetOnline(ctx, "platform-user", ""); err != nil {
		t.Fatalf("SetOnline returned error: %v", err)
	}

	users, err := svc.OnlineUsers(ctx, "")
	if err != nil || len(users) != 1 || users[0] != "platform-user" {
		t.Fatalf("OnlineUsers(global) = (%v, %v), want [platform-user]", users, err)
	}
}

func TestSetOfflineDoesNotFlapAfterReconnect(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()
	svc := New(b)

	if err := svc.SetOnline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOnline (first connection) returned error: %v", err)
	}
	// A second connection from the same user refreshes the key before
	// the first connection's close path runs SetOffline.
	if err := svc.SetOnline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOnline (second connection) returned error: %v", err)
	}

	if err := svc.SetOffline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOffline returned error: %v", err)
	}

	online, err := svc.IsOnline(ctx, "user-1")
	if err != nil || !online {
		t.Fatalf("IsOnline after stale SetOffline = (%v, %v), want (true, nil): the live second connection must not flap offline", online, err)
	}
}

func TestLastSeenTracksMostRecentTransition(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()

	_, _, err := New(b).LastSeen(ctx, "never-connected")
	if err != nil {
		t.Fatalf("LastSeen returned error: %v", err)
	}

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewWithClock(b, func() time.Time { return first })
	if err := svc.SetOnline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOnline returned error: %v", err)
	}

	seen, ok, err := svc.LastSeen(ctx, "user-1")
	if err != nil || !ok || !seen.Equal(first) {
		t.Fatalf("LastSeen after SetOnline = (%v, %v, %v), want (%v, true, nil)", seen, ok, err, first)
	}

	second := first.Add(time.Hour)
	svc2 := NewWithClock(b, func() time.Time { return second })
	if err := svc2.SetOffline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOffline returned error: %v", err)
	}

	seen, ok, err = svc.LastSeen(ctx, "user-1")
	if err != nil || !ok || !seen.Equal(second) {
		t.Fatalf("LastSeen after SetOffline = (%v, %v, %v), want (%v, true, nil)", seen, ok, err, second)
	}
}

func TestTypingLifecycle(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()
	svc := New(b)

	if err := svc.SetTyping(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("SetTyping returned error: %v", err)
	}

	typing, err := svc.TypingUsers(ctx, "conv-1")
	if err != nil || len(typing) != 1 || typing[0] != "user-1" {
		t.Fatalf("TypingUsers = (%v, %v), want [user-1]", typing, err)
	}

	if err := svc.ClearTyping(ctx, "conv-1", "user-1"); err != nil {
		t.Fatalf("ClearTyping returned error: %v", err)
	}

	typing, err = svc.TypingUsers(ctx, "conv-1")
	if err != nil || len(typing) != 0 {
		t.Fatalf("TypingUsers after ClearTyping = (%v, %v), want []", typing, err)
	}
}

func TestTypingUsersSelfHealsExpiredMembers(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()

	// Simulate a typing key that expired without the set entry being
	// cleaned up (e.g. a crashed reader) by adding to the set directly.
	if err := b.AddToSet(ctx, typingSetKey("conv-1"), "ghost-user"); err != nil {
		t.Fatalf("AddToSet returned error: %v", err)
	}

	svc := New(b)
	typing, err := svc.TypingUsers(ctx, "conv-1")
	if err != nil || len(typing) != 0 {
		t.Fatalf("TypingUsers with no live key = (%v, %v), want []", typing, err)
	}

	members, err := b.SetMembers(ctx, typingSetKey("conv-1"))
	if err != nil || len(members) != 0 {
		t.Fatalf("SetMembers after self-heal = (%v, %v), want []", members, err)
	}
}

func TestPublishEventOnTopic(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	ctx := context.Background()
	svc := New(b)

	sub, err := svc.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	if err := svc.SetOnline(ctx, "user-1", "tenant-1"); err != nil {
		t.Fatalf("SetOnline returned error: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var evt Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if evt.Type != "presence:online" || evt.UserID != "user-1" || evt.TenantID != "tenant-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for presence:online event")
	}
}
