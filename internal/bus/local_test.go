package bus

import (
	"context"
	"testing"
	"time"
)

func TestLocalBusPublishSubscribe(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "room:1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "room:1", []byte("hello")); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Topic != "room:1" || string(msg.Payload) != "hello" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestLocalBusSetGetTTL(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	ctx := context.Background()

	if err := b.Set(ctx, "presence:user-1", "online", 50*time.Millisecond); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	val, ok, err := b.Get(ctx, "presence:user-1")
	if err != nil || !ok || val != "online" {
		t.Fatalf("Get = (%q, %v, %v), want (online, true, nil)", val, ok, err)
	}

	time.Sleep(100 * time.Millisecond)

	_, ok, err = b.Get(ctx, "presence:user-1")
	if err != nil || ok {
		t.Fatalf("Get after TTL expiry = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestLocalBusSetMembers(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	ctx := context.Background()

	if err := b.AddToSet(ctx, "presence:online", "user-1"); err != nil {
		t.Fatalf("AddToSet returned error: %v", err)
	}
	if err := b.AddToSet(ctx, "presence:online", "user-2"); err != nil {
		t.Fatalf("AddToSet returned error: %v", err)
	}

	members, err := b.SetMembers(ctx, "presence:online")
	if err != nil || len(members) != 2 {
		t.Fatalf("SetMembers = (%v, %v), want 2 members", members, err)
	}

	if err := b.RemoveFromSet(ctx, "presence:online", "user-1"); err != nil {
		t.Fatalf("RemoveFromSet returned error: %v", err)
	}
	members, err = b.SetMembers(ctx, "presence:online")
	if err != nil || len(members) != 1 || members[0] != "user-2" {
		t.Fatalf("SetMembers after removal = (%v, %v), want [user-2]", members, err)
	}
}

func TestLocalBusCloseClosesSubscriptions(t *testing.T) {
	b := NewLocal()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "room:1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if !b.Closed() {
		t.Fatal("Closed() = false after Close()")
	}

	if _, ok := <-sub.Channel(); ok {
		t.Fatal("subscription channel should be closed")
	}
}
