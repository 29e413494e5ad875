package contacts

import (
	"context"
	"testing"
)

func TestCreateRequestRejectsSelf(t *testing.T) {
	// store is left nil: the validation short-circuit must return
	// before any store access.
	svc := New(nil)
	_, err := svc.CreateRequest(context.Background(), "user-1", "tenant-1", "user-1", "", "hi")
	if err == nil {
		t.Fatal("CreateRequest(self) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("CreateRequest(self) error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestCreateRequestRejectsOverlongMessage(t *testing.T) {
	svc := New(nil)
	longMessage := make([]byte, 501)
	for i := range longMessage {
		longMessage[i] = 'a'
	}

	_, err := svc.CreateRequest(context.Background(), "user-1", "tenant-1", "user-2", "", string(longMessage))
	if err == nil {
		t.Fatal("CreateRequest(overlong message) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("CreateRequest(overlong message) error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestBlockRejectsSelf(t *testing.T) {
	svc := New(nil)
	_, err := svc.Block(context.Background(), "user-1", "user-1", "")
	if err == nil {
		t.Fatal("Block(self) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("Block(self) error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestErrorImplementsErrCode(t *testing.T) {
	err := newError(ErrorCodeConflict, "already exists", nil)
	var withCode interface{ ErrCode() string }
	withCode = err
	if withCode.ErrCode() != string(ErrorCodeConflict) {
		t.Fatalf("ErrCode() = %q, want %q", withCode.ErrCode(), ErrorCodeConflict)
	}
}
