package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/egolife/directory/config"
	"github.com/egolife/directory/internal/store"
	"github.com/egolife/directory/internal/testutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newResetService(t *testing.T) (*AccountService, *testutil.MemStore, *testutil.MemNotifier) {
	t.Helper()
	memStore := testutil.NewMemStore()
	notifier := testutil.NewMemNotifier()
	svc := NewAccountService(memStore, testutil.NewMemIndex(), zap.NewNop()).
		WithNotifier(notifier, config.ResetConfig{Secret: "test-secret", TokenTTL: time.Minute})
	return svc, memStore, notifier
}

func TestRequestPasswordResetPublishesEvent(t *testing.T) {
	svc, _, notifier := newResetService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, validFields("alice"))

	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}

	if len(notifier.Events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(notifier.Events))
	}
	event := notifier.Events[0]
	if event.Channel != PasswordResetChannel {
		t.Fatalf("channel = %q, want %q", event.Channel, PasswordResetChannel)
	}

	var payload PasswordResetEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if payload.UserID != created.ID || payload.Email != "alice@example.com" || payload.Token == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc, _, notifier := newResetService(t)

	err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(notifier.Events) != 0 {
		t.Fatal("no event may be published for an unknown email")
	}
}

func TestRequestPasswordResetWithoutNotifier(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.RequestPasswordReset(context.Background(), "alice@example.com")
	if !errors.Is(err, ErrNotifierDisabled) {
		t.Fatalf("expected ErrNotifierDisabled, got %v", err)
	}
}

func TestCompletePasswordReset(t *testing.T) {
	svc, memStore, notifier := newResetService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, validFields("alice"))
	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}

	var payload PasswordResetEvent
	if err := json.Unmarshal(notifier.Events[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	if err := svc.CompletePasswordReset(ctx, payload.Token, "newsecret", "newsecret"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	stored, _ := memStore.GetByID(ctx, created.ID)
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("newsecret")); err != nil {
		t.Fatalf("new password not stored: %v", err)
	}
}

func TestCompletePasswordResetBadToken(t *testing.T) {
	svc, _, _ := newResetService(t)

	err := svc.CompletePasswordReset(context.Background(), "garbage", "newsecret", "newsecret")
	if !errors.Is(err, ErrBadResetToken) {
		t.Fatalf("expected ErrBadResetToken, got %v", err)
	}
}

func TestCompletePasswordResetValidatesPassword(t *testing.T) {
	svc, _, notifier := newResetService(t)
	ctx := context.Background()

	mustCreate(t, svc, validFields("alice"))
	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	var payload PasswordResetEvent
	if err := json.Unmarshal(notifier.Events[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	err := svc.CompletePasswordReset(ctx, payload.Token, "short", "short")
	if ve, ok := AsValidation(err); !ok || ve.Fields["password"] == "" {
		t.Fatalf("expected password violation, got %v", err)
	}
}
