package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

func newTestApproval(store *fakeConfirmationStore) *ApprovalService {
	key := []byte("0123456789abcdef0123456789abcdef")
	return NewApprovalService(store, key, 15*time.Minute, testLogger())
}

func newTestConfirmation() *model.CheckoutConfirmation {
	return &model.CheckoutConfirmation{
		CardID:       uuid.New(),
		BotID:        uuid.New(),
		ProfileIndex: 0,
		AmountCents:  2500,
		MerchantName: "Amazon",
		ItemName:     "Office Chair",
	}
}

func TestApprovalIssueAndResolve(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	conf := newTestConfirmation()
	if err := svc.Issue(ctx, conf); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if conf.Token == "" {
		t.Fatal("выпущенное подтверждение не получило токен")
	}
	if !svc.VerifyToken(conf.ID, conf.Token) {
		t.Fatal("выпущенный токен не проходит проверку")
	}

	resolved, err := svc.Resolve(ctx, conf.ID, conf.Token, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != model.ConfirmationApproved {
		t.Errorf("статус = %s, ожидалось approved", resolved.Status)
	}
}

func TestApprovalRejectsTamperedToken(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	conf := newTestConfirmation()
	if err := svc.Issue(ctx, conf); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := conf.Token[:len(conf.Token)-1] + "0"
	if tampered == conf.Token {
		tampered = conf.Token[:len(conf.Token)-1] + "1"
	}

	if _, err := svc.Resolve(ctx, conf.ID, tampered, true); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ожидался ErrInvalidToken, получено %v", err)
	}

	// Подделка токена не трогает статус
	status, err := svc.Status(ctx, conf.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != model.ConfirmationPending {
		t.Errorf("статус после подделки = %s, ожидалось pending", status)
	}
}

func TestApprovalTokenForAnotherConfirmation(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	first := newTestConfirmation()
	second := newTestConfirmation()
	if err := svc.Issue(ctx, first); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Issue(ctx, second); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Валидный токен чужого подтверждения не подходит
	if _, err := svc.Resolve(ctx, first.ID, second.Token, true); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ожидался ErrInvalidToken, получено %v", err)
	}
}

func TestApprovalExpiredDecisionRefused(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	conf := newTestConfirmation()
	if err := svc.Issue(ctx, conf); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Сдвигаем срок в прошлое: решение с валидным токеном не принимается
	store.setExpiresAt(conf.ID, time.Now().Add(-time.Minute))

	if _, err := svc.Resolve(ctx, conf.ID, conf.Token, true); !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("ожидался ErrConfirmationExpired, получено %v", err)
	}

	status, err := svc.Status(ctx, conf.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != model.ConfirmationExpired {
		t.Errorf("статус = %s, ожидалось expired", status)
	}
}

func TestApprovalResolveExactlyOnce(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	conf := newTestConfirmation()
	if err := svc.Issue(ctx, conf); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Resolve(ctx, conf.ID, conf.Token, true); err != nil {
		t.Fatalf("первое разрешение: %v", err)
	}

	// Повторное решение с тем же токеном проигрывает гонку
	if _, err := svc.Resolve(ctx, conf.ID, conf.Token, false); !errors.Is(err, repository.ErrAlreadyResolved) {
		t.Fatalf("ожидался ErrAlreadyResolved, получено %v", err)
	}
}

func TestApprovalStatusLazyExpiry(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	conf := newTestConfirmation()
	if err := svc.Issue(ctx, conf); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	store.setExpiresAt(conf.ID, time.Now().Add(-time.Second))

	// Поллинг не ждет планировщика: просроченный pending отдается как expired
	status, err := svc.Status(ctx, conf.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != model.ConfirmationExpired {
		t.Errorf("статус = %s, ожидалось expired", status)
	}
}

func TestApprovalExpireOverdue(t *testing.T) {
	store := newFakeConfirmationStore()
	svc := newTestApproval(store)
	ctx := context.Background()

	overdue := newTestConfirmation()
	fresh := newTestConfirmation()
	if err := svc.Issue(ctx, overdue); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Issue(ctx, fresh); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	store.setExpiresAt(overdue.ID, time.Now().Add(-time.Minute))

	if err := svc.ExpireOverdue(ctx); err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}

	status, _ := svc.Status(ctx, overdue.ID)
	if status != model.ConfirmationExpired {
		t.Errorf("просроченное подтверждение = %s, ожидалось expired", status)
	}
	status, _ = svc.Status(ctx, fresh.ID)
	if status != model.ConfirmationPending {
		t.Errorf("свежее подтверждение = %s, ожидалось pending", status)
	}
}
