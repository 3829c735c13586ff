package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// Интерфейсы хранилищ объявлены на стороне потребителя: сервисы зависят
// от поведения, а не от конкретных репозиториев, и тестируются на
// in-memory подменах.

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type BotStore interface {
	Create(ctx context.Context, bot *model.Bot) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Bot, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Bot, error)
}

type WalletStore interface {
	Create(ctx context.Context, wallet *model.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	GetByBotID(ctx context.Context, botID uuid.UUID) (*model.Wallet, error)
	Credit(ctx context.Context, id uuid.UUID, amountCents int64) error
	SetFrozen(ctx context.Context, id uuid.UUID, frozen bool) error
}

type CardStore interface {
	Create(ctx context.Context, card *model.Card, profiles []model.CardProfile, permissions []model.ProfilePermission) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Card, error)
	GetByBotID(ctx context.Context, botID uuid.UUID) (*model.Card, error)
	Activate(ctx context.Context, id, userID uuid.UUID) error
	GetProfile(ctx context.Context, cardID uuid.UUID, profileIndex int) (*model.CardProfile, error)
	GetPermission(ctx context.Context, cardID uuid.UUID, profileIndex int) (*model.ProfilePermission, error)
	ListPermissions(ctx context.Context, cardID uuid.UUID) ([]model.ProfilePermission, error)
	UpdatePermission(ctx context.Context, cardID uuid.UUID, profileIndex int, req *model.UpdatePermissionRequest) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Card, error)
}

type AllowanceStore interface {
	Get(ctx context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time) (*model.AllowanceUsage, error)
	Record(ctx context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error
}

// PurchaseLedger — атомарное завершение реальной покупки (лимит + списание
// + запись) одной транзакцией
type PurchaseLedger interface {
	Finalize(ctx context.Context, params repository.FinalizePurchaseParams) (int64, error)
	ListByCard(ctx context.Context, cardID uuid.UUID, startDate, endDate time.Time) ([]model.Purchase, error)
}

type ConfirmationStore interface {
	Create(ctx context.Context, conf *model.CheckoutConfirmation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CheckoutConfirmation, error)
	Resolve(ctx context.Context, id uuid.UUID, status model.ConfirmationStatus) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	ExpireOverdue(ctx context.Context) (int64, error)
}

type ObfuscationStore interface {
	GetState(ctx context.Context, cardID uuid.UUID) (*model.ObfuscationState, error)
	RecordOrganic(ctx context.Context, cardID uuid.UUID, warmupThreshold int64) error
	RecordObfuscation(ctx context.Context, cardID uuid.UUID) error
	ListActiveStates(ctx context.Context) ([]model.ObfuscationState, error)
	CreateEvent(ctx context.Context, event *model.ObfuscationEvent) error
	GetEventByTaskID(ctx context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error)
	CompleteEventByTaskID(ctx context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error)
	ListPendingTasks(ctx context.Context, cardID uuid.UUID) ([]model.ObfuscationEvent, error)
}

// ProfileCipher расшифровывает данные профиля карты
type ProfileCipher interface {
	DecryptProfile(profile *model.CardProfile) (*model.CardProfileData, error)
}

// Notifier — почтовые уведомления владельцу; вызываются только
// fire-and-forget, их сбой не влияет на решение по покупке
type Notifier interface {
	SendConfirmationRequest(email string, conf *model.CheckoutConfirmation, approveURL, rejectURL string) error
	SendPurchaseNotification(email string, amountCents int64, merchant, item string) error
	SendDeclineNotification(email string, amountCents int64, merchant, reason string) error
	SendLowBalanceAlert(email string, balanceCents int64) error
}

// WebhookDispatcher — вебхуки владельцу, тоже строго best-effort
type WebhookDispatcher interface {
	Dispatch(event string, payload map[string]interface{}) error
}
