package model

import (
	"time"

	"github.com/google/uuid"
)

type PurchaseStatus string

const (
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Purchase — запись об одобренной реальной покупке: аудит движения денег
type Purchase struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	CardID       uuid.UUID      `json:"card_id" db:"card_id"`
	BotID        uuid.UUID      `json:"bot_id" db:"bot_id"`
	ProfileIndex int            `json:"profile_index" db:"profile_index"`
	MerchantName string         `json:"merchant_name" db:"merchant_name"`
	MerchantURL  string         `json:"merchant_url" db:"merchant_url"`
	ItemName     string         `json:"item_name" db:"item_name"`
	AmountCents  int64          `json:"amount_cents" db:"amount_cents"`
	Category     string         `json:"category" db:"category"`
	Status       PurchaseStatus `json:"status" db:"status"`
	ConfirmationID *uuid.UUID   `json:"confirmation_id" db:"confirmation_id"` // заполнено, если покупка прошла через подтверждение
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}
