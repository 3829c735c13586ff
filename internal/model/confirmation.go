package model

import (
	"time"

	"github.com/google/uuid"
)

type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationRejected ConfirmationStatus = "rejected"
	ConfirmationExpired  ConfirmationStatus = "expired"
)

// CheckoutConfirmation — запрос на подтверждение покупки человеком.
// Токен — HMAC-SHA256 от идентификатора подтверждения; решение после
// expires_at не принимается, даже если токен валиден.
type CheckoutConfirmation struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	CardID       uuid.UUID          `json:"card_id" db:"card_id"`
	BotID        uuid.UUID          `json:"bot_id" db:"bot_id"`
	ProfileIndex int                `json:"profile_index" db:"profile_index"`
	AmountCents  int64              `json:"amount_cents" db:"amount_cents"`
	MerchantName string             `json:"merchant_name" db:"merchant_name"`
	MerchantURL  string             `json:"merchant_url" db:"merchant_url"`
	ItemName     string             `json:"item_name" db:"item_name"`
	Category     string             `json:"category" db:"category"`
	Status       ConfirmationStatus `json:"status" db:"status"`
	Token        string             `json:"-" db:"token"`
	ExpiresAt    time.Time          `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time         `json:"resolved_at" db:"resolved_at"`
}
