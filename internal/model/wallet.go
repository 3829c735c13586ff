package model

import (
	"time"

	"github.com/google/uuid"
)

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusInactive WalletStatus = "inactive"
)

// Wallet — реальный денежный счет бота. Баланс хранится в центах
// и никогда не уходит в минус: списание условное, на уровне SQL.
type Wallet struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	BotID        uuid.UUID    `json:"bot_id" db:"bot_id"`
	BalanceCents int64        `json:"balance_cents" db:"balance_cents"`
	Frozen       bool         `json:"frozen" db:"frozen"`
	Status       WalletStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

type FundWalletRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

type WalletResponse struct {
	ID           uuid.UUID `json:"id"`
	BotID        uuid.UUID `json:"bot_id"`
	BalanceCents int64     `json:"balance_cents"`
	BalanceUSD   float64   `json:"balance_usd"`
	Frozen       bool      `json:"frozen"`
	Status       string    `json:"status"`
}
