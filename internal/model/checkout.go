package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckoutRequest — намерение покупки от бота, адресованное одному из
// профилей его карты
type CheckoutRequest struct {
	ProfileIndex int    `json:"profile_index"`
	MerchantName string `json:"merchant_name" validate:"required"`
	MerchantURL  string `json:"merchant_url" validate:"required"`
	ItemName     string `json:"item_name" validate:"required"`
	AmountCents  int64  `json:"amount_cents" validate:"required,gte=1"`
	Category     string `json:"category"`
	TaskID       string `json:"task_id"`
}

func (r *CheckoutRequest) Validate() error {
	if r.ProfileIndex < 0 {
		return fmt.Errorf("индекс профиля не может быть отрицательным")
	}
	if strings.TrimSpace(r.MerchantName) == "" {
		return fmt.Errorf("название магазина обязательно")
	}
	if strings.TrimSpace(r.ItemName) == "" {
		return fmt.Errorf("название товара обязательно")
	}
	if r.AmountCents < 1 {
		return fmt.Errorf("сумма должна быть не меньше одного цента")
	}
	return nil
}

type CheckoutStatus string

const (
	CheckoutApproved CheckoutStatus = "approved"
	CheckoutPending  CheckoutStatus = "pending_confirmation"
	CheckoutDeclined CheckoutStatus = "declined"
)

// DeclineReason — машиночитаемые коды отказа внешнего контракта
type DeclineReason string

const (
	DeclineWalletNotActive   DeclineReason = "wallet_not_active"
	DeclineWalletFrozen      DeclineReason = "wallet_frozen"
	DeclineCardNotActive     DeclineReason = "card_not_active"
	DeclineInvalidProfile    DeclineReason = "invalid_profile"
	DeclineAllowanceExceeded DeclineReason = "allowance_exceeded"
	DeclineInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineDebitFailed       DeclineReason = "debit_failed"
)

// CheckoutResult — единый результат оркестратора. Форма ответа одинакова
// для настоящей и ложной ветки, чтобы по трафику нельзя было понять,
// какой профиль реальный.
type CheckoutResult struct {
	Status         CheckoutStatus
	Reason         DeclineReason
	Message        string
	ConfirmationID uuid.UUID
	ExpiresAt      time.Time

	// Данные карты для одобренной покупки
	MissingDigits string
	ExpiryMonth   int
	ExpiryYear    int
	AmountCents   int64

	// Детали для прозрачных отказов
	SpentCents     int64
	AllowanceCents int64
	RemainingCents int64
	BalanceCents   int64
}
