package model

import (
	"time"

	"github.com/google/uuid"
)

type ObfuscationPhase string

const (
	PhaseWarmup ObfuscationPhase = "warmup"
	PhaseActive ObfuscationPhase = "active"
	PhaseIdle   ObfuscationPhase = "idle"
)

// ObfuscationState — состояние темпа ложного трафика по карте.
// Счетчики только растут; фаза движется вперед (warmup -> active)
// и не откатывается без явного сброса.
type ObfuscationState struct {
	CardID            uuid.UUID        `json:"card_id" db:"card_id"`
	Phase             ObfuscationPhase `json:"phase" db:"phase"`
	OrganicCount      int64            `json:"organic_count" db:"organic_count"`
	ObfuscationCount  int64            `json:"obfuscation_count" db:"obfuscation_count"`
	LastOrganicAt     *time.Time       `json:"last_organic_at" db:"last_organic_at"`
	LastObfuscationAt *time.Time       `json:"last_obfuscation_at" db:"last_obfuscation_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

type ObfuscationEventStatus string

const (
	ObfuscationEventPending   ObfuscationEventStatus = "pending"
	ObfuscationEventCompleted ObfuscationEventStatus = "completed"
)

// ObfuscationEvent — одна транзакция ложного профиля. Журнал только
// дописывается: он задает темп приманок и дает боту правдоподобную
// историю покупок по каждому ложному профилю.
type ObfuscationEvent struct {
	ID             uuid.UUID              `json:"id" db:"id"`
	CardID         uuid.UUID              `json:"card_id" db:"card_id"`
	ProfileIndex   int                    `json:"profile_index" db:"profile_index"`
	TaskID         string                 `json:"task_id" db:"task_id"` // пусто для незапланированных событий
	MerchantName   string                 `json:"merchant_name" db:"merchant_name"`
	ItemName       string                 `json:"item_name" db:"item_name"`
	AmountCents    int64                  `json:"amount_cents" db:"amount_cents"`
	Status         ObfuscationEventStatus `json:"status" db:"status"`
	ConfirmationID uuid.UUID              `json:"confirmation_id" db:"confirmation_id"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at" db:"completed_at"`
}

// DecoyTask — запланированная приманка, которую бот должен "выполнить"
// через обычный checkout с task_id
type DecoyTask struct {
	TaskID       string `json:"task_id"`
	ProfileIndex int    `json:"profile_index"`
	MerchantName string `json:"merchant_name"`
	ItemName     string `json:"item_name"`
	AmountCents  int64  `json:"amount_cents"`
}
