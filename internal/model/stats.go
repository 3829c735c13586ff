package model

import (
	"time"

	"github.com/google/uuid"
)

// ProfileSpendStats - траты профиля в текущем окне лимита
type ProfileSpendStats struct {
	ProfileIndex  int        `json:"profile_index"`
	Window        WindowUnit `json:"window"`
	WindowStart   time.Time  `json:"window_start"`
	SpentUSD      float64    `json:"spent_usd"`
	AllowanceUSD  float64    `json:"allowance_usd"`
	RemainingUSD  float64    `json:"remaining_usd"`
	ExemptUsed    bool       `json:"exempt_used"`
	ApprovalMode  ApprovalMode `json:"approval_mode"`
}

// PacingStats - сводка движка обфускации для дашборда
type PacingStats struct {
	Phase             ObfuscationPhase `json:"phase"`
	OrganicCount      int64            `json:"organic_count"`
	ObfuscationCount  int64            `json:"obfuscation_count"`
	LastOrganicAt     *time.Time       `json:"last_organic_at"`
	LastObfuscationAt *time.Time       `json:"last_obfuscation_at"`
}

// CardStats - статистика по карте: траты по профилям и темп приманок
type CardStats struct {
	CardID   uuid.UUID           `json:"card_id"`
	Profiles []ProfileSpendStats `json:"profiles"`
	Pacing   PacingStats         `json:"pacing"`
}
