package model

import (
	"time"

	"github.com/google/uuid"
)

// AllowanceUsage — накопленные траты профиля в текущем окне лимита.
// Запись создается лениво при первой покупке в окне; при переходе окна
// появляется новая запись с новым window_start, старая не изменяется.
type AllowanceUsage struct {
	CardID       uuid.UUID `json:"card_id" db:"card_id"`
	ProfileIndex int       `json:"profile_index" db:"profile_index"`
	WindowStart  time.Time `json:"window_start" db:"window_start"`
	SpentCents   int64     `json:"spent_cents" db:"spent_cents"`
	ExemptUsed   bool      `json:"exempt_used" db:"exempt_used"` // льгота уже израсходована в этом окне
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
