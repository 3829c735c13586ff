package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type WindowUnit string

const (
	WindowDay   WindowUnit = "day"
	WindowWeek  WindowUnit = "week"
	WindowMonth WindowUnit = "month"
)

// ApprovalMode — режим участия человека в покупке. Фиксированный набор
// значений, проверяется на границе: неизвестный режим отклоняется сразу,
// а не разбирается по наличию полей.
type ApprovalMode string

const (
	ApprovalAll         ApprovalMode = "all"          // подтверждать каждую покупку
	ApprovalAboveExempt ApprovalMode = "above_exempt" // подтверждать всё, что выше льготного порога
	ApprovalNone        ApprovalMode = "none"         // без подтверждений
)

// ProfilePermission — политика трат одного профиля карты: окно лимита,
// потолок в центах, льготный потолок (одна покупка за окно без
// подтверждения) и режим подтверждения.
type ProfilePermission struct {
	CardID         uuid.UUID    `json:"card_id" db:"card_id"`
	ProfileIndex   int          `json:"profile_index" db:"profile_index"`
	Window         WindowUnit   `json:"window" db:"window"`
	AllowanceCents int64        `json:"allowance_cents" db:"allowance_cents"`
	ExemptCents    int64        `json:"exempt_cents" db:"exempt_cents"`
	Mode           ApprovalMode `json:"mode" db:"mode"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

type UpdatePermissionRequest struct {
	Window         WindowUnit   `json:"window" validate:"required,oneof=day week month"`
	AllowanceCents int64        `json:"allowance_cents" validate:"required,gt=0"`
	ExemptCents    int64        `json:"exempt_cents" validate:"gte=0"`
	Mode           ApprovalMode `json:"mode" validate:"required,oneof=all above_exempt none"`
}

func (r *UpdatePermissionRequest) Validate() error {
	switch r.Window {
	case WindowDay, WindowWeek, WindowMonth:
	default:
		return fmt.Errorf("неизвестное окно лимита: %s", r.Window)
	}
	switch r.Mode {
	case ApprovalAll, ApprovalAboveExempt, ApprovalNone:
	default:
		return fmt.Errorf("неизвестный режим подтверждения: %s", r.Mode)
	}
	if r.AllowanceCents <= 0 {
		return fmt.Errorf("потолок лимита должен быть положительным")
	}
	if r.ExemptCents < 0 {
		return fmt.Errorf("льготный потолок не может быть отрицательным")
	}
	if r.ExemptCents > r.AllowanceCents {
		return fmt.Errorf("льготный потолок не может превышать потолок лимита")
	}
	return nil
}
