package model

import (
	"time"

	"github.com/google/uuid"
)

// Bot — автономный агент, который тратит средства с предоплаченного кошелька
type Bot struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CreateBotRequest struct {
	Name string `json:"name" validate:"required"`
}

type BotTokenResponse struct {
	BotID uuid.UUID `json:"bot_id"`
	Token string    `json:"token"`
}
