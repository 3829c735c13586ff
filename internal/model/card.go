package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CardStatus string

const (
	CardStatusPendingSetup CardStatus = "pending_setup"
	CardStatusActive       CardStatus = "active"
)

// Card — конфигурация карты с разделенным знанием номера: несколько цифр PAN
// изъяты из хранимой записи, их значения знает только владелец. Один из
// профилей карты настоящий, остальные — ложные, какой именно — знает
// только колонка real_profile_index.
type Card struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	BotID            uuid.UUID  `json:"bot_id" db:"bot_id"`
	Status           CardStatus `json:"status" db:"status"`
	MissingPositions []int64    `json:"missing_positions" db:"missing_positions"` // Индексы изъятых цифр в 16-значном PAN
	RealProfileIndex int        `json:"-" db:"real_profile_index"`
	ProfileCount     int        `json:"profile_count" db:"profile_count"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// CardProfile — один профиль карты. Настоящий и ложные профили хранятся
// одинаково: зашифрованный PGP блок плюс HMAC целостности, чтобы по записи
// нельзя было отличить реальный профиль от приманки.
type CardProfile struct {
	CardID        uuid.UUID `json:"card_id" db:"card_id"`
	ProfileIndex  int       `json:"profile_index" db:"profile_index"`
	HolderName    string    `json:"holder_name" db:"holder_name"`
	BillingZip    string    `json:"billing_zip" db:"billing_zip"`
	EncryptedData string    `json:"-" db:"encrypted_data"` // PGP (digits|MM/YYYY)
	HMAC          string    `json:"-" db:"hmac"`           // HMAC-SHA256
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CardProfileData — расшифрованное содержимое профиля
type CardProfileData struct {
	MissingDigits string `json:"missing_digits"`
	ExpiryMonth   int    `json:"expiry_month"`
	ExpiryYear    int    `json:"expiry_year"`
}

type CreateCardRequest struct {
	BotID            uuid.UUID `json:"bot_id" validate:"required"`
	MissingPositions []int64   `json:"missing_positions" validate:"required"`
	MissingDigits    string    `json:"missing_digits" validate:"required"`
	ExpiryMonth      int       `json:"expiry_month" validate:"required,min=1,max=12"`
	ExpiryYear       int       `json:"expiry_year" validate:"required"`
	HolderName       string    `json:"holder_name" validate:"required"`
	BillingZip       string    `json:"billing_zip" validate:"required"`
	FakeProfiles     int       `json:"fake_profiles" validate:"min=1,max=5"`

	// Стартовая политика, применяется ко всем профилям карты
	Permission UpdatePermissionRequest `json:"permission"`
}

func (r *CreateCardRequest) Validate() error {
	if len(r.MissingPositions) == 0 || len(r.MissingPositions) > 4 {
		return fmt.Errorf("число изъятых позиций должно быть от 1 до 4")
	}
	for _, p := range r.MissingPositions {
		if p < 0 || p > 15 {
			return fmt.Errorf("позиция %d вне 16-значного номера", p)
		}
	}
	if len(r.MissingDigits) != len(r.MissingPositions) {
		return fmt.Errorf("число изъятых цифр не совпадает с числом позиций")
	}
	for _, c := range r.MissingDigits {
		if c < '0' || c > '9' {
			return fmt.Errorf("изъятые цифры должны быть цифрами")
		}
	}
	if r.ExpiryMonth < 1 || r.ExpiryMonth > 12 {
		return fmt.Errorf("неверный месяц срока действия")
	}
	if r.ExpiryYear < time.Now().Year() {
		return fmt.Errorf("срок действия карты истек")
	}
	if r.FakeProfiles < 1 || r.FakeProfiles > 5 {
		return fmt.Errorf("число ложных профилей должно быть от 1 до 5")
	}
	return r.Permission.Validate()
}

type CardResponse struct {
	ID           uuid.UUID  `json:"id"`
	BotID        uuid.UUID  `json:"bot_id"`
	Status       CardStatus `json:"status"`
	ProfileCount int        `json:"profile_count"`
	CreatedAt    time.Time  `json:"created_at"`
}
