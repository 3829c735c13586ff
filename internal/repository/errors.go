package repository

import "errors"

// Конфликты и отказы уровня хранилища. Сервисы различают их через
// errors.Is и переводят в машиночитаемые коды внешнего контракта.
var (
	ErrWalletNotFound       = errors.New("кошелек не найден")
	ErrWalletFrozen         = errors.New("кошелек заморожен")
	ErrInsufficientFunds    = errors.New("недостаточно средств на кошельке")
	ErrCardNotFound         = errors.New("карта не найдена")
	ErrProfileNotFound      = errors.New("профиль карты не найден")
	ErrPermissionNotFound   = errors.New("политика профиля не найдена")
	ErrAllowanceExceeded    = errors.New("превышен лимит трат в окне")
	ErrConfirmationNotFound = errors.New("подтверждение не найдено")
	ErrAlreadyResolved      = errors.New("подтверждение уже разрешено или истекло")
	ErrTaskNotFound         = errors.New("запланированное событие не найдено")
)
