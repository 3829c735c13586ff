package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type PurchaseRepository struct {
	db            *sql.DB
	walletRepo    *WalletRepository
	allowanceRepo *AllowanceRepository
	logger        *logrus.Logger
}

func NewPurchaseRepository(db *sql.DB, walletRepo *WalletRepository, allowanceRepo *AllowanceRepository, logger *logrus.Logger) *PurchaseRepository {
	return &PurchaseRepository{
		db:            db,
		walletRepo:    walletRepo,
		allowanceRepo: allowanceRepo,
		logger:        logger,
	}
}

// FinalizePurchaseParams — параметры атомарного завершения реальной покупки
type FinalizePurchaseParams struct {
	Purchase     *model.Purchase
	WalletID     uuid.UUID
	WindowStart  time.Time
	CeilingCents int64
	MarkExempt   bool
}

// Finalize завершает реальную покупку одной транзакцией: охраняемый
// инкремент лимита, условное списание с кошелька и запись о покупке.
// Либо фиксируется всё, либо ничего — лимит не расходуется на списание,
// которое не состоялось.
func (r *PurchaseRepository) Finalize(ctx context.Context, params FinalizePurchaseParams) (int64, error) {
	p := params.Purchase

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// 1. Расход льготы, если покупка идет без подтверждения по льготе
	if params.MarkExempt {
		if err := r.allowanceRepo.ClaimExemptTx(ctx, tx, p.CardID, p.ProfileIndex, params.WindowStart); err != nil {
			return 0, err
		}
	}

	// 2. Инкремент лимита с охраной потолка
	if err := r.allowanceRepo.RecordTx(ctx, tx, p.CardID, p.ProfileIndex, params.WindowStart, p.AmountCents, params.CeilingCents); err != nil {
		return 0, err
	}

	// 3. Условное списание: само списание проверяет баланс и заморозку
	newBalance, err := r.walletRepo.DebitTx(ctx, tx, params.WalletID, p.AmountCents)
	if err != nil {
		return 0, err
	}

	// 4. Запись о покупке
	if err := r.CreateTx(ctx, tx, p); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purchase: %w", err)
	}

	return newBalance, nil
}

func (r *PurchaseRepository) CreateTx(ctx context.Context, tx *sql.Tx, purchase *model.Purchase) error {
	r.logger.WithFields(logrus.Fields{
		"purchase_id":   purchase.ID,
		"card_id":       purchase.CardID,
		"profile_index": purchase.ProfileIndex,
		"amount_cents":  purchase.AmountCents,
	}).Info("Создание записи о покупке")

	query := `
		INSERT INTO purchases (id, card_id, bot_id, profile_index, merchant_name, merchant_url, item_name, amount_cents, category, status, confirmation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := tx.ExecContext(ctx, query,
		purchase.ID,
		purchase.CardID,
		purchase.BotID,
		purchase.ProfileIndex,
		purchase.MerchantName,
		purchase.MerchantURL,
		purchase.ItemName,
		purchase.AmountCents,
		purchase.Category,
		purchase.Status,
		purchase.ConfirmationID,
		purchase.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	return nil
}

// ListByCard возвращает покупки по карте за период
func (r *PurchaseRepository) ListByCard(ctx context.Context, cardID uuid.UUID, startDate, endDate time.Time) ([]model.Purchase, error) {
	query := `
		SELECT id, card_id, bot_id, profile_index, merchant_name, merchant_url, item_name, amount_cents, category, status, confirmation_id, created_at
		FROM purchases
		WHERE card_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, cardID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения покупок: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(
			&p.ID,
			&p.CardID,
			&p.BotID,
			&p.ProfileIndex,
			&p.MerchantName,
			&p.MerchantURL,
			&p.ItemName,
			&p.AmountCents,
			&p.Category,
			&p.Status,
			&p.ConfirmationID,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения покупки: %w", err)
		}
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обработки результатов: %w", err)
	}

	return purchases, nil
}
