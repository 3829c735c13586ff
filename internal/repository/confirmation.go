package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type ConfirmationRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewConfirmationRepository(db *sql.DB, logger *logrus.Logger) *ConfirmationRepository {
	return &ConfirmationRepository{db: db, logger: logger}
}

func (r *ConfirmationRepository) Create(ctx context.Context, conf *model.CheckoutConfirmation) error {
	query := `
		INSERT INTO checkout_confirmations (id, card_id, bot_id, profile_index, amount_cents, merchant_name, merchant_url, item_name, category, status, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		conf.ID,
		conf.CardID,
		conf.BotID,
		conf.ProfileIndex,
		conf.AmountCents,
		conf.MerchantName,
		conf.MerchantURL,
		conf.ItemName,
		conf.Category,
		conf.Status,
		conf.Token,
		conf.ExpiresAt,
		conf.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create confirmation: %w", err)
	}

	return nil
}

func (r *ConfirmationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CheckoutConfirmation, error) {
	query := `
		SELECT id, card_id, bot_id, profile_index, amount_cents, merchant_name, merchant_url, item_name, category, status, token, expires_at, created_at, resolved_at
		FROM checkout_confirmations
		WHERE id = $1
	`

	var conf model.CheckoutConfirmation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conf.ID,
		&conf.CardID,
		&conf.BotID,
		&conf.ProfileIndex,
		&conf.AmountCents,
		&conf.MerchantName,
		&conf.MerchantURL,
		&conf.ItemName,
		&conf.Category,
		&conf.Status,
		&conf.Token,
		&conf.ExpiresAt,
		&conf.CreatedAt,
		&conf.ResolvedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConfirmationNotFound
		}
		return nil, fmt.Errorf("failed to get confirmation: %w", err)
	}

	return &conf, nil
}

// Resolve атомарно переводит подтверждение из pending в approved/rejected.
// Переход выигрывает ровно один вызов; всем остальным возвращается
// ErrAlreadyResolved. Просроченный pending перевести нельзя.
func (r *ConfirmationRepository) Resolve(ctx context.Context, id uuid.UUID, status model.ConfirmationStatus) error {
	query := `
		UPDATE checkout_confirmations
		SET status = $1,
		    resolved_at = NOW()
		WHERE id = $2
		  AND status = 'pending'
		  AND expires_at > NOW()
	`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to resolve confirmation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAlreadyResolved
	}

	return nil
}

// MarkExpired помечает один просроченный pending как expired
func (r *ConfirmationRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE checkout_confirmations
		SET status = 'expired',
		    resolved_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND expires_at <= NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark confirmation expired: %w", err)
	}

	return nil
}

// ExpireOverdue переводит все просроченные pending в expired (задача планировщика)
func (r *ConfirmationRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	query := `
		UPDATE checkout_confirmations
		SET status = 'expired',
		    resolved_at = NOW()
		WHERE status = 'pending'
		  AND expires_at <= NOW()
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to expire confirmations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
