package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type WalletRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewWalletRepository(db *sql.DB, logger *logrus.Logger) *WalletRepository {
	return &WalletRepository{db: db, logger: logger}
}

func (r *WalletRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	query := `
		INSERT INTO wallets (id, bot_id, balance_cents, frozen, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		wallet.ID,
		wallet.BotID,
		wallet.BalanceCents,
		wallet.Frozen,
		wallet.Status,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, bot_id, balance_cents, frozen, status, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, id))
}

func (r *WalletRepository) GetByBotID(ctx context.Context, botID uuid.UUID) (*model.Wallet, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, bot_id, balance_cents, frozen, status, created_at, updated_at
		FROM wallets
		WHERE bot_id = $1
	`, botID))
}

func (r *WalletRepository) scanOne(row *sql.Row) (*model.Wallet, error) {
	var wallet model.Wallet
	err := row.Scan(
		&wallet.ID,
		&wallet.BotID,
		&wallet.BalanceCents,
		&wallet.Frozen,
		&wallet.Status,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// Credit пополняет кошелек
func (r *WalletRepository) Credit(ctx context.Context, id uuid.UUID, amountCents int64) error {
	query := `
		UPDATE wallets
		SET balance_cents = balance_cents + $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, amountCents, id)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrWalletNotFound
	}

	return nil
}

// DebitTx атомарно списывает средства внутри транзакции. Условие на баланс
// и заморозку стоит прямо в UPDATE: само списание — источник истины, ранняя
// проверка баланса в сервисе лишь быстрый путь.
func (r *WalletRepository) DebitTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, amountCents int64) (int64, error) {
	query := `
		UPDATE wallets
		SET balance_cents = balance_cents - $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND frozen = FALSE
		  AND status = 'active'
		  AND balance_cents >= $1
		RETURNING balance_cents
	`

	var newBalance int64
	err := tx.QueryRowContext(ctx, query, amountCents, id).Scan(&newBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("failed to debit wallet: %w", err)
	}

	return newBalance, nil
}

// SetFrozen замораживает или размораживает кошелек
func (r *WalletRepository) SetFrozen(ctx context.Context, id uuid.UUID, frozen bool) error {
	query := `
		UPDATE wallets
		SET frozen = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, frozen, id)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrWalletNotFound
	}

	return nil
}

func (r *WalletRepository) GetDB() *sql.DB {
	return r.db
}
