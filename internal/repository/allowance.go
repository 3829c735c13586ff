package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

// ErrExemptAlreadyUsed возвращается, когда льготу успел израсходовать
// конкурирующий запрос: покупка должна уйти на обычное подтверждение.
var ErrExemptAlreadyUsed = errors.New("льгота в этом окне уже использована")

type AllowanceRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewAllowanceRepository(db *sql.DB, logger *logrus.Logger) *AllowanceRepository {
	return &AllowanceRepository{db: db, logger: logger}
}

// execer покрывает *sql.DB и *sql.Tx: инкремент лимита нужен и сам по себе
// (ложная ветка), и внутри денежной транзакции (реальная ветка)
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Get возвращает использование лимита в окне. Если записи еще нет,
// возвращает нулевое использование: запись создается лениво при первой
// покупке.
func (r *AllowanceRepository) Get(ctx context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time) (*model.AllowanceUsage, error) {
	query := `
		SELECT card_id, profile_index, window_start, spent_cents, exempt_used, updated_at
		FROM allowance_usages
		WHERE card_id = $1 AND profile_index = $2 AND window_start = $3
	`

	var usage model.AllowanceUsage
	err := r.db.QueryRowContext(ctx, query, cardID, profileIndex, windowStart).Scan(
		&usage.CardID,
		&usage.ProfileIndex,
		&usage.WindowStart,
		&usage.SpentCents,
		&usage.ExemptUsed,
		&usage.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return &model.AllowanceUsage{
				CardID:       cardID,
				ProfileIndex: profileIndex,
				WindowStart:  windowStart,
			}, nil
		}
		return nil, fmt.Errorf("failed to get allowance usage: %w", err)
	}

	return &usage, nil
}

// Record увеличивает траты окна вне денежной транзакции (ложная ветка)
func (r *AllowanceRepository) Record(ctx context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error {
	return r.record(ctx, r.db, cardID, profileIndex, windowStart, amountCents, ceilingCents)
}

// RecordTx увеличивает траты окна внутри транзакции списания
func (r *AllowanceRepository) RecordTx(ctx context.Context, tx *sql.Tx, cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error {
	return r.record(ctx, tx, cardID, profileIndex, windowStart, amountCents, ceilingCents)
}

// record — атомарный инкремент с охраной потолка. Два конкурентных запроса
// не могут вдвоем проскочить потолок по устаревшему значению spent_cents:
// условие стоит в самом запросе, а не в предварительном SELECT. Охраняются
// обе ветки upsert: первая покупка окна (INSERT) и инкремент существующей
// записи (UPDATE) — потолок мог снизиться, пока запись еще не существовала.
func (r *AllowanceRepository) record(ctx context.Context, ex execer, cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error {
	query := `
		INSERT INTO allowance_usages (card_id, profile_index, window_start, spent_cents, exempt_used, updated_at)
		SELECT $1::uuid, $2::int, $3::timestamptz, $4::bigint, FALSE, NOW()
		WHERE $4::bigint <= $5::bigint
		ON CONFLICT (card_id, profile_index, window_start) DO UPDATE
		SET spent_cents = allowance_usages.spent_cents + EXCLUDED.spent_cents,
		    updated_at = NOW()
		WHERE allowance_usages.spent_cents + EXCLUDED.spent_cents <= $5
	`

	result, err := ex.ExecContext(ctx, query, cardID, profileIndex, windowStart, amountCents, ceilingCents)
	if err != nil {
		return fmt.Errorf("failed to record allowance usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAllowanceExceeded
	}

	return nil
}

// ClaimExemptTx атомарно расходует льготу окна. Если льготу уже забрал
// конкурирующий запрос, возвращает ErrExemptAlreadyUsed.
func (r *AllowanceRepository) ClaimExemptTx(ctx context.Context, tx *sql.Tx, cardID uuid.UUID, profileIndex int, windowStart time.Time) error {
	query := `
		INSERT INTO allowance_usages (card_id, profile_index, window_start, spent_cents, exempt_used, updated_at)
		VALUES ($1, $2, $3, 0, TRUE, NOW())
		ON CONFLICT (card_id, profile_index, window_start) DO UPDATE
		SET exempt_used = TRUE,
		    updated_at = NOW()
		WHERE allowance_usages.exempt_used = FALSE
	`

	result, err := tx.ExecContext(ctx, query, cardID, profileIndex, windowStart)
	if err != nil {
		return fmt.Errorf("failed to claim exempt purchase: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrExemptAlreadyUsed
	}

	return nil
}
