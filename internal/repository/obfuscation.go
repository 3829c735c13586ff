package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type ObfuscationRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewObfuscationRepository(db *sql.DB, logger *logrus.Logger) *ObfuscationRepository {
	return &ObfuscationRepository{db: db, logger: logger}
}

// GetState возвращает состояние темпа по карте; при отсутствии записи —
// свежее состояние в фазе warmup
func (r *ObfuscationRepository) GetState(ctx context.Context, cardID uuid.UUID) (*model.ObfuscationState, error) {
	query := `
		SELECT card_id, phase, organic_count, obfuscation_count, last_organic_at, last_obfuscation_at, updated_at
		FROM obfuscation_states
		WHERE card_id = $1
	`

	var state model.ObfuscationState
	err := r.db.QueryRowContext(ctx, query, cardID).Scan(
		&state.CardID,
		&state.Phase,
		&state.OrganicCount,
		&state.ObfuscationCount,
		&state.LastOrganicAt,
		&state.LastObfuscationAt,
		&state.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return &model.ObfuscationState{
				CardID: cardID,
				Phase:  model.PhaseWarmup,
			}, nil
		}
		return nil, fmt.Errorf("failed to get obfuscation state: %w", err)
	}

	return &state, nil
}

// RecordOrganic увеличивает счетчик органических событий и двигает фазу
// вперед, когда набрано достаточно органики. Фаза назад не откатывается.
func (r *ObfuscationRepository) RecordOrganic(ctx context.Context, cardID uuid.UUID, warmupThreshold int64) error {
	query := `
		INSERT INTO obfuscation_states (card_id, phase, organic_count, obfuscation_count, last_organic_at, updated_at)
		VALUES ($1, 'warmup', 1, 0, NOW(), NOW())
		ON CONFLICT (card_id) DO UPDATE
		SET organic_count = obfuscation_states.organic_count + 1,
		    last_organic_at = NOW(),
		    phase = CASE
		        WHEN obfuscation_states.phase = 'active' THEN 'active'
		        WHEN obfuscation_states.organic_count + 1 >= $2 THEN 'active'
		        ELSE 'warmup'
		    END,
		    updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, cardID, warmupThreshold); err != nil {
		return fmt.Errorf("failed to record organic event: %w", err)
	}

	return nil
}

// RecordObfuscation увеличивает счетчик ложных событий
func (r *ObfuscationRepository) RecordObfuscation(ctx context.Context, cardID uuid.UUID) error {
	query := `
		INSERT INTO obfuscation_states (card_id, phase, organic_count, obfuscation_count, last_obfuscation_at, updated_at)
		VALUES ($1, 'warmup', 0, 1, NOW(), NOW())
		ON CONFLICT (card_id) DO UPDATE
		SET obfuscation_count = obfuscation_states.obfuscation_count + 1,
		    last_obfuscation_at = NOW(),
		    updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, cardID); err != nil {
		return fmt.Errorf("failed to record obfuscation event: %w", err)
	}

	return nil
}

// ListActiveStates возвращает карты в фазе active для планировщика приманок
func (r *ObfuscationRepository) ListActiveStates(ctx context.Context) ([]model.ObfuscationState, error) {
	query := `
		SELECT card_id, phase, organic_count, obfuscation_count, last_organic_at, last_obfuscation_at, updated_at
		FROM obfuscation_states
		WHERE phase = 'active'
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query obfuscation states: %w", err)
	}
	defer rows.Close()

	var states []model.ObfuscationState
	for rows.Next() {
		var state model.ObfuscationState
		if err := rows.Scan(
			&state.CardID,
			&state.Phase,
			&state.OrganicCount,
			&state.ObfuscationCount,
			&state.LastOrganicAt,
			&state.LastObfuscationAt,
			&state.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan obfuscation state: %w", err)
		}
		states = append(states, state)
	}

	return states, rows.Err()
}

func (r *ObfuscationRepository) CreateEvent(ctx context.Context, event *model.ObfuscationEvent) error {
	query := `
		INSERT INTO obfuscation_events (id, card_id, profile_index, task_id, merchant_name, item_name, amount_cents, status, confirmation_id, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.CardID,
		event.ProfileIndex,
		event.TaskID,
		event.MerchantName,
		event.ItemName,
		event.AmountCents,
		event.Status,
		event.ConfirmationID,
		event.CreatedAt,
		event.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create obfuscation event: %w", err)
	}

	return nil
}

// GetEventByTaskID находит запланированное событие по task_id. Индекс
// профиля входит в условие: задача привязана к конкретному профилю, и
// повтор с чужим профилем ее не находит.
func (r *ObfuscationRepository) GetEventByTaskID(ctx context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error) {
	query := `
		SELECT id, card_id, profile_index, task_id, merchant_name, item_name, amount_cents, status, confirmation_id, created_at, completed_at
		FROM obfuscation_events
		WHERE card_id = $1 AND profile_index = $2 AND task_id = $3
	`

	var event model.ObfuscationEvent
	err := r.db.QueryRowContext(ctx, query, cardID, profileIndex, taskID).Scan(
		&event.ID,
		&event.CardID,
		&event.ProfileIndex,
		&event.TaskID,
		&event.MerchantName,
		&event.ItemName,
		&event.AmountCents,
		&event.Status,
		&event.ConfirmationID,
		&event.CreatedAt,
		&event.CompletedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get obfuscation event: %w", err)
	}

	return &event, nil
}

// CompleteEventByTaskID атомарно помечает запланированное событие
// выполненным. Повторный вызов по тому же task_id не находит pending
// записи и возвращает ErrTaskNotFound — завершение строго однократное.
// Лимит расходуется на профиль запроса, поэтому завершение засчитывается
// только событию того же профиля.
func (r *ObfuscationRepository) CompleteEventByTaskID(ctx context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error) {
	query := `
		UPDATE obfuscation_events
		SET status = 'completed',
		    completed_at = NOW()
		WHERE card_id = $1 AND profile_index = $2 AND task_id = $3 AND status = 'pending'
		RETURNING id, card_id, profile_index, task_id, merchant_name, item_name, amount_cents, status, confirmation_id, created_at, completed_at
	`

	var event model.ObfuscationEvent
	err := r.db.QueryRowContext(ctx, query, cardID, profileIndex, taskID).Scan(
		&event.ID,
		&event.CardID,
		&event.ProfileIndex,
		&event.TaskID,
		&event.MerchantName,
		&event.ItemName,
		&event.AmountCents,
		&event.Status,
		&event.ConfirmationID,
		&event.CreatedAt,
		&event.CompletedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to complete obfuscation event: %w", err)
	}

	return &event, nil
}

// ListPendingTasks возвращает незавершенные приманки по карте
func (r *ObfuscationRepository) ListPendingTasks(ctx context.Context, cardID uuid.UUID) ([]model.ObfuscationEvent, error) {
	query := `
		SELECT id, card_id, profile_index, task_id, merchant_name, item_name, amount_cents, status, confirmation_id, created_at, completed_at
		FROM obfuscation_events
		WHERE card_id = $1 AND status = 'pending'
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var events []model.ObfuscationEvent
	for rows.Next() {
		var event model.ObfuscationEvent
		if err := rows.Scan(
			&event.ID,
			&event.CardID,
			&event.ProfileIndex,
			&event.TaskID,
			&event.MerchantName,
			&event.ItemName,
			&event.AmountCents,
			&event.Status,
			&event.ConfirmationID,
			&event.CreatedAt,
			&event.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan obfuscation event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
