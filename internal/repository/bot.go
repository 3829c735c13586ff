package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type BotRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewBotRepository(db *sql.DB, logger *logrus.Logger) *BotRepository {
	return &BotRepository{db: db, logger: logger}
}

func (r *BotRepository) Create(ctx context.Context, bot *model.Bot) error {
	query := `
		INSERT INTO bots (id, user_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, bot.ID, bot.UserID, bot.Name, bot.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code.Name() == "foreign_key_violation" {
				return fmt.Errorf("user not found")
			}
		}
		return fmt.Errorf("failed to create bot: %w", err)
	}

	return nil
}

func (r *BotRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Bot, error) {
	query := `
		SELECT id, user_id, name, created_at
		FROM bots
		WHERE id = $1
	`

	var bot model.Bot
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&bot.ID,
		&bot.UserID,
		&bot.Name,
		&bot.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("bot not found")
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}

	return &bot, nil
}

func (r *BotRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Bot, error) {
	query := `
		SELECT id, user_id, name, created_at
		FROM bots
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user bots: %w", err)
	}
	defer rows.Close()

	var bots []model.Bot
	for rows.Next() {
		var bot model.Bot
		if err := rows.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}

	return bots, rows.Err()
}
