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

type CardRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewCardRepository(db *sql.DB, logger *logrus.Logger) *CardRepository {
	return &CardRepository{db: db, logger: logger}
}

// Create сохраняет карту вместе со всеми профилями и их политиками одной
// транзакцией: карта без полного набора профилей не должна существовать
func (r *CardRepository) Create(
	ctx context.Context,
	card *model.Card,
	profiles []model.CardProfile,
	permissions []model.ProfilePermission,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	cardQuery := `
		INSERT INTO cards (id, user_id, bot_id, status, missing_positions, real_profile_index, profile_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, cardQuery,
		card.ID,
		card.UserID,
		card.BotID,
		card.Status,
		pq.Array(card.MissingPositions),
		card.RealProfileIndex,
		card.ProfileCount,
		card.CreatedAt,
		card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}

	profileQuery := `
		INSERT INTO card_profiles (card_id, profile_index, holder_name, billing_zip, encrypted_data, hmac, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, p := range profiles {
		if _, err := tx.ExecContext(ctx, profileQuery,
			p.CardID, p.ProfileIndex, p.HolderName, p.BillingZip, p.EncryptedData, p.HMAC, p.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to create card profile %d: %w", p.ProfileIndex, err)
		}
	}

	permQuery := `
		INSERT INTO profile_permissions (card_id, profile_index, "window", allowance_cents, exempt_cents, mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, p := range permissions {
		if _, err := tx.ExecContext(ctx, permQuery,
			p.CardID, p.ProfileIndex, p.Window, p.AllowanceCents, p.ExemptCents, p.Mode, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create profile permission %d: %w", p.ProfileIndex, err)
		}
	}

	return tx.Commit()
}

func (r *CardRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	return r.scanCard(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, bot_id, status, missing_positions, real_profile_index, profile_count, created_at, updated_at
		FROM cards
		WHERE id = $1
	`, id))
}

func (r *CardRepository) GetByBotID(ctx context.Context, botID uuid.UUID) (*model.Card, error) {
	return r.scanCard(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, bot_id, status, missing_positions, real_profile_index, profile_count, created_at, updated_at
		FROM cards
		WHERE bot_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, botID))
}

func (r *CardRepository) scanCard(row *sql.Row) (*model.Card, error) {
	var card model.Card
	var positions pq.Int64Array
	err := row.Scan(
		&card.ID,
		&card.UserID,
		&card.BotID,
		&card.Status,
		&positions,
		&card.RealProfileIndex,
		&card.ProfileCount,
		&card.CreatedAt,
		&card.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	card.MissingPositions = positions
	return &card, nil
}

func (r *CardRepository) Activate(ctx context.Context, id, userID uuid.UUID) error {
	query := `
		UPDATE cards
		SET status = 'active',
		    updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending_setup'
	`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to activate card: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCardNotFound
	}

	return nil
}

func (r *CardRepository) GetProfile(ctx context.Context, cardID uuid.UUID, profileIndex int) (*model.CardProfile, error) {
	query := `
		SELECT card_id, profile_index, holder_name, billing_zip, encrypted_data, hmac, created_at
		FROM card_profiles
		WHERE card_id = $1 AND profile_index = $2
	`

	var profile model.CardProfile
	err := r.db.QueryRowContext(ctx, query, cardID, profileIndex).Scan(
		&profile.CardID,
		&profile.ProfileIndex,
		&profile.HolderName,
		&profile.BillingZip,
		&profile.EncryptedData,
		&profile.HMAC,
		&profile.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get card profile: %w", err)
	}

	return &profile, nil
}

func (r *CardRepository) GetPermission(ctx context.Context, cardID uuid.UUID, profileIndex int) (*model.ProfilePermission, error) {
	query := `
		SELECT card_id, profile_index, "window", allowance_cents, exempt_cents, mode, created_at, updated_at
		FROM profile_permissions
		WHERE card_id = $1 AND profile_index = $2
	`

	var perm model.ProfilePermission
	err := r.db.QueryRowContext(ctx, query, cardID, profileIndex).Scan(
		&perm.CardID,
		&perm.ProfileIndex,
		&perm.Window,
		&perm.AllowanceCents,
		&perm.ExemptCents,
		&perm.Mode,
		&perm.CreatedAt,
		&perm.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPermissionNotFound
		}
		return nil, fmt.Errorf("failed to get profile permission: %w", err)
	}

	return &perm, nil
}

func (r *CardRepository) ListPermissions(ctx context.Context, cardID uuid.UUID) ([]model.ProfilePermission, error) {
	query := `
		SELECT card_id, profile_index, "window", allowance_cents, exempt_cents, mode, created_at, updated_at
		FROM profile_permissions
		WHERE card_id = $1
		ORDER BY profile_index
	`

	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile permissions: %w", err)
	}
	defer rows.Close()

	var perms []model.ProfilePermission
	for rows.Next() {
		var perm model.ProfilePermission
		if err := rows.Scan(
			&perm.CardID,
			&perm.ProfileIndex,
			&perm.Window,
			&perm.AllowanceCents,
			&perm.ExemptCents,
			&perm.Mode,
			&perm.CreatedAt,
			&perm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile permission: %w", err)
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

func (r *CardRepository) UpdatePermission(ctx context.Context, cardID uuid.UUID, profileIndex int, req *model.UpdatePermissionRequest) error {
	query := `
		UPDATE profile_permissions
		SET "window" = $1,
		    allowance_cents = $2,
		    exempt_cents = $3,
		    mode = $4,
		    updated_at = NOW()
		WHERE card_id = $5 AND profile_index = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		req.Window, req.AllowanceCents, req.ExemptCents, req.Mode, cardID, profileIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile permission: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrPermissionNotFound
	}

	return nil
}

func (r *CardRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Card, error) {
	query := `
		SELECT id, user_id, bot_id, status, missing_positions, real_profile_index, profile_count, created_at, updated_at
		FROM cards
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user cards: %w", err)
	}
	defer rows.Close()

	var cards []model.Card
	for rows.Next() {
		var card model.Card
		var positions pq.Int64Array
		if err := rows.Scan(
			&card.ID,
			&card.UserID,
			&card.BotID,
			&card.Status,
			&positions,
			&card.RealProfileIndex,
			&card.ProfileCount,
			&card.CreatedAt,
			&card.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		card.MissingPositions = positions
		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return cards, nil
}
