package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// StatsService собирает для владельца статистику трат по профилям карты
// и темп движка обфускации
type StatsService struct {
	cardRepo       CardStore
	allowanceRepo  AllowanceStore
	ledger         PurchaseLedger
	obfuscation    *ObfuscationService
	logger         *logrus.Logger
}

func NewStatsService(
	cardRepo CardStore,
	allowanceRepo AllowanceStore,
	ledger PurchaseLedger,
	obfuscation *ObfuscationService,
	logger *logrus.Logger,
) *StatsService {
	return &StatsService{
		cardRepo:      cardRepo,
		allowanceRepo: allowanceRepo,
		ledger:        ledger,
		obfuscation:   obfuscation,
		logger:        logger,
	}
}

// GetCardStats возвращает траты каждого профиля в его текущем окне плюс
// сводку обфускации. Реальный профиль в выдаче не выделяется ничем.
func (s *StatsService) GetCardStats(ctx context.Context, cardID, userID uuid.UUID) (*model.CardStats, error) {
	s.logger.WithFields(logrus.Fields{
		"card_id": cardID,
		"user_id": userID,
	}).Debug("Начало расчета статистики карты")

	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("карта не найдена")
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("карта не найдена")
	}

	permissions, err := s.cardRepo.ListPermissions(ctx, cardID)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения политик профилей")
		return nil, fmt.Errorf("не удалось получить политики профилей: %w", err)
	}

	now := time.Now()
	profiles := make([]model.ProfileSpendStats, 0, len(permissions))
	for _, perm := range permissions {
		windowStart := CanonicalWindowStart(perm.Window, now)
		usage, err := s.allowanceRepo.Get(ctx, cardID, perm.ProfileIndex, windowStart)
		if err != nil {
			s.logger.WithError(err).Errorf("Ошибка получения трат профиля %d", perm.ProfileIndex)
			continue
		}

		remaining := perm.AllowanceCents - usage.SpentCents
		if remaining < 0 {
			remaining = 0
		}

		profiles = append(profiles, model.ProfileSpendStats{
			ProfileIndex: perm.ProfileIndex,
			Window:       perm.Window,
			WindowStart:  windowStart,
			SpentUSD:     model.CentsToUSD(usage.SpentCents),
			AllowanceUSD: model.CentsToUSD(perm.AllowanceCents),
			RemainingUSD: model.CentsToUSD(remaining),
			ExemptUsed:   usage.ExemptUsed,
			ApprovalMode: perm.Mode,
		})
	}

	state, err := s.obfuscation.GetState(ctx, cardID)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения состояния обфускации")
		return nil, fmt.Errorf("не удалось получить состояние обфускации: %w", err)
	}

	stats := &model.CardStats{
		CardID:   cardID,
		Profiles: profiles,
		Pacing: model.PacingStats{
			Phase:             state.Phase,
			OrganicCount:      state.OrganicCount,
			ObfuscationCount:  state.ObfuscationCount,
			LastOrganicAt:     state.LastOrganicAt,
			LastObfuscationAt: state.LastObfuscationAt,
		},
	}

	s.logger.WithFields(logrus.Fields{
		"card_id":  cardID,
		"profiles": len(profiles),
		"phase":    state.Phase,
	}).Info("Статистика карты рассчитана")

	return stats, nil
}

// ListPurchases возвращает реальные покупки карты за период
func (s *StatsService) ListPurchases(ctx context.Context, cardID, userID uuid.UUID, startDate, endDate time.Time) ([]model.Purchase, error) {
	// Валидация дат
	if startDate.After(endDate) {
		s.logger.Warn("Дата начала периода позже даты окончания")
		return nil, fmt.Errorf("дата начала не может быть позже даты окончания")
	}

	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, fmt.Errorf("карта не найдена")
		}
		return nil, err
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("карта не найдена")
	}

	return s.ledger.ListByCard(ctx, cardID, startDate, endDate)
}
