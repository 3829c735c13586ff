package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

// Ошибки разрешения подтверждений. Текст нарочно не уточняет, какая
// именно проверка не прошла.
var (
	ErrInvalidToken        = errors.New("невалидный токен подтверждения")
	ErrConfirmationExpired = errors.New("срок подтверждения истек")
)

// ApprovalService выпускает и разрешает подписанные запросы на
// подтверждение покупки человеком. Секрет подписи хранится только на
// сервере и никогда не попадает ни боту, ни в ложную ветку.
type ApprovalService struct {
	confirmationStore ConfirmationStore
	hmacKey           []byte
	ttl               time.Duration
	logger            *logrus.Logger
}

func NewApprovalService(confirmationStore ConfirmationStore, hmacKey []byte, ttl time.Duration, logger *logrus.Logger) *ApprovalService {
	return &ApprovalService{
		confirmationStore: confirmationStore,
		hmacKey:           hmacKey,
		ttl:               ttl,
		logger:            logger,
	}
}

// Issue выпускает подтверждение: непрозрачный идентификатор, HMAC-токен
// и абсолютный срок жизни
func (s *ApprovalService) Issue(ctx context.Context, conf *model.CheckoutConfirmation) error {
	now := time.Now()
	conf.ID = uuid.New()
	conf.Token = s.SignToken(conf.ID)
	conf.Status = model.ConfirmationPending
	conf.ExpiresAt = now.Add(s.ttl)
	conf.CreatedAt = now

	if err := s.confirmationStore.Create(ctx, conf); err != nil {
		s.logger.WithError(err).Error("Ошибка при сохранении подтверждения")
		return fmt.Errorf("ошибка создания подтверждения: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"confirmation_id": conf.ID,
		"amount_cents":    conf.AmountCents,
		"expires_at":      conf.ExpiresAt,
	}).Info("Выпущен запрос на подтверждение покупки")

	return nil
}

// SignToken вычисляет HMAC-SHA256 от идентификатора подтверждения
func (s *ApprovalService) SignToken(id uuid.UUID) string {
	h := hmac.New(sha256.New, s.hmacKey)
	h.Write([]byte(id.String()))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifyToken сверяет токен за постоянное время
func (s *ApprovalService) VerifyToken(id uuid.UUID, token string) bool {
	expected := s.SignToken(id)
	return hmac.Equal([]byte(expected), []byte(token))
}

// Resolve принимает решение человека. Токен проверяется до всего
// остального; просроченное подтверждение закрывается отказом, даже если
// токен валиден; переход pending -> approved/rejected выигрывает ровно
// один вызов.
func (s *ApprovalService) Resolve(ctx context.Context, id uuid.UUID, token string, approve bool) (*model.CheckoutConfirmation, error) {
	if !s.VerifyToken(id, token) {
		s.logger.WithField("confirmation_id", id).Warn("Отклонен невалидный токен подтверждения")
		return nil, ErrInvalidToken
	}

	conf, err := s.confirmationStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if time.Now().After(conf.ExpiresAt) {
		// Просрочку фиксируем и закрываемся отказом
		if err := s.confirmationStore.MarkExpired(ctx, id); err != nil {
			s.logger.WithError(err).Warn("Не удалось пометить подтверждение просроченным")
		}
		s.logger.WithField("confirmation_id", id).Warn("Решение пришло после истечения срока подтверждения")
		return nil, ErrConfirmationExpired
	}

	status := model.ConfirmationRejected
	if approve {
		status = model.ConfirmationApproved
	}

	if err := s.confirmationStore.Resolve(ctx, id, status); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"confirmation_id": id,
		"status":          status,
	}).Info("Подтверждение разрешено")

	conf.Status = status
	return conf, nil
}

// Status возвращает статус подтверждения для поллинга бота. Просроченный
// pending отдается как expired, не дожидаясь планировщика.
func (s *ApprovalService) Status(ctx context.Context, id uuid.UUID) (model.ConfirmationStatus, error) {
	conf, err := s.confirmationStore.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	if conf.Status == model.ConfirmationPending && time.Now().After(conf.ExpiresAt) {
		return model.ConfirmationExpired, nil
	}

	return conf.Status, nil
}

// ExpireOverdue — задача планировщика: закрывает все просроченные pending
func (s *ApprovalService) ExpireOverdue(ctx context.Context) error {
	count, err := s.confirmationStore.ExpireOverdue(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка при закрытии просроченных подтверждений")
		return err
	}

	if count > 0 {
		s.logger.WithField("count", count).Info("Просроченные подтверждения закрыты")
	}

	return nil
}
