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

// CheckoutService — точка входа для намерений покупки. Решает: одобрить,
// отклонить или отдать человеку, и ведет легенду прикрытия: ответы
// реальной и ложной ветки снаружи неразличимы.
type CheckoutService struct {
	userStore      UserStore
	cardStore      CardStore
	walletStore    WalletStore
	allowanceStore AllowanceStore
	ledger         PurchaseLedger
	approval       *ApprovalService
	obfuscation    *ObfuscationService
	cipher         ProfileCipher
	emailSender    Notifier
	webhooks       WebhookDispatcher

	confirmBaseURL           string
	lowBalanceThresholdCents int64

	logger *logrus.Logger
}

func NewCheckoutService(
	userStore UserStore,
	cardStore CardStore,
	walletStore WalletStore,
	allowanceStore AllowanceStore,
	ledger PurchaseLedger,
	approval *ApprovalService,
	obfuscation *ObfuscationService,
	cipher ProfileCipher,
	emailSender Notifier,
	webhooks WebhookDispatcher,
	confirmBaseURL string,
	lowBalanceThresholdCents int64,
	logger *logrus.Logger,
) *CheckoutService {
	return &CheckoutService{
		userStore:                userStore,
		cardStore:                cardStore,
		walletStore:              walletStore,
		allowanceStore:           allowanceStore,
		ledger:                   ledger,
		approval:                 approval,
		obfuscation:              obfuscation,
		cipher:                   cipher,
		emailSender:              emailSender,
		webhooks:                 webhooks,
		confirmBaseURL:           confirmBaseURL,
		lowBalanceThresholdCents: lowBalanceThresholdCents,
		logger:                   logger,
	}
}

// Checkout обрабатывает намерение покупки бота
func (s *CheckoutService) Checkout(ctx context.Context, botID uuid.UUID, req *model.CheckoutRequest) (*model.CheckoutResult, error) {
	s.logger.WithFields(logrus.Fields{
		"bot_id":        botID,
		"profile_index": req.ProfileIndex,
		"amount_cents":  req.AmountCents,
		"merchant":      req.MerchantName,
	}).Info("Получено намерение покупки")

	// 1. Кошелек бота должен быть активен
	wallet, err := s.walletStore.GetByBotID(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return s.decline(model.DeclineWalletNotActive, "кошелек бота не активен"), nil
		}
		return nil, err
	}
	if wallet.Status != model.WalletStatusActive {
		return s.decline(model.DeclineWalletNotActive, "кошелек бота не активен"), nil
	}

	// 2. Карта должна существовать и быть активной
	card, err := s.cardStore.GetByBotID(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return s.decline(model.DeclineCardNotActive, "карта не активна"), nil
		}
		return nil, err
	}
	if card.Status != model.CardStatusActive {
		return s.decline(model.DeclineCardNotActive, "карта не активна"), nil
	}

	// 3. Политика запрошенного профиля должна существовать
	if req.ProfileIndex >= card.ProfileCount {
		return s.decline(model.DeclineInvalidProfile, "неизвестный профиль карты"), nil
	}
	perm, err := s.cardStore.GetPermission(ctx, card.ID, req.ProfileIndex)
	if err != nil {
		if errors.Is(err, repository.ErrPermissionNotFound) {
			return s.decline(model.DeclineInvalidProfile, "неизвестный профиль карты"), nil
		}
		return nil, err
	}

	// 4. Проверка лимита окна
	windowStart := CanonicalWindowStart(perm.Window, time.Now())
	usage, err := s.allowanceStore.Get(ctx, card.ID, req.ProfileIndex, windowStart)
	if err != nil {
		return nil, err
	}
	if usage.SpentCents+req.AmountCents > perm.AllowanceCents {
		s.notifyDecline(ctx, card.UserID, req, string(model.DeclineAllowanceExceeded))
		return s.allowanceDecline(usage.SpentCents, perm.AllowanceCents), nil
	}

	// Маршрутизация: реальный профиль или приманка. Снаружи ветки
	// неразличимы — одинаковая форма ответа.
	if req.ProfileIndex == card.RealProfileIndex {
		return s.realBranch(ctx, card, wallet, perm, usage, windowStart, req)
	}
	return s.fakeBranch(ctx, card, perm, windowStart, req)
}

// realBranch — покупка с настоящего профиля: движение реальных денег
func (s *CheckoutService) realBranch(
	ctx context.Context,
	card *model.Card,
	wallet *model.Wallet,
	perm *model.ProfilePermission,
	usage *model.AllowanceUsage,
	windowStart time.Time,
	req *model.CheckoutRequest,
) (*model.CheckoutResult, error) {
	// a. Замороженный кошелек отклоняет любые реальные списания
	if wallet.Frozen {
		s.notifyDecline(ctx, card.UserID, req, string(model.DeclineWalletFrozen))
		return s.decline(model.DeclineWalletFrozen, "кошелек заморожен"), nil
	}

	// b. Быстрая проверка баланса; источник истины — само списание
	if wallet.BalanceCents < req.AmountCents {
		s.notifyDecline(ctx, card.UserID, req, string(model.DeclineInsufficientFunds))
		result := s.decline(model.DeclineInsufficientFunds, "недостаточно средств на кошельке")
		result.BalanceCents = wallet.BalanceCents
		return result, nil
	}

	// c. Нужно ли подтверждение человека
	needed, usesExemption := NeedsConfirmation(perm.Mode, req.AmountCents, perm.ExemptCents, usage.ExemptUsed)

	// d. Отложенный ответ: подтверждение выпущено, списания еще нет
	if needed {
		return s.requestConfirmation(ctx, card, wallet, req)
	}

	// e. Атомарное списание и учет
	result, err := s.finalizeReal(ctx, card, wallet, perm, windowStart, req, usesExemption, nil)
	if errors.Is(err, repository.ErrExemptAlreadyUsed) {
		// Льготу успел израсходовать конкурирующий запрос — покупка
		// уходит на обычное подтверждение
		return s.requestConfirmation(ctx, card, wallet, req)
	}
	return result, err
}

// finalizeReal завершает реальную покупку: одна транзакция на лимит,
// списание и запись, затем уведомления и подталкивание обфускации
func (s *CheckoutService) finalizeReal(
	ctx context.Context,
	card *model.Card,
	wallet *model.Wallet,
	perm *model.ProfilePermission,
	windowStart time.Time,
	req *model.CheckoutRequest,
	markExempt bool,
	confirmationID *uuid.UUID,
) (*model.CheckoutResult, error) {
	purchase := &model.Purchase{
		ID:             uuid.New(),
		CardID:         card.ID,
		BotID:          wallet.BotID,
		ProfileIndex:   req.ProfileIndex,
		MerchantName:   req.MerchantName,
		MerchantURL:    req.MerchantURL,
		ItemName:       req.ItemName,
		AmountCents:    req.AmountCents,
		Category:       req.Category,
		Status:         model.PurchaseCompleted,
		ConfirmationID: confirmationID,
		CreatedAt:      time.Now(),
	}

	newBalance, err := s.ledger.Finalize(ctx, repository.FinalizePurchaseParams{
		Purchase:     purchase,
		WalletID:     wallet.ID,
		WindowStart:  windowStart,
		CeilingCents: perm.AllowanceCents,
		MarkExempt:   markExempt,
	})

	if err != nil {
		switch {
		case errors.Is(err, repository.ErrExemptAlreadyUsed):
			return nil, err
		case errors.Is(err, repository.ErrAllowanceExceeded):
			usage, uerr := s.allowanceStore.Get(ctx, card.ID, req.ProfileIndex, windowStart)
			if uerr != nil {
				usage = &model.AllowanceUsage{SpentCents: perm.AllowanceCents}
			}
			s.notifyDecline(ctx, card.UserID, req, string(model.DeclineAllowanceExceeded))
			return s.allowanceDecline(usage.SpentCents, perm.AllowanceCents), nil
		case errors.Is(err, repository.ErrInsufficientFunds):
			// Гонка: баланс изменился между проверкой и списанием.
			// Отдельный код, без автоматического повтора.
			s.logger.WithField("wallet_id", wallet.ID).Warn("Списание не прошло из-за конкурентного изменения баланса")
			return s.decline(model.DeclineDebitFailed, "списание не выполнено, попробуйте еще раз"), nil
		default:
			s.logger.WithError(err).Error("Ошибка завершения покупки")
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"purchase_id":  purchase.ID,
		"amount_cents": purchase.AmountCents,
		"balance_left": newBalance,
	}).Info("Покупка одобрена и оплачена")

	// Уведомления строго best-effort: решение уже принято
	s.notifyPurchase(ctx, card.UserID, purchase)
	go func() {
		if err := s.webhooks.Dispatch("checkout.authorized", map[string]interface{}{
			"confirmation_id": purchase.ID.String(),
			"amount_usd":      model.CentsToUSD(purchase.AmountCents),
			"merchant_name":   purchase.MerchantName,
		}); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить вебхук authorized")
		}
	}()

	// Оповещение о низком балансе только по фронту пересечения порога,
	// а не на каждом списании ниже порога
	if newBalance < s.lowBalanceThresholdCents && newBalance+purchase.AmountCents >= s.lowBalanceThresholdCents {
		s.notifyLowBalance(ctx, card.UserID, newBalance)
	}

	// Каждая реальная покупка подталкивает темп приманок
	s.obfuscation.RecordOrganic(ctx, card.ID)

	// Восстанавливаем изъятые цифры реального профиля для ответа боту
	profile, err := s.cardStore.GetProfile(ctx, card.ID, card.RealProfileIndex)
	if err != nil {
		return nil, err
	}
	data, err := s.cipher.DecryptProfile(profile)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка расшифровки профиля после оплаты")
		return nil, err
	}

	resultConfirmation := purchase.ID
	if confirmationID != nil {
		resultConfirmation = *confirmationID
	}

	return &model.CheckoutResult{
		Status:         model.CheckoutApproved,
		Message:        "покупка одобрена",
		ConfirmationID: resultConfirmation,
		MissingDigits:  data.MissingDigits,
		ExpiryMonth:    data.ExpiryMonth,
		ExpiryYear:     data.ExpiryYear,
		AmountCents:    purchase.AmountCents,
		BalanceCents:   newBalance,
	}, nil
}

// requestConfirmation выпускает подтверждение и возвращает отложенный
// ответ. Кошелек на этом шаге не списывается.
func (s *CheckoutService) requestConfirmation(
	ctx context.Context,
	card *model.Card,
	wallet *model.Wallet,
	req *model.CheckoutRequest,
) (*model.CheckoutResult, error) {
	conf := &model.CheckoutConfirmation{
		CardID:       card.ID,
		BotID:        wallet.BotID,
		ProfileIndex: req.ProfileIndex,
		AmountCents:  req.AmountCents,
		MerchantName: req.MerchantName,
		MerchantURL:  req.MerchantURL,
		ItemName:     req.ItemName,
		Category:     req.Category,
	}

	if err := s.approval.Issue(ctx, conf); err != nil {
		return nil, err
	}

	// Письмо владельцу со ссылками на решение — не блокирует ответ
	if user, err := s.userStore.GetByID(ctx, card.UserID); err == nil && user.Email != "" {
		approveURL := fmt.Sprintf("%s/confirm/%s?token=%s", s.confirmBaseURL, conf.ID, conf.Token)
		rejectURL := fmt.Sprintf("%s/confirm/%s/reject?token=%s", s.confirmBaseURL, conf.ID, conf.Token)
		go func() {
			if err := s.emailSender.SendConfirmationRequest(user.Email, conf, approveURL, rejectURL); err != nil {
				s.logger.WithError(err).Warn("Не удалось отправить email с запросом подтверждения")
			}
		}()
	}

	return &model.CheckoutResult{
		Status:         model.CheckoutPending,
		Message:        "покупка ожидает подтверждения владельца",
		ConfirmationID: conf.ID,
		ExpiresAt:      conf.ExpiresAt,
		AmountCents:    conf.AmountCents,
	}, nil
}

// CompleteConfirmed завершает покупку после одобрения человеком.
// Вызывается ровно один раз: переход pending -> approved атомарен.
func (s *CheckoutService) CompleteConfirmed(ctx context.Context, conf *model.CheckoutConfirmation) (*model.CheckoutResult, error) {
	card, err := s.cardStore.GetByID(ctx, conf.CardID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.walletStore.GetByBotID(ctx, conf.BotID)
	if err != nil {
		return nil, err
	}

	perm, err := s.cardStore.GetPermission(ctx, card.ID, conf.ProfileIndex)
	if err != nil {
		return nil, err
	}

	req := &model.CheckoutRequest{
		ProfileIndex: conf.ProfileIndex,
		MerchantName: conf.MerchantName,
		MerchantURL:  conf.MerchantURL,
		ItemName:     conf.ItemName,
		AmountCents:  conf.AmountCents,
		Category:     conf.Category,
	}

	// Окно берется на момент завершения: лимит охраняется заново внутри
	// той же транзакции, что и списание
	windowStart := CanonicalWindowStart(perm.Window, time.Now())
	return s.finalizeReal(ctx, card, wallet, perm, windowStart, req, false, &conf.ID)
}

// fakeBranch — покупка с ложного профиля: реальные деньги не двигаются,
// но приманка потребляет свое окно лимита, чтобы статистика выглядела
// органично
func (s *CheckoutService) fakeBranch(
	ctx context.Context,
	card *model.Card,
	perm *model.ProfilePermission,
	windowStart time.Time,
	req *model.CheckoutRequest,
) (*model.CheckoutResult, error) {
	profile, err := s.cardStore.GetProfile(ctx, card.ID, req.ProfileIndex)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return s.decline(model.DeclineInvalidProfile, "неизвестный профиль карты"), nil
		}
		return nil, err
	}

	data, err := s.cipher.DecryptProfile(profile)
	if err != nil {
		return nil, err
	}

	// Повтор по тому же task_id: ничего не удваиваем
	if event, done := s.obfuscation.FindCompletedTask(ctx, card.ID, req.ProfileIndex, req.TaskID); done {
		return s.fakeApproved(event.ConfirmationID, data, req.AmountCents), nil
	}

	// Приманка расходует лимит своего профиля с той же охраной потолка.
	// Владелец видит этот отказ так же, как отказ на предварительной
	// проверке.
	if err := s.allowanceStore.Record(ctx, card.ID, req.ProfileIndex, windowStart, req.AmountCents, perm.AllowanceCents); err != nil {
		if errors.Is(err, repository.ErrAllowanceExceeded) {
			usage, uerr := s.allowanceStore.Get(ctx, card.ID, req.ProfileIndex, windowStart)
			if uerr != nil {
				usage = &model.AllowanceUsage{SpentCents: perm.AllowanceCents}
			}
			s.notifyDecline(ctx, card.UserID, req, string(model.DeclineAllowanceExceeded))
			return s.allowanceDecline(usage.SpentCents, perm.AllowanceCents), nil
		}
		return nil, err
	}

	event, err := s.obfuscation.CompleteOrCreate(ctx, card.ID, req.ProfileIndex, req)
	if err != nil {
		return nil, err
	}

	// В ответе только сфабрикованные данные профиля — никогда реальные
	return s.fakeApproved(event.ConfirmationID, data, req.AmountCents), nil
}

// ListDecoyTasks отдает боту запланированные приманки его карты
func (s *CheckoutService) ListDecoyTasks(ctx context.Context, botID uuid.UUID) ([]model.DecoyTask, error) {
	card, err := s.cardStore.GetByBotID(ctx, botID)
	if err != nil {
		return nil, err
	}

	return s.obfuscation.ListPendingTasks(ctx, card.ID)
}

func (s *CheckoutService) fakeApproved(confirmationID uuid.UUID, data *model.CardProfileData, amountCents int64) *model.CheckoutResult {
	return &model.CheckoutResult{
		Status:         model.CheckoutApproved,
		Message:        "покупка одобрена",
		ConfirmationID: confirmationID,
		MissingDigits:  data.MissingDigits,
		ExpiryMonth:    data.ExpiryMonth,
		ExpiryYear:     data.ExpiryYear,
		AmountCents:    amountCents,
	}
}

func (s *CheckoutService) decline(reason model.DeclineReason, message string) *model.CheckoutResult {
	return &model.CheckoutResult{
		Status:  model.CheckoutDeclined,
		Reason:  reason,
		Message: message,
	}
}

func (s *CheckoutService) allowanceDecline(spentCents, allowanceCents int64) *model.CheckoutResult {
	remaining := allowanceCents - spentCents
	if remaining < 0 {
		remaining = 0
	}
	return &model.CheckoutResult{
		Status:         model.CheckoutDeclined,
		Reason:         model.DeclineAllowanceExceeded,
		Message:        "превышен лимит трат в текущем окне",
		SpentCents:     spentCents,
		AllowanceCents: allowanceCents,
		RemainingCents: remaining,
	}
}

// notifyDecline — best-effort уведомления об отказе по политике
func (s *CheckoutService) notifyDecline(ctx context.Context, userID uuid.UUID, req *model.CheckoutRequest, reason string) {
	go func() {
		if err := s.webhooks.Dispatch("checkout.declined", map[string]interface{}{
			"reason":        reason,
			"merchant_name": req.MerchantName,
			"amount_usd":    model.CentsToUSD(req.AmountCents),
		}); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить вебхук declined")
		}
	}()

	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil || user.Email == "" {
		return
	}
	go func() {
		if err := s.emailSender.SendDeclineNotification(user.Email, req.AmountCents, req.MerchantName, reason); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить email об отказе")
		}
	}()
}

func (s *CheckoutService) notifyPurchase(ctx context.Context, userID uuid.UUID, purchase *model.Purchase) {
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil || user.Email == "" {
		return
	}
	go func() {
		if err := s.emailSender.SendPurchaseNotification(user.Email, purchase.AmountCents, purchase.MerchantName, purchase.ItemName); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить email о покупке")
		}
	}()
}

func (s *CheckoutService) notifyLowBalance(ctx context.Context, userID uuid.UUID, balanceCents int64) {
	go func() {
		if err := s.webhooks.Dispatch("wallet.low_balance", map[string]interface{}{
			"balance_usd": model.CentsToUSD(balanceCents),
		}); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить вебхук low_balance")
		}
	}()

	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil || user.Email == "" {
		return
	}
	go func() {
		if err := s.emailSender.SendLowBalanceAlert(user.Email, balanceCents); err != nil {
			s.logger.WithError(err).Warn("Не удалось отправить email о низком балансе")
		}
	}()
}
