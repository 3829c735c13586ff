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

// WalletService — управление предоплаченными кошельками ботов со стороны
// владельца: создание, пополнение, заморозка. Списания идут только через
// оркестратор покупок.
type WalletService struct {
	botRepo    BotStore
	walletRepo WalletStore
	logger     *logrus.Logger
}

func NewWalletService(botRepo BotStore, walletRepo WalletStore, logger *logrus.Logger) *WalletService {
	return &WalletService{
		botRepo:    botRepo,
		walletRepo: walletRepo,
		logger:     logger,
	}
}

// CreateBot создает бота вместе с пустым активным кошельком
func (s *WalletService) CreateBot(ctx context.Context, userID uuid.UUID, req *model.CreateBotRequest) (*model.Bot, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("имя бота обязательно")
	}

	bot := &model.Bot{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      req.Name,
		CreatedAt: time.Now(),
	}

	if err := s.botRepo.Create(ctx, bot); err != nil {
		s.logger.WithError(err).Error("Ошибка при создании бота")
		return nil, err
	}

	wallet := &model.Wallet{
		ID:        uuid.New(),
		BotID:     bot.ID,
		Frozen:    false,
		Status:    model.WalletStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		s.logger.WithError(err).Error("Ошибка при создании кошелька бота")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"bot_id":    bot.ID,
		"wallet_id": wallet.ID,
	}).Info("Создан бот с кошельком")

	return bot, nil
}

func (s *WalletService) ListBots(ctx context.Context, userID uuid.UUID) ([]model.Bot, error) {
	return s.botRepo.ListByUser(ctx, userID)
}

// GetWallet возвращает кошелек бота владельцу
func (s *WalletService) GetWallet(ctx context.Context, userID, botID uuid.UUID) (*model.WalletResponse, error) {
	wallet, err := s.ownedWallet(ctx, userID, botID)
	if err != nil {
		return nil, err
	}

	return walletResponse(wallet), nil
}

// Fund пополняет кошелек бота
func (s *WalletService) Fund(ctx context.Context, userID, botID uuid.UUID, req *model.FundWalletRequest) (*model.WalletResponse, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("сумма пополнения должна быть положительной")
	}

	wallet, err := s.ownedWallet(ctx, userID, botID)
	if err != nil {
		return nil, err
	}

	if err := s.walletRepo.Credit(ctx, wallet.ID, req.AmountCents); err != nil {
		s.logger.WithError(err).Error("Ошибка при пополнении кошелька")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id":    wallet.ID,
		"amount_cents": req.AmountCents,
	}).Info("Кошелек пополнен")

	updated, err := s.walletRepo.GetByID(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	return walletResponse(updated), nil
}

// SetFrozen замораживает или размораживает кошелек. Замороженный кошелек
// отклоняет реальные списания, ложная ветка продолжает работать.
func (s *WalletService) SetFrozen(ctx context.Context, userID, botID uuid.UUID, frozen bool) (*model.WalletResponse, error) {
	wallet, err := s.ownedWallet(ctx, userID, botID)
	if err != nil {
		return nil, err
	}

	if err := s.walletRepo.SetFrozen(ctx, wallet.ID, frozen); err != nil {
		s.logger.WithError(err).Error("Ошибка при изменении заморозки кошелька")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id": wallet.ID,
		"frozen":    frozen,
	}).Info("Статус заморозки кошелька изменен")

	wallet.Frozen = frozen
	return walletResponse(wallet), nil
}

func (s *WalletService) ownedWallet(ctx context.Context, userID, botID uuid.UUID) (*model.Wallet, error) {
	bot, err := s.botRepo.GetByID(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("бот не найден")
	}
	if bot.UserID != userID {
		return nil, fmt.Errorf("бот не найден")
	}

	wallet, err := s.walletRepo.GetByBotID(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, fmt.Errorf("кошелек не найден")
		}
		return nil, err
	}

	return wallet, nil
}

func walletResponse(wallet *model.Wallet) *model.WalletResponse {
	return &model.WalletResponse{
		ID:           wallet.ID,
		BotID:        wallet.BotID,
		BalanceCents: wallet.BalanceCents,
		BalanceUSD:   model.CentsToUSD(wallet.BalanceCents),
		Frozen:       wallet.Frozen,
		Status:       string(wallet.Status),
	}
}
