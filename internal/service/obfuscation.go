package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// Каталог правдоподобных магазинов для приманок
var decoyCatalog = []struct {
	Merchant string
	Item     string
	MinCents int64
	MaxCents int64
}{
	{"Amazon", "USB-C Cable 2-Pack", 899, 2499},
	{"Amazon", "Desk Organizer", 1299, 3499},
	{"Walmart", "Household Essentials Bundle", 1599, 4999},
	{"Target", "Kitchen Storage Set", 999, 2999},
	{"Best Buy", "Wireless Mouse", 1499, 3999},
	{"Etsy", "Handmade Notebook", 799, 1899},
	{"eBay", "Phone Stand", 599, 1599},
	{"Staples", "Printer Paper Ream", 649, 1299},
}

// Минимальная пауза между приманками одной карты
const decoyMinInterval = 6 * time.Hour

// ObfuscationService ведет учет темпа реальных и ложных событий по карте
// и подсовывает планировщику новые приманки. Движок никогда не блокирует
// покупку — это чисто наблюдательная бухгалтерия.
type ObfuscationService struct {
	store           ObfuscationStore
	cardStore       CardStore
	warmupThreshold int64
	logger          *logrus.Logger
}

func NewObfuscationService(store ObfuscationStore, cardStore CardStore, warmupThreshold int64, logger *logrus.Logger) *ObfuscationService {
	return &ObfuscationService{
		store:           store,
		cardStore:       cardStore,
		warmupThreshold: warmupThreshold,
		logger:          logger,
	}
}

// RecordOrganic фиксирует реальную покупку: счетчик органики растет,
// фаза warmup переходит в active после порога
func (s *ObfuscationService) RecordOrganic(ctx context.Context, cardID uuid.UUID) {
	if err := s.store.RecordOrganic(ctx, cardID, s.warmupThreshold); err != nil {
		s.logger.WithError(err).Warn("Не удалось записать органическое событие")
	}
}

// RecordObfuscation фиксирует выполненную приманку
func (s *ObfuscationService) RecordObfuscation(ctx context.Context, cardID uuid.UUID) {
	if err := s.store.RecordObfuscation(ctx, cardID); err != nil {
		s.logger.WithError(err).Warn("Не удалось записать ложное событие")
	}
}

func (s *ObfuscationService) GetState(ctx context.Context, cardID uuid.UUID) (*model.ObfuscationState, error) {
	return s.store.GetState(ctx, cardID)
}

// FindCompletedTask проверяет, не была ли задача с этим task_id уже
// выполнена: повторный checkout с тем же task_id не должен удваивать
// ни счетчики, ни траты лимита. Повтором считается только запрос того
// же профиля, к которому привязана задача.
func (s *ObfuscationService) FindCompletedTask(ctx context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, bool) {
	if taskID == "" {
		return nil, false
	}

	event, err := s.store.GetEventByTaskID(ctx, cardID, profileIndex, taskID)
	if err != nil || event.Status != model.ObfuscationEventCompleted {
		return nil, false
	}

	return event, true
}

// CompleteOrCreate завершает запланированную приманку по task_id либо
// создает новое завершенное событие, если задачи нет. Счетчик ложных
// событий увеличивается ровно на единицу.
func (s *ObfuscationService) CompleteOrCreate(ctx context.Context, cardID uuid.UUID, profileIndex int, req *model.CheckoutRequest) (*model.ObfuscationEvent, error) {
	if req.TaskID != "" {
		event, err := s.store.CompleteEventByTaskID(ctx, cardID, profileIndex, req.TaskID)
		if err == nil {
			s.RecordObfuscation(ctx, cardID)
			return event, nil
		}
		if !errors.Is(err, repository.ErrTaskNotFound) {
			return nil, err
		}
		// Задачи с таким task_id нет — создаем обычное событие
	}

	now := time.Now()
	event := &model.ObfuscationEvent{
		ID:             uuid.New(),
		CardID:         cardID,
		ProfileIndex:   profileIndex,
		TaskID:         req.TaskID,
		MerchantName:   req.MerchantName,
		ItemName:       req.ItemName,
		AmountCents:    req.AmountCents,
		Status:         model.ObfuscationEventCompleted,
		ConfirmationID: uuid.New(),
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	s.RecordObfuscation(ctx, cardID)
	return event, nil
}

// ListPendingTasks возвращает боту запланированные приманки его карты
func (s *ObfuscationService) ListPendingTasks(ctx context.Context, cardID uuid.UUID) ([]model.DecoyTask, error) {
	events, err := s.store.ListPendingTasks(ctx, cardID)
	if err != nil {
		return nil, err
	}

	tasks := make([]model.DecoyTask, 0, len(events))
	for _, e := range events {
		tasks = append(tasks, model.DecoyTask{
			TaskID:       e.TaskID,
			ProfileIndex: e.ProfileIndex,
			MerchantName: e.MerchantName,
			ItemName:     e.ItemName,
			AmountCents:  e.AmountCents,
		})
	}

	return tasks, nil
}

// ScheduleDecoys — задача планировщика: для карт в фазе active, где
// приманки отстают от органики, создает новые pending задачи. Ложный
// трафик догоняет реальный, но не обгоняет его.
func (s *ObfuscationService) ScheduleDecoys(ctx context.Context) error {
	states, err := s.store.ListActiveStates(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения состояний обфускации")
		return err
	}

	scheduled := 0
	for _, state := range states {
		if state.ObfuscationCount >= state.OrganicCount {
			continue
		}
		if state.LastObfuscationAt != nil && time.Since(*state.LastObfuscationAt) < decoyMinInterval {
			continue
		}

		card, err := s.cardStore.GetByID(ctx, state.CardID)
		if err != nil || card.Status != model.CardStatusActive {
			continue
		}

		event := s.fabricateDecoy(card)
		if err := s.store.CreateEvent(ctx, event); err != nil {
			s.logger.WithError(err).Warnf("Не удалось запланировать приманку для карты %s", card.ID)
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		s.logger.WithField("count", scheduled).Info("Запланированы новые приманки")
	}

	return nil
}

// fabricateDecoy собирает правдоподобную приманку для случайного ложного
// профиля карты
func (s *ObfuscationService) fabricateDecoy(card *model.Card) *model.ObfuscationEvent {
	// Случайный индекс профиля, кроме реального
	profileIndex := rand.Intn(card.ProfileCount)
	if profileIndex == card.RealProfileIndex {
		profileIndex = (profileIndex + 1) % card.ProfileCount
	}

	entry := decoyCatalog[rand.Intn(len(decoyCatalog))]
	amount := entry.MinCents + rand.Int63n(entry.MaxCents-entry.MinCents+1)

	return &model.ObfuscationEvent{
		ID:             uuid.New(),
		CardID:         card.ID,
		ProfileIndex:   profileIndex,
		TaskID:         uuid.New().String(),
		MerchantName:   entry.Merchant,
		ItemName:       entry.Item,
		AmountCents:    amount,
		Status:         model.ObfuscationEventPending,
		ConfirmationID: uuid.New(),
		CreatedAt:      time.Now(),
	}
}
