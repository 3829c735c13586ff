package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// In-memory подмены хранилищ для тестов сервисов. Повторяют семантику
// SQL-репозиториев: охрана потолка лимита, условное списание, атомарные
// переходы статусов.

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeUserStore struct {
	users map[uuid.UUID]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*model.User)}
}

func (s *fakeUserStore) Create(_ context.Context, user *model.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("пользователь не найден")
}

func (s *fakeUserStore) ExistsByEmailOrUsername(_ context.Context, email, username string) (bool, error) {
	for _, u := range s.users {
		if u.Email == email || u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("пользователь не найден")
	}
	return u, nil
}

type fakeBotStore struct {
	bots map[uuid.UUID]*model.Bot
}

func newFakeBotStore() *fakeBotStore {
	return &fakeBotStore{bots: make(map[uuid.UUID]*model.Bot)}
}

func (s *fakeBotStore) Create(_ context.Context, bot *model.Bot) error {
	s.bots[bot.ID] = bot
	return nil
}

func (s *fakeBotStore) GetByID(_ context.Context, id uuid.UUID) (*model.Bot, error) {
	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("бот не найден")
	}
	return b, nil
}

func (s *fakeBotStore) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Bot, error) {
	var out []model.Bot
	for _, b := range s.bots {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeWalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*model.Wallet
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: make(map[uuid.UUID]*model.Wallet)}
}

func (s *fakeWalletStore) Create(_ context.Context, wallet *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[wallet.ID] = wallet
	return nil
}

func (s *fakeWalletStore) GetByID(_ context.Context, id uuid.UUID) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *fakeWalletStore) GetByBotID(_ context.Context, botID uuid.UUID) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.BotID == botID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, repository.ErrWalletNotFound
}

func (s *fakeWalletStore) Credit(_ context.Context, id uuid.UUID, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return repository.ErrWalletNotFound
	}
	w.BalanceCents += amountCents
	return nil
}

func (s *fakeWalletStore) SetFrozen(_ context.Context, id uuid.UUID, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return repository.ErrWalletNotFound
	}
	w.Frozen = frozen
	return nil
}

// debit повторяет условное списание SQL-репозитория
func (s *fakeWalletStore) debit(id uuid.UUID, amountCents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return 0, repository.ErrWalletNotFound
	}
	if w.Frozen || w.Status != model.WalletStatusActive || w.BalanceCents < amountCents {
		return 0, repository.ErrInsufficientFunds
	}
	w.BalanceCents -= amountCents
	return w.BalanceCents, nil
}

type profileKey struct {
	cardID uuid.UUID
	index  int
}

type fakeCardStore struct {
	cards    map[uuid.UUID]*model.Card
	profiles map[profileKey]*model.CardProfile
	perms    map[profileKey]*model.ProfilePermission
}

func newFakeCardStore() *fakeCardStore {
	return &fakeCardStore{
		cards:    make(map[uuid.UUID]*model.Card),
		profiles: make(map[profileKey]*model.CardProfile),
		perms:    make(map[profileKey]*model.ProfilePermission),
	}
}

func (s *fakeCardStore) Create(_ context.Context, card *model.Card, profiles []model.CardProfile, permissions []model.ProfilePermission) error {
	s.cards[card.ID] = card
	for i := range profiles {
		p := profiles[i]
		s.profiles[profileKey{p.CardID, p.ProfileIndex}] = &p
	}
	for i := range permissions {
		p := permissions[i]
		s.perms[profileKey{p.CardID, p.ProfileIndex}] = &p
	}
	return nil
}

func (s *fakeCardStore) GetByID(_ context.Context, id uuid.UUID) (*model.Card, error) {
	c, ok := s.cards[id]
	if !ok {
		return nil, repository.ErrCardNotFound
	}
	return c, nil
}

func (s *fakeCardStore) GetByBotID(_ context.Context, botID uuid.UUID) (*model.Card, error) {
	for _, c := range s.cards {
		if c.BotID == botID {
			return c, nil
		}
	}
	return nil, repository.ErrCardNotFound
}

func (s *fakeCardStore) Activate(_ context.Context, id, userID uuid.UUID) error {
	c, ok := s.cards[id]
	if !ok || c.UserID != userID || c.Status != model.CardStatusPendingSetup {
		return repository.ErrCardNotFound
	}
	c.Status = model.CardStatusActive
	return nil
}

func (s *fakeCardStore) GetProfile(_ context.Context, cardID uuid.UUID, profileIndex int) (*model.CardProfile, error) {
	p, ok := s.profiles[profileKey{cardID, profileIndex}]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeCardStore) GetPermission(_ context.Context, cardID uuid.UUID, profileIndex int) (*model.ProfilePermission, error) {
	p, ok := s.perms[profileKey{cardID, profileIndex}]
	if !ok {
		return nil, repository.ErrPermissionNotFound
	}
	return p, nil
}

func (s *fakeCardStore) ListPermissions(_ context.Context, cardID uuid.UUID) ([]model.ProfilePermission, error) {
	var out []model.ProfilePermission
	for key, p := range s.perms {
		if key.cardID == cardID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeCardStore) UpdatePermission(_ context.Context, cardID uuid.UUID, profileIndex int, req *model.UpdatePermissionRequest) error {
	p, ok := s.perms[profileKey{cardID, profileIndex}]
	if !ok {
		return repository.ErrPermissionNotFound
	}
	p.Window = req.Window
	p.AllowanceCents = req.AllowanceCents
	p.ExemptCents = req.ExemptCents
	p.Mode = req.Mode
	return nil
}

func (s *fakeCardStore) ListByUser(_ context.Context, userID uuid.UUID) ([]model.Card, error) {
	var out []model.Card
	for _, c := range s.cards {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type usageKey struct {
	cardID      uuid.UUID
	index       int
	windowStart time.Time
}

type fakeAllowanceStore struct {
	mu     sync.Mutex
	usages map[usageKey]*model.AllowanceUsage

	// afterGet срабатывает один раз после Get — имитация конкурентного
	// запроса, меняющего окно между проверкой и инкрементом
	afterGet func()
}

func newFakeAllowanceStore() *fakeAllowanceStore {
	return &fakeAllowanceStore{usages: make(map[usageKey]*model.AllowanceUsage)}
}

func (s *fakeAllowanceStore) Get(_ context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time) (*model.AllowanceUsage, error) {
	s.mu.Lock()
	cp := model.AllowanceUsage{
		CardID:       cardID,
		ProfileIndex: profileIndex,
		WindowStart:  windowStart,
	}
	if u, ok := s.usages[usageKey{cardID, profileIndex, windowStart}]; ok {
		cp = *u
	}
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &cp, nil
}

// Record повторяет охраняемый upsert: инкремент проходит только если
// итоговая сумма не превышает потолок
func (s *fakeAllowanceStore) Record(_ context.Context, cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(cardID, profileIndex, windowStart, amountCents, ceilingCents)
}

func (s *fakeAllowanceStore) recordLocked(cardID uuid.UUID, profileIndex int, windowStart time.Time, amountCents, ceilingCents int64) error {
	key := usageKey{cardID, profileIndex, windowStart}
	u, ok := s.usages[key]
	if !ok {
		u = &model.AllowanceUsage{CardID: cardID, ProfileIndex: profileIndex, WindowStart: windowStart}
		s.usages[key] = u
	}
	if u.SpentCents+amountCents > ceilingCents {
		return repository.ErrAllowanceExceeded
	}
	u.SpentCents += amountCents
	return nil
}

func (s *fakeAllowanceStore) claimExemptLocked(cardID uuid.UUID, profileIndex int, windowStart time.Time) error {
	key := usageKey{cardID, profileIndex, windowStart}
	u, ok := s.usages[key]
	if !ok {
		u = &model.AllowanceUsage{CardID: cardID, ProfileIndex: profileIndex, WindowStart: windowStart}
		s.usages[key] = u
	}
	if u.ExemptUsed {
		return repository.ErrExemptAlreadyUsed
	}
	u.ExemptUsed = true
	return nil
}

// fakeLedger повторяет транзакционную семантику завершения покупки:
// при сбое на любом шаге изменения предыдущих шагов откатываются
type fakeLedger struct {
	wallets   *fakeWalletStore
	allowance *fakeAllowanceStore
	mu        sync.Mutex
	purchases []model.Purchase
}

func newFakeLedger(wallets *fakeWalletStore, allowance *fakeAllowanceStore) *fakeLedger {
	return &fakeLedger{wallets: wallets, allowance: allowance}
}

func (l *fakeLedger) Finalize(_ context.Context, params repository.FinalizePurchaseParams) (int64, error) {
	l.allowance.mu.Lock()
	p := params.Purchase
	key := usageKey{p.CardID, p.ProfileIndex, params.WindowStart}

	var snapshot *model.AllowanceUsage
	if u, ok := l.allowance.usages[key]; ok {
		cp := *u
		snapshot = &cp
	}
	rollback := func() {
		if snapshot == nil {
			delete(l.allowance.usages, key)
		} else {
			cp := *snapshot
			l.allowance.usages[key] = &cp
		}
	}

	if params.MarkExempt {
		if err := l.allowance.claimExemptLocked(p.CardID, p.ProfileIndex, params.WindowStart); err != nil {
			l.allowance.mu.Unlock()
			return 0, err
		}
	}

	if err := l.allowance.recordLocked(p.CardID, p.ProfileIndex, params.WindowStart, p.AmountCents, params.CeilingCents); err != nil {
		rollback()
		l.allowance.mu.Unlock()
		return 0, err
	}

	newBalance, err := l.wallets.debit(params.WalletID, p.AmountCents)
	if err != nil {
		rollback()
		l.allowance.mu.Unlock()
		return 0, err
	}
	l.allowance.mu.Unlock()

	l.mu.Lock()
	l.purchases = append(l.purchases, *p)
	l.mu.Unlock()

	return newBalance, nil
}

func (l *fakeLedger) ListByCard(_ context.Context, cardID uuid.UUID, startDate, endDate time.Time) ([]model.Purchase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Purchase
	for _, p := range l.purchases {
		if p.CardID == cardID && !p.CreatedAt.Before(startDate) && p.CreatedAt.Before(endDate) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (l *fakeLedger) purchaseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.purchases)
}

type fakeConfirmationStore struct {
	mu    sync.Mutex
	confs map[uuid.UUID]*model.CheckoutConfirmation
}

func newFakeConfirmationStore() *fakeConfirmationStore {
	return &fakeConfirmationStore{confs: make(map[uuid.UUID]*model.CheckoutConfirmation)}
}

func (s *fakeConfirmationStore) Create(_ context.Context, conf *model.CheckoutConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conf
	s.confs[conf.ID] = &cp
	return nil
}

func (s *fakeConfirmationStore) GetByID(_ context.Context, id uuid.UUID) (*model.CheckoutConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confs[id]
	if !ok {
		return nil, repository.ErrConfirmationNotFound
	}
	cp := *c
	return &cp, nil
}

// Resolve повторяет атомарный переход pending -> approved/rejected
func (s *fakeConfirmationStore) Resolve(_ context.Context, id uuid.UUID, status model.ConfirmationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confs[id]
	if !ok {
		return repository.ErrConfirmationNotFound
	}
	if c.Status != model.ConfirmationPending || time.Now().After(c.ExpiresAt) {
		return repository.ErrAlreadyResolved
	}
	now := time.Now()
	c.Status = status
	c.ResolvedAt = &now
	return nil
}

func (s *fakeConfirmationStore) MarkExpired(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confs[id]
	if !ok {
		return repository.ErrConfirmationNotFound
	}
	if c.Status == model.ConfirmationPending {
		c.Status = model.ConfirmationExpired
	}
	return nil
}

func (s *fakeConfirmationStore) ExpireOverdue(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, c := range s.confs {
		if c.Status == model.ConfirmationPending && time.Now().After(c.ExpiresAt) {
			c.Status = model.ConfirmationExpired
			count++
		}
	}
	return count, nil
}

// setExpiresAt сдвигает срок жизни подтверждения для тестов просрочки
func (s *fakeConfirmationStore) setExpiresAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.confs[id]; ok {
		c.ExpiresAt = at
	}
}

type fakeObfuscationStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*model.ObfuscationState
	events []*model.ObfuscationEvent
}

func newFakeObfuscationStore() *fakeObfuscationStore {
	return &fakeObfuscationStore{states: make(map[uuid.UUID]*model.ObfuscationState)}
}

func (s *fakeObfuscationStore) stateLocked(cardID uuid.UUID) *model.ObfuscationState {
	st, ok := s.states[cardID]
	if !ok {
		st = &model.ObfuscationState{CardID: cardID, Phase: model.PhaseWarmup}
		s.states[cardID] = st
	}
	return st
}

func (s *fakeObfuscationStore) GetState(_ context.Context, cardID uuid.UUID) (*model.ObfuscationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.stateLocked(cardID)
	return &cp, nil
}

func (s *fakeObfuscationStore) RecordOrganic(_ context.Context, cardID uuid.UUID, warmupThreshold int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(cardID)
	st.OrganicCount++
	now := time.Now()
	st.LastOrganicAt = &now
	if st.Phase == model.PhaseWarmup && st.OrganicCount >= warmupThreshold {
		st.Phase = model.PhaseActive
	}
	return nil
}

func (s *fakeObfuscationStore) RecordObfuscation(_ context.Context, cardID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(cardID)
	st.ObfuscationCount++
	now := time.Now()
	st.LastObfuscationAt = &now
	return nil
}

func (s *fakeObfuscationStore) ListActiveStates(_ context.Context) ([]model.ObfuscationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ObfuscationState
	for _, st := range s.states {
		if st.Phase == model.PhaseActive {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *fakeObfuscationStore) CreateEvent(_ context.Context, event *model.ObfuscationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *fakeObfuscationStore) GetEventByTaskID(_ context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.CardID == cardID && e.ProfileIndex == profileIndex && e.TaskID == taskID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrTaskNotFound
}

// CompleteEventByTaskID повторяет атомарный переход pending -> completed
func (s *fakeObfuscationStore) CompleteEventByTaskID(_ context.Context, cardID uuid.UUID, profileIndex int, taskID string) (*model.ObfuscationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.CardID == cardID && e.ProfileIndex == profileIndex && e.TaskID == taskID && e.Status == model.ObfuscationEventPending {
			now := time.Now()
			e.Status = model.ObfuscationEventCompleted
			e.CompletedAt = &now
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrTaskNotFound
}

func (s *fakeObfuscationStore) ListPendingTasks(_ context.Context, cardID uuid.UUID) ([]model.ObfuscationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ObfuscationEvent
	for _, e := range s.events {
		if e.CardID == cardID && e.Status == model.ObfuscationEventPending {
			out = append(out, *e)
		}
	}
	return out, nil
}

// fakeCipher читает профиль как открытый текст "цифры|MM/YYYY" вместо PGP
type fakeCipher struct{}

func (fakeCipher) DecryptProfile(profile *model.CardProfile) (*model.CardProfileData, error) {
	parts := strings.Split(profile.EncryptedData, "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("неверный формат данных профиля")
	}
	expiry := strings.Split(parts[1], "/")
	if len(expiry) != 2 {
		return nil, fmt.Errorf("неверный формат срока действия")
	}
	month, _ := strconv.Atoi(expiry[0])
	year, _ := strconv.Atoi(expiry[1])
	return &model.CardProfileData{
		MissingDigits: parts[0],
		ExpiryMonth:   month,
		ExpiryYear:    year,
	}, nil
}

// fakeNotifier и fakeWebhook потокобезопасны: уведомления уходят из горутин
type fakeNotifier struct {
	mu            sync.Mutex
	confirmations int
	purchases     int
	declines      int
	lowBalance    int
}

func (n *fakeNotifier) SendConfirmationRequest(string, *model.CheckoutConfirmation, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations++
	return nil
}

func (n *fakeNotifier) SendPurchaseNotification(string, int64, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases++
	return nil
}

func (n *fakeNotifier) SendDeclineNotification(string, int64, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declines++
	return nil
}

func (n *fakeNotifier) SendLowBalanceAlert(string, int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowBalance++
	return nil
}

func (n *fakeNotifier) declineCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.declines
}

type fakeWebhook struct {
	mu     sync.Mutex
	events []string
}

func (w *fakeWebhook) Dispatch(event string, _ map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}
