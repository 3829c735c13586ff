package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// Тестовое окружение оркестратора: карта с тремя профилями, настоящий —
// с индексом 1
type checkoutEnv struct {
	svc       *CheckoutService
	approval  *ApprovalService
	users     *fakeUserStore
	cards     *fakeCardStore
	wallets   *fakeWalletStore
	allowance *fakeAllowanceStore
	ledger    *fakeLedger
	confStore *fakeConfirmationStore
	obfStore  *fakeObfuscationStore
	notifier  *fakeNotifier
	webhook   *fakeWebhook

	userID   uuid.UUID
	botID    uuid.UUID
	walletID uuid.UUID
	cardID   uuid.UUID
}

const (
	realProfileIndex = 1
	realDigits       = "1234"
)

func newCheckoutEnv(t *testing.T, perm model.UpdatePermissionRequest, balanceCents int64) *checkoutEnv {
	t.Helper()

	env := &checkoutEnv{
		users:     newFakeUserStore(),
		cards:     newFakeCardStore(),
		wallets:   newFakeWalletStore(),
		allowance: newFakeAllowanceStore(),
		confStore: newFakeConfirmationStore(),
		obfStore:  newFakeObfuscationStore(),
		notifier:  &fakeNotifier{},
		webhook:   &fakeWebhook{},
		userID:    uuid.New(),
		botID:     uuid.New(),
		walletID:  uuid.New(),
		cardID:    uuid.New(),
	}
	env.ledger = newFakeLedger(env.wallets, env.allowance)

	ctx := context.Background()
	logger := testLogger()

	env.users.Create(ctx, &model.User{ID: env.userID, Username: "owner", Email: "owner@example.com"})
	env.wallets.Create(ctx, &model.Wallet{
		ID:           env.walletID,
		BotID:        env.botID,
		BalanceCents: balanceCents,
		Status:       model.WalletStatusActive,
	})

	card := &model.Card{
		ID:               env.cardID,
		UserID:           env.userID,
		BotID:            env.botID,
		Status:           model.CardStatusActive,
		MissingPositions: []int64{3, 7, 11, 15},
		RealProfileIndex: realProfileIndex,
		ProfileCount:     3,
	}
	profiles := []model.CardProfile{
		{CardID: env.cardID, ProfileIndex: 0, EncryptedData: "9876|09/2028"},
		{CardID: env.cardID, ProfileIndex: 1, EncryptedData: realDigits + "|06/2027"},
		{CardID: env.cardID, ProfileIndex: 2, EncryptedData: "5555|01/2029"},
	}
	permissions := make([]model.ProfilePermission, 0, 3)
	for i := 0; i < 3; i++ {
		permissions = append(permissions, model.ProfilePermission{
			CardID:         env.cardID,
			ProfileIndex:   i,
			Window:         perm.Window,
			AllowanceCents: perm.AllowanceCents,
			ExemptCents:    perm.ExemptCents,
			Mode:           perm.Mode,
		})
	}
	env.cards.Create(ctx, card, profiles, permissions)

	key := []byte("0123456789abcdef0123456789abcdef")
	env.approval = NewApprovalService(env.confStore, key, 15*time.Minute, logger)
	obfuscation := NewObfuscationService(env.obfStore, env.cards, 5, logger)

	env.svc = NewCheckoutService(
		env.users,
		env.cards,
		env.wallets,
		env.allowance,
		env.ledger,
		env.approval,
		obfuscation,
		fakeCipher{},
		env.notifier,
		env.webhook,
		"http://localhost:8080",
		1000,
		logger,
	)

	return env
}

func checkoutReq(profileIndex int, amountCents int64) *model.CheckoutRequest {
	return &model.CheckoutRequest{
		ProfileIndex: profileIndex,
		MerchantName: "Amazon",
		MerchantURL:  "https://amazon.com/item",
		ItemName:     "Wireless Mouse",
		AmountCents:  amountCents,
	}
}

func (env *checkoutEnv) balance(t *testing.T) int64 {
	t.Helper()
	w, err := env.wallets.GetByID(context.Background(), env.walletID)
	if err != nil {
		t.Fatalf("получение кошелька: %v", err)
	}
	return w.BalanceCents
}

// Сценарий: потолок дневного лимита выбран полностью, следующая покупка
// отклоняется с нулевым остатком
func TestCheckoutDailyCeilingExactlyReached(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 5000,
		Mode:           model.ApprovalNone,
	}, 100000)
	ctx := context.Background()

	first, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 5000))
	if err != nil {
		t.Fatalf("первая покупка: %v", err)
	}
	if first.Status != model.CheckoutApproved {
		t.Fatalf("первая покупка: статус %s, ожидалось approved", first.Status)
	}

	second, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 1))
	if err != nil {
		t.Fatalf("вторая покупка: %v", err)
	}
	if second.Status != model.CheckoutDeclined || second.Reason != model.DeclineAllowanceExceeded {
		t.Fatalf("вторая покупка: %s/%s, ожидался отказ allowance_exceeded", second.Status, second.Reason)
	}
	if second.RemainingCents != 0 {
		t.Errorf("остаток = %d, ожидалось 0", second.RemainingCents)
	}
	if second.SpentCents != 5000 {
		t.Errorf("потрачено = %d, ожидалось 5000", second.SpentCents)
	}
	if got := env.balance(t); got != 95000 {
		t.Errorf("баланс = %d, ожидалось 95000 (списана только первая покупка)", got)
	}
}

// Сценарий: льгота above_exempt расходуется ровно один раз за окно
func TestCheckoutExemptOncePerWindow(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		ExemptCents:    1000,
		Mode:           model.ApprovalAboveExempt,
	}, 10000)
	ctx := context.Background()

	first, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 800))
	if err != nil {
		t.Fatalf("первая покупка: %v", err)
	}
	if first.Status != model.CheckoutApproved {
		t.Fatalf("первая покупка: статус %s, ожидалось approved без подтверждения", first.Status)
	}
	if got := env.balance(t); got != 9200 {
		t.Errorf("баланс = %d, ожидалось 9200", got)
	}

	// Вторая мелкая покупка в том же окне уходит на подтверждение
	second, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 500))
	if err != nil {
		t.Fatalf("вторая покупка: %v", err)
	}
	if second.Status != model.CheckoutPending {
		t.Fatalf("вторая покупка: статус %s, ожидалось pending_confirmation", second.Status)
	}
	if got := env.balance(t); got != 9200 {
		t.Errorf("баланс = %d, отложенная покупка не должна списывать", got)
	}
}

// Сценарий: замороженный кошелек отклоняет любую сумму без следов в лимите
func TestCheckoutFrozenWallet(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		Mode:           model.ApprovalNone,
	}, 10000)
	ctx := context.Background()

	env.wallets.SetFrozen(ctx, env.walletID, true)

	result, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 100))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != model.CheckoutDeclined || result.Reason != model.DeclineWalletFrozen {
		t.Fatalf("статус %s/%s, ожидался отказ wallet_frozen", result.Status, result.Reason)
	}
	if got := env.balance(t); got != 10000 {
		t.Errorf("баланс = %d, заморозка не должна менять баланс", got)
	}

	windowStart := CanonicalWindowStart(model.WindowDay, time.Now())
	usage, _ := env.allowance.Get(ctx, env.cardID, realProfileIndex, windowStart)
	if usage.SpentCents != 0 {
		t.Errorf("лимит = %d, отказ не должен расходовать лимит", usage.SpentCents)
	}
}

// Сценарий: недостаточно средств — отказ с балансом, без попытки списания
func TestCheckoutInsufficientFunds(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		Mode:           model.ApprovalNone,
	}, 500)
	ctx := context.Background()

	result, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 1000))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != model.CheckoutDeclined || result.Reason != model.DeclineInsufficientFunds {
		t.Fatalf("статус %s/%s, ожидался отказ insufficient_funds", result.Status, result.Reason)
	}
	if result.BalanceCents != 500 {
		t.Errorf("баланс в ответе = %d, ожидалось 500", result.BalanceCents)
	}
	if env.ledger.purchaseCount() != 0 {
		t.Error("отказ не должен создавать запись о покупке")
	}
	if got := env.balance(t); got != 500 {
		t.Errorf("баланс = %d, ожидалось 500", got)
	}
}

// Ложная ветка: ответ неотличим по форме, но реальные данные карты
// никогда не утекают и деньги не двигаются
func TestCheckoutFakeBranchIsolation(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		Mode:           model.ApprovalNone,
	}, 10000)
	ctx := context.Background()

	result, err := env.svc.Checkout(ctx, env.botID, checkoutReq(0, 2500))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != model.CheckoutApproved {
		t.Fatalf("статус %s, ложная ветка должна одобрять", result.Status)
	}
	if result.MissingDigits == realDigits {
		t.Fatal("ложная ветка вернула настоящие цифры карты")
	}
	if result.MissingDigits != "9876" {
		t.Errorf("цифры = %s, ожидались данные ложного профиля", result.MissingDigits)
	}
	if result.ConfirmationID == uuid.Nil {
		t.Error("одобрение без confirmation_id")
	}

	if got := env.balance(t); got != 10000 {
		t.Errorf("баланс = %d, ложная ветка не должна списывать деньги", got)
	}
	if env.ledger.purchaseCount() != 0 {
		t.Error("ложная ветка не должна создавать реальные покупки")
	}

	// Приманка расходует лимит собственного профиля
	windowStart := CanonicalWindowStart(model.WindowDay, time.Now())
	usage, _ := env.allowance.Get(ctx, env.cardID, 0, windowStart)
	if usage.SpentCents != 2500 {
		t.Errorf("лимит ложного профиля = %d, ожидалось 2500", usage.SpentCents)
	}
	realUsage, _ := env.allowance.Get(ctx, env.cardID, realProfileIndex, windowStart)
	if realUsage.SpentCents != 0 {
		t.Errorf("лимит настоящего профиля = %d, ложная ветка не должна его трогать", realUsage.SpentCents)
	}
}

// Ложная ветка уважает потолок лимита своего профиля
func TestCheckoutFakeBranchAllowanceCeiling(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 2000,
		Mode:           model.ApprovalNone,
	}, 10000)
	ctx := context.Background()

	result, err := env.svc.Checkout(ctx, env.botID, checkoutReq(0, 2500))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != model.CheckoutDeclined || result.Reason != model.DeclineAllowanceExceeded {
		t.Fatalf("статус %s/%s, ожидался отказ allowance_exceeded", result.Status, result.Reason)
	}
}

// Гонка в ложной ветке: окно заполнил конкурирующий запрос между
// проверкой и инкрементом. Отказ тот же, и владелец уведомляется так же,
// как при отказе на предварительной проверке.
func TestCheckoutFakeBranchRaceDeclineNotifies(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 2000,
		Mode:           model.ApprovalNone,
	}, 10000)
	ctx := context.Background()

	// Конкурент съедает окно сразу после предварительной проверки
	windowStart := CanonicalWindowStart(model.WindowDay, time.Now())
	env.allowance.afterGet = func() {
		env.allowance.Record(ctx, env.cardID, 0, windowStart, 1800, 2000)
	}

	result, err := env.svc.Checkout(ctx, env.botID, checkoutReq(0, 500))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != model.CheckoutDeclined || result.Reason != model.DeclineAllowanceExceeded {
		t.Fatalf("статус %s/%s, ожидался отказ allowance_exceeded", result.Status, result.Reason)
	}
	if result.SpentCents != 1800 {
		t.Errorf("потрачено = %d, ожидалось 1800", result.SpentCents)
	}

	// Уведомление уходит из горутины — ждем с дедлайном
	deadline := time.Now().Add(2 * time.Second)
	for env.notifier.declineCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("владелец не уведомлен об отказе в гонке ложной ветки")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Сценарий: повтор checkout с тем же task_id не удваивает ни счетчик
// приманок, ни траты лимита
func TestCheckoutDecoyTaskIdempotent(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		Mode:           model.ApprovalNone,
	}, 10000)
	ctx := context.Background()

	taskID := uuid.New().String()
	env.obfStore.CreateEvent(ctx, &model.ObfuscationEvent{
		ID:             uuid.New(),
		CardID:         env.cardID,
		ProfileIndex:   0,
		TaskID:         taskID,
		MerchantName:   "Target",
		ItemName:       "Kitchen Storage Set",
		AmountCents:    1500,
		Status:         model.ObfuscationEventPending,
		ConfirmationID: uuid.New(),
		CreatedAt:      time.Now(),
	})

	req := checkoutReq(0, 1500)
	req.TaskID = taskID

	first, err := env.svc.Checkout(ctx, env.botID, req)
	if err != nil {
		t.Fatalf("первый вызов: %v", err)
	}
	if first.Status != model.CheckoutApproved {
		t.Fatalf("первый вызов: статус %s, ожидалось approved", first.Status)
	}

	state, _ := env.obfStore.GetState(ctx, env.cardID)
	if state.ObfuscationCount != 1 {
		t.Fatalf("счетчик приманок = %d, ожидалось 1", state.ObfuscationCount)
	}

	// Повтор: задача уже выполнена, ничего не удваивается
	second, err := env.svc.Checkout(ctx, env.botID, req)
	if err != nil {
		t.Fatalf("повторный вызов: %v", err)
	}
	if second.Status != model.CheckoutApproved {
		t.Fatalf("повторный вызов: статус %s, ожидалось approved", second.Status)
	}
	if second.ConfirmationID != first.ConfirmationID {
		t.Error("повтор вернул другой confirmation_id")
	}

	state, _ = env.obfStore.GetState(ctx, env.cardID)
	if state.ObfuscationCount != 1 {
		t.Errorf("счетчик приманок после повтора = %d, ожидалось 1", state.ObfuscationCount)
	}

	windowStart := CanonicalWindowStart(model.WindowDay, time.Now())
	usage, _ := env.allowance.Get(ctx, env.cardID, 0, windowStart)
	if usage.SpentCents != 1500 {
		t.Errorf("лимит = %d, повтор не должен расходовать лимит снова", usage.SpentCents)
	}
}

// Полный цикл подтверждения: pending -> одобрение владельцем -> списание,
// ровно одно даже при повторном одобрении
func TestCheckoutConfirmationFlowSingleDebit(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 100000,
		Mode:           model.ApprovalAll,
	}, 10000)
	ctx := context.Background()

	pending, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 3000))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if pending.Status != model.CheckoutPending {
		t.Fatalf("статус %s, ожидалось pending_confirmation", pending.Status)
	}
	if got := env.balance(t); got != 10000 {
		t.Fatalf("баланс = %d, до одобрения списания быть не должно", got)
	}

	stored, err := env.confStore.GetByID(ctx, pending.ConfirmationID)
	if err != nil {
		t.Fatalf("подтверждение не сохранено: %v", err)
	}

	conf, err := env.approval.Resolve(ctx, stored.ID, stored.Token, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := env.svc.CompleteConfirmed(ctx, conf)
	if err != nil {
		t.Fatalf("CompleteConfirmed: %v", err)
	}
	if result.Status != model.CheckoutApproved {
		t.Fatalf("статус %s, ожидалось approved", result.Status)
	}
	if result.MissingDigits != realDigits {
		t.Errorf("цифры = %s, подтвержденная покупка должна вернуть настоящий профиль", result.MissingDigits)
	}
	if got := env.balance(t); got != 7000 {
		t.Errorf("баланс = %d, ожидалось 7000", got)
	}

	// Повторное одобрение проигрывает атомарный переход статуса
	if _, err := env.approval.Resolve(ctx, stored.ID, stored.Token, true); !errors.Is(err, repository.ErrAlreadyResolved) {
		t.Fatalf("ожидался ErrAlreadyResolved, получено %v", err)
	}
	if got := env.balance(t); got != 7000 {
		t.Errorf("баланс после повторного одобрения = %d, списание должно быть ровно одно", got)
	}
	if env.ledger.purchaseCount() != 1 {
		t.Errorf("покупок = %d, ожидалась ровно одна", env.ledger.purchaseCount())
	}
}

// Окно сменилось, пока подтверждение ждало владельца, а потолок за это
// время снизили: первая запись нового окна проходит ту же охрану потолка,
// что и инкремент существующей
func TestCheckoutConfirmedAfterCeilingLowered(t *testing.T) {
	env := newCheckoutEnv(t, model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 5000,
		Mode:           model.ApprovalAll,
	}, 10000)
	ctx := context.Background()

	pending, err := env.svc.Checkout(ctx, env.botID, checkoutReq(realProfileIndex, 3000))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if pending.Status != model.CheckoutPending {
		t.Fatalf("статус %s, ожидалось pending_confirmation", pending.Status)
	}

	// Пока подтверждение висело, владелец снизил потолок ниже суммы
	if err := env.cards.UpdatePermission(ctx, env.cardID, realProfileIndex, &model.UpdatePermissionRequest{
		Window:         model.WindowDay,
		AllowanceCents: 2000,
		Mode:           model.ApprovalAll,
	}); err != nil {
		t.Fatalf("UpdatePermission: %v", err)
	}

	stored, err := env.confStore.GetByID(ctx, pending.ConfirmationID)
	if err != nil {
		t.Fatalf("подтверждение не сохранено: %v", err)
	}
	conf, err := env.approval.Resolve(ctx, stored.ID, stored.Token, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	result, err := env.svc.CompleteConfirmed(ctx, conf)
	if err != nil {
		t.Fatalf("CompleteConfirmed: %v", err)
	}
	if result.Status != model.CheckoutDeclined || result.Reason != model.DeclineAllowanceExceeded {
		t.Fatalf("статус %s/%s, ожидался отказ allowance_exceeded", result.Status, result.Reason)
	}
	if result.AllowanceCents != 2000 {
		t.Errorf("потолок в ответе = %d, ожидалось 2000", result.AllowanceCents)
	}
	if got := env.balance(t); got != 10000 {
		t.Errorf("баланс = %d, покупка сверх нового потолка не должна списывать", got)
	}
	if env.ledger.purchaseCount() != 0 {
		t.Error("покупка сверх нового потолка не должна попадать в журнал")
	}

	// Окно осталось нетронутым: охраняемая первая запись не создается
	windowStart := CanonicalWindowStart(model.WindowDay, time.Now())
	usage, _ := env.allowance.Get(ctx, env.cardID, realProfileIndex, windowStart)
	if usage.SpentCents != 0 {
		t.Errorf("лимит = %d, отказ не должен расходовать лимит", usage.SpentCents)
	}
}

func TestCheckoutPreconditionDeclines(t *testing.T) {
	ctx := context.Background()

	t.Run("нет кошелька", func(t *testing.T) {
		env := newCheckoutEnv(t, model.UpdatePermissionRequest{
			Window: model.WindowDay, AllowanceCents: 1000, Mode: model.ApprovalNone,
		}, 1000)
		result, err := env.svc.Checkout(ctx, uuid.New(), checkoutReq(0, 100))
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		if result.Reason != model.DeclineWalletNotActive {
			t.Errorf("причина = %s, ожидалось wallet_not_active", result.Reason)
		}
	})

	t.Run("кошелек неактивен", func(t *testing.T) {
		env := newCheckoutEnv(t, model.UpdatePermissionRequest{
			Window: model.WindowDay, AllowanceCents: 1000, Mode: model.ApprovalNone,
		}, 1000)
		env.wallets.wallets[env.walletID].Status = model.WalletStatusInactive
		result, _ := env.svc.Checkout(ctx, env.botID, checkoutReq(0, 100))
		if result.Reason != model.DeclineWalletNotActive {
			t.Errorf("причина = %s, ожидалось wallet_not_active", result.Reason)
		}
	})

	t.Run("карта не активирована", func(t *testing.T) {
		env := newCheckoutEnv(t, model.UpdatePermissionRequest{
			Window: model.WindowDay, AllowanceCents: 1000, Mode: model.ApprovalNone,
		}, 1000)
		env.cards.cards[env.cardID].Status = model.CardStatusPendingSetup
		result, _ := env.svc.Checkout(ctx, env.botID, checkoutReq(0, 100))
		if result.Reason != model.DeclineCardNotActive {
			t.Errorf("причина = %s, ожидалось card_not_active", result.Reason)
		}
	})

	t.Run("неизвестный профиль", func(t *testing.T) {
		env := newCheckoutEnv(t, model.UpdatePermissionRequest{
			Window: model.WindowDay, AllowanceCents: 1000, Mode: model.ApprovalNone,
		}, 1000)
		result, _ := env.svc.Checkout(ctx, env.botID, checkoutReq(7, 100))
		if result.Reason != model.DeclineInvalidProfile {
			t.Errorf("причина = %s, ожидалось invalid_profile", result.Reason)
		}
	})
}
