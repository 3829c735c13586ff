package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

func testHandler() *CheckoutHandler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &CheckoutHandler{logger: logger}
}

// Внешний контракт: каждый исход оркестратора отображается в свой
// HTTP статус и форму тела
func TestWriteCheckoutResult(t *testing.T) {
	confirmationID := uuid.New()

	tests := []struct {
		name       string
		result     *model.CheckoutResult
		wantCode   int
		wantFields map[string]interface{}
	}{
		{
			name: "одобрение",
			result: &model.CheckoutResult{
				Status:         model.CheckoutApproved,
				ConfirmationID: confirmationID,
				MissingDigits:  "1234",
				ExpiryMonth:    6,
				ExpiryYear:     2027,
				AmountCents:    2500,
				Message:        "покупка одобрена",
			},
			wantCode: http.StatusOK,
			wantFields: map[string]interface{}{
				"approved":       true,
				"missing_digits": "1234",
				"amount_usd":     25.0,
			},
		},
		{
			name: "отложенный ответ",
			result: &model.CheckoutResult{
				Status:         model.CheckoutPending,
				ConfirmationID: confirmationID,
				ExpiresAt:      time.Now().Add(15 * time.Minute),
				AmountCents:    2500,
			},
			wantCode: http.StatusAccepted,
			wantFields: map[string]interface{}{
				"approved": false,
				"status":   "pending_confirmation",
			},
		},
		{
			name: "недостаточно средств",
			result: &model.CheckoutResult{
				Status:       model.CheckoutDeclined,
				Reason:       model.DeclineInsufficientFunds,
				BalanceCents: 500,
			},
			wantCode: http.StatusPaymentRequired,
			wantFields: map[string]interface{}{
				"approved":    false,
				"error":       "insufficient_funds",
				"balance_usd": 5.0,
			},
		},
		{
			name: "превышен лимит",
			result: &model.CheckoutResult{
				Status:         model.CheckoutDeclined,
				Reason:         model.DeclineAllowanceExceeded,
				SpentCents:     5000,
				AllowanceCents: 5000,
				RemainingCents: 0,
			},
			wantCode: http.StatusForbidden,
			wantFields: map[string]interface{}{
				"error":         "allowance_exceeded",
				"spent_usd":     50.0,
				"remaining_usd": 0.0,
			},
		},
		{
			name: "кошелек заморожен",
			result: &model.CheckoutResult{
				Status: model.CheckoutDeclined,
				Reason: model.DeclineWalletFrozen,
			},
			wantCode:   http.StatusForbidden,
			wantFields: map[string]interface{}{"error": "wallet_frozen"},
		},
		{
			name: "списание не прошло",
			result: &model.CheckoutResult{
				Status: model.CheckoutDeclined,
				Reason: model.DeclineDebitFailed,
			},
			wantCode:   http.StatusConflict,
			wantFields: map[string]interface{}{"error": "debit_failed"},
		},
		{
			name: "неизвестный профиль",
			result: &model.CheckoutResult{
				Status: model.CheckoutDeclined,
				Reason: model.DeclineInvalidProfile,
			},
			wantCode:   http.StatusBadRequest,
			wantFields: map[string]interface{}{"error": "invalid_profile"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHandler()
			rec := httptest.NewRecorder()

			h.writeCheckoutResult(rec, tt.result)

			if rec.Code != tt.wantCode {
				t.Fatalf("код = %d, ожидалось %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s", ct)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("тело не является JSON: %v", err)
			}
			for key, want := range tt.wantFields {
				got, ok := body[key]
				if !ok {
					t.Errorf("в теле нет поля %q", key)
					continue
				}
				if got != want {
					t.Errorf("%s = %v, ожидалось %v", key, got, want)
				}
			}
		})
	}
}

// Отказы никогда не содержат данных карты
func TestDeclineNeverCarriesCardData(t *testing.T) {
	h := testHandler()
	rec := httptest.NewRecorder()

	h.writeCheckoutResult(rec, &model.CheckoutResult{
		Status: model.CheckoutDeclined,
		Reason: model.DeclineAllowanceExceeded,
	})

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело не является JSON: %v", err)
	}
	for _, forbidden := range []string{"missing_digits", "expiry_month", "expiry_year"} {
		if _, ok := body[forbidden]; ok {
			t.Errorf("отказ содержит поле %q", forbidden)
		}
	}
}
