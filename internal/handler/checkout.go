package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
	"covercard-api/internal/service"
)

// CheckoutHandler обслуживает агентские эндпоинты покупки и эндпоинты
// решения владельца по подтверждениям
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
	approvalService *service.ApprovalService
	logger          *logrus.Logger
}

func NewCheckoutHandler(
	checkoutService *service.CheckoutService,
	approvalService *service.ApprovalService,
	logger *logrus.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		approvalService: approvalService,
		logger:          logger,
	}
}

// RegisterAgentRoutes регистрирует маршруты, доступные по токену бота
func (h *CheckoutHandler) RegisterAgentRoutes(router *mux.Router) {
	router.HandleFunc("/checkout", h.Checkout).Methods("POST")
	router.HandleFunc("/checkout/status", h.CheckoutStatus).Methods("GET")
	router.HandleFunc("/tasks", h.ListTasks).Methods("GET")
}

// RegisterConfirmRoutes регистрирует маршруты решения по ссылке из письма.
// Аутентификация — HMAC токен в самой ссылке, не JWT.
func (h *CheckoutHandler) RegisterConfirmRoutes(router *mux.Router) {
	router.HandleFunc("/confirm/{id}", h.Approve).Methods("GET")
	router.HandleFunc("/confirm/{id}/reject", h.Reject).Methods("GET")
}

// Checkout принимает намерение покупки от бота
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	botID, ok := botIDFromContext(r)
	if !ok {
		h.logger.Warn("Попытка покупки без авторизации бота")
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	// Декодируем тело запроса
	var req model.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Ошибка декодирования запроса покупки")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "validation_error",
			"message": "неверный формат запроса",
		})
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.WithError(err).Warn("Ошибка валидации запроса покупки")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	result, err := h.checkoutService.Checkout(r.Context(), botID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка обработки покупки")
		http.Error(w, "Ошибка обработки покупки", http.StatusInternalServerError)
		return
	}

	h.writeCheckoutResult(w, result)
}

// CheckoutStatus — поллинг статуса подтверждения ботом
func (h *CheckoutHandler) CheckoutStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := botIDFromContext(r); !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	confirmationID, err := uuid.Parse(r.URL.Query().Get("confirmation_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "validation_error",
			"message": "неверный confirmation_id",
		})
		return
	}

	status, err := h.approvalService.Status(r.Context(), confirmationID)
	if err != nil {
		if errors.Is(err, repository.ErrConfirmationNotFound) {
			http.Error(w, "Подтверждение не найдено", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("Ошибка получения статуса подтверждения")
		http.Error(w, "Ошибка получения статуса", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// ListTasks отдает боту запланированные задачи-приманки его карты
func (h *CheckoutHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	botID, ok := botIDFromContext(r)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	tasks, err := h.checkoutService.ListDecoyTasks(r.Context(), botID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, "Карта не найдена", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("Ошибка получения задач-приманок")
		http.Error(w, "Ошибка получения задач", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// Approve — решение владельца "подтвердить" по ссылке из письма
func (h *CheckoutHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolveConfirmation(w, r, true)
}

// Reject — решение владельца "отклонить"
func (h *CheckoutHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolveConfirmation(w, r, false)
}

func (h *CheckoutHandler) resolveConfirmation(w http.ResponseWriter, r *http.Request, approve bool) {
	vars := mux.Vars(r)
	confirmationID, err := uuid.Parse(vars["id"])
	if err != nil {
		h.logger.WithField("id", vars["id"]).Warn("Неверный формат ID подтверждения")
		http.Error(w, "Неверный ID подтверждения", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")

	conf, err := h.approvalService.Resolve(r.Context(), confirmationID, token, approve)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			http.Error(w, "Неверный токен подтверждения", http.StatusForbidden)
		case errors.Is(err, service.ErrConfirmationExpired):
			writeJSON(w, http.StatusGone, map[string]string{
				"status":  string(model.ConfirmationExpired),
				"message": "срок подтверждения истек",
			})
		case errors.Is(err, repository.ErrConfirmationNotFound):
			http.Error(w, "Подтверждение не найдено", http.StatusNotFound)
		case errors.Is(err, repository.ErrAlreadyResolved):
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": "решение по подтверждению уже принято",
			})
		default:
			h.logger.WithError(err).Error("Ошибка разрешения подтверждения")
			http.Error(w, "Ошибка разрешения подтверждения", http.StatusInternalServerError)
		}
		return
	}

	if !approve {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  string(model.ConfirmationRejected),
			"message": "покупка отклонена",
		})
		return
	}

	// Одобрение завершает покупку: списание происходит здесь
	result, err := h.checkoutService.CompleteConfirmed(r.Context(), conf)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка завершения подтвержденной покупки")
		http.Error(w, "Ошибка завершения покупки", http.StatusInternalServerError)
		return
	}

	if result.Status == model.CheckoutApproved {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     string(model.ConfirmationApproved),
			"message":    "покупка подтверждена и оплачена",
			"amount_usd": model.CentsToUSD(result.AmountCents),
		})
		return
	}

	// Между выпуском подтверждения и одобрением условия могли измениться
	writeJSON(w, http.StatusConflict, map[string]interface{}{
		"status":  string(model.ConfirmationApproved),
		"error":   string(result.Reason),
		"message": result.Message,
	})
}

// writeCheckoutResult переводит результат оркестратора во внешний контракт.
// Форма ответа одинакова для реальной и ложной ветки.
func (h *CheckoutHandler) writeCheckoutResult(w http.ResponseWriter, result *model.CheckoutResult) {
	switch result.Status {
	case model.CheckoutApproved:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"approved":        true,
			"missing_digits":  result.MissingDigits,
			"expiry_month":    result.ExpiryMonth,
			"expiry_year":     result.ExpiryYear,
			"confirmation_id": result.ConfirmationID,
			"amount_usd":      model.CentsToUSD(result.AmountCents),
			"message":         result.Message,
		})

	case model.CheckoutPending:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"approved":        false,
			"status":          string(model.CheckoutPending),
			"confirmation_id": result.ConfirmationID,
			"expires_at":      result.ExpiresAt,
			"message":         result.Message,
		})

	case model.CheckoutDeclined:
		body := map[string]interface{}{
			"approved": false,
			"error":    string(result.Reason),
			"message":  result.Message,
		}

		var code int
		switch result.Reason {
		case model.DeclineInvalidProfile:
			code = http.StatusBadRequest
		case model.DeclineInsufficientFunds:
			code = http.StatusPaymentRequired
			body["balance_usd"] = model.CentsToUSD(result.BalanceCents)
		case model.DeclineAllowanceExceeded:
			code = http.StatusForbidden
			body["spent_usd"] = model.CentsToUSD(result.SpentCents)
			body["allowance_usd"] = model.CentsToUSD(result.AllowanceCents)
			body["remaining_usd"] = model.CentsToUSD(result.RemainingCents)
		case model.DeclineDebitFailed:
			code = http.StatusConflict
		default:
			// wallet_not_active, wallet_frozen, card_not_active
			code = http.StatusForbidden
		}

		writeJSON(w, code, body)

	default:
		h.logger.WithField("status", result.Status).Error("Неизвестный статус результата покупки")
		http.Error(w, "Внутренняя ошибка", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func botIDFromContext(r *http.Request) (uuid.UUID, bool) {
	botID, ok := r.Context().Value("botID").(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(botID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
