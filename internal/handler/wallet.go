package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/service"
)

// WalletHandler — эндпоинты владельца для управления кошельками ботов
type WalletHandler struct {
	walletService *service.WalletService
	logger        *logrus.Logger
}

func NewWalletHandler(walletService *service.WalletService, logger *logrus.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/{botId}", h.GetWallet).Methods("GET")
	router.HandleFunc("/{botId}/fund", h.Fund).Methods("POST")
	router.HandleFunc("/{botId}/freeze", h.Freeze).Methods("POST")
	router.HandleFunc("/{botId}/unfreeze", h.Unfreeze).Methods("POST")
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userUUID, botID, ok := h.walletRequest(w, r)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(r.Context(), userUUID, botID)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

// Fund пополняет кошелек бота
func (h *WalletHandler) Fund(w http.ResponseWriter, r *http.Request) {
	userUUID, botID, ok := h.walletRequest(w, r)
	if !ok {
		return
	}

	var req model.FundWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Ошибка декодирования запроса пополнения")
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"userID":       userUUID,
		"botID":        botID,
		"amount_cents": req.AmountCents,
	}).Info("Попытка пополнения кошелька")

	wallet, err := h.walletService.Fund(r.Context(), userUUID, botID, &req)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

func (h *WalletHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *WalletHandler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	userUUID, botID, ok := h.walletRequest(w, r)
	if !ok {
		return
	}

	wallet, err := h.walletService.SetFrozen(r.Context(), userUUID, botID, frozen)
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) walletRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	vars := mux.Vars(r)
	botID, err := uuid.Parse(vars["botId"])
	if err != nil {
		h.logger.WithField("botId", vars["botId"]).Warn("Неверный формат ID бота")
		http.Error(w, "Неверный ID бота", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}

	return userUUID, botID, true
}

func (h *WalletHandler) writeWalletError(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("Ошибка операции с кошельком")
	if strings.Contains(err.Error(), "не найден") {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if strings.Contains(err.Error(), "должна быть положительной") {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "Ошибка операции с кошельком", http.StatusInternalServerError)
}
