package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/service"
)

// BotHandler управляет ботами владельца и выпуском их токенов
type BotHandler struct {
	walletService *service.WalletService
	authService   *service.AuthService
	logger        *logrus.Logger
}

func NewBotHandler(walletService *service.WalletService, authService *service.AuthService, logger *logrus.Logger) *BotHandler {
	return &BotHandler{
		walletService: walletService,
		authService:   authService,
		logger:        logger,
	}
}

func (h *BotHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.CreateBot).Methods("POST")
	router.HandleFunc("", h.ListBots).Methods("GET")
	router.HandleFunc("/{id}/token", h.IssueToken).Methods("POST")
}

// CreateBot создает бота вместе с кошельком
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	var req model.CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Ошибка декодирования запроса")
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	bot, err := h.walletService.CreateBot(r.Context(), userUUID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка создания бота")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, bot)
}

func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	bots, err := h.walletService.ListBots(r.Context(), userUUID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения списка ботов")
		http.Error(w, "Ошибка получения ботов", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, bots)
}

// IssueToken выпускает долгоживущий токен бота
func (h *BotHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	botID, err := uuid.Parse(vars["id"])
	if err != nil {
		h.logger.WithField("botID", vars["id"]).Warn("Неверный формат ID бота")
		http.Error(w, "Неверный ID бота", http.StatusBadRequest)
		return
	}

	token, err := h.authService.IssueBotToken(r.Context(), userUUID, botID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка выпуска токена бота")
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// userIDFromContext извлекает идентификатор владельца из контекста запроса
func userIDFromContext(r *http.Request, logger *logrus.Logger) (uuid.UUID, bool) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok {
		logger.Warn("Запрос без идентификатора пользователя в контексте")
		return uuid.Nil, false
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		logger.WithField("userID", userID).Warn("Неверный формат ID пользователя")
		return uuid.Nil, false
	}

	return userUUID, true
}
