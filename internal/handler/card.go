package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
	"covercard-api/internal/service"
)

// CardHandler — эндпоинты владельца: настройка карты, активация, политики
// профилей
type CardHandler struct {
	cardService *service.CardService
	logger      *logrus.Logger
}

func NewCardHandler(cardService *service.CardService, logger *logrus.Logger) *CardHandler {
	return &CardHandler{
		cardService: cardService,
		logger:      logger,
	}
}

func (h *CardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.CreateCard).Methods("POST")
	router.HandleFunc("", h.ListCards).Methods("GET")
	router.HandleFunc("/{id}", h.GetCard).Methods("GET")
	router.HandleFunc("/{id}/activate", h.ActivateCard).Methods("POST")
	router.HandleFunc("/{id}/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/{id}/permissions/{profileIndex}", h.UpdatePermission).Methods("PUT")
}

// CreateCard принимает данные настоящей карты и создает запись с ложными
// профилями. Данные карты нигде не логируются.
func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	// Декодируем тело запроса
	var req model.CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Ошибка декодирования запроса")
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.WithError(err).Warn("Ошибка валидации запроса создания карты")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"userID": userUUID,
		"botID":  req.BotID,
	}).Info("Попытка создания новой карты")

	// Создаем карту через сервис
	card, err := h.cardService.CreateCard(r.Context(), userUUID, &req)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка создания карты")

		switch {
		case strings.Contains(err.Error(), "бот не"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Ошибка создания карты", http.StatusInternalServerError)
		}
		return
	}

	h.logger.WithField("cardID", card.ID).Info("Карта успешно создана")

	writeJSON(w, http.StatusCreated, card)
}

func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return
	}

	cards, err := h.cardService.ListUserCards(r.Context(), userUUID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения списка карт")
		http.Error(w, "Ошибка получения карт", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, cards)
}

func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.cardRequest(w, r)
	if !ok {
		return
	}

	card, err := h.cardService.GetCard(r.Context(), cardID, userUUID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения карты")
		if strings.Contains(err.Error(), "не найдена") {
			http.Error(w, "Карта не найдена", http.StatusNotFound)
		} else {
			http.Error(w, "Ошибка получения карты", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, card)
}

// ActivateCard переводит карту в рабочее состояние
func (h *CardHandler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.cardRequest(w, r)
	if !ok {
		return
	}

	if err := h.cardService.ActivateCard(r.Context(), cardID, userUUID); err != nil {
		h.logger.WithError(err).Error("Ошибка активации карты")
		if strings.Contains(err.Error(), "не найдена") {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, "Ошибка активации карты", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.CardStatusActive)})
}

func (h *CardHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.cardRequest(w, r)
	if !ok {
		return
	}

	permissions, err := h.cardService.ListPermissions(r.Context(), cardID, userUUID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения политик профилей")
		if strings.Contains(err.Error(), "не найдена") {
			http.Error(w, "Карта не найдена", http.StatusNotFound)
		} else {
			http.Error(w, "Ошибка получения политик", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, permissions)
}

// UpdatePermission меняет политику трат одного профиля
func (h *CardHandler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.cardRequest(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	profileIndex, err := strconv.Atoi(vars["profileIndex"])
	if err != nil {
		h.logger.WithField("profileIndex", vars["profileIndex"]).Warn("Неверный индекс профиля")
		http.Error(w, "Неверный индекс профиля", http.StatusBadRequest)
		return
	}

	var req model.UpdatePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Ошибка декодирования запроса")
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return
	}

	if err := h.cardService.UpdatePermission(r.Context(), cardID, userUUID, profileIndex, &req); err != nil {
		h.logger.WithError(err).Error("Ошибка обновления политики профиля")
		switch {
		case strings.Contains(err.Error(), "не найдена"):
			http.Error(w, "Карта не найдена", http.StatusNotFound)
		case strings.Contains(err.Error(), "неизвестн"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case strings.Contains(err.Error(), "потолок"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Ошибка обновления политики", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *CardHandler) cardRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userUUID, ok := userIDFromContext(r, h.logger)
	if !ok {
		http.Error(w, "Требуется авторизация", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	vars := mux.Vars(r)
	cardID, err := uuid.Parse(vars["id"])
	if err != nil {
		h.logger.WithField("cardID", vars["id"]).Warn("Неверный формат ID карты")
		http.Error(w, "Неверный ID карты", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}

	return userUUID, cardID, true
}
