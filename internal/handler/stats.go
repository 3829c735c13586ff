package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/service"
)

// StatsHandler — статистика карты для дашборда владельца
type StatsHandler struct {
	statsService *service.StatsService
	logger       *logrus.Logger
}

func NewStatsHandler(statsService *service.StatsService, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
		logger:       logger,
	}
}

func (h *StatsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/{id}/stats", h.GetCardStats).Methods("GET")
	router.HandleFunc("/{id}/purchases", h.ListPurchases).Methods("GET")
}

func (h *StatsHandler) GetCardStats(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.statsRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.statsService.GetCardStats(r.Context(), cardID, userUUID)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения статистики карты")
		if strings.Contains(err.Error(), "не найдена") {
			http.Error(w, "Карта не найдена", http.StatusNotFound)
		} else {
			http.Error(w, "Ошибка получения статистики", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListPurchases возвращает реальные покупки карты за период
func (h *StatsHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userUUID, cardID, ok := h.statsRequest(w, r)
	if !ok {
		return
	}

	// Период по умолчанию — последние 30 дней
	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -30)

	if s := r.URL.Query().Get("start_date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "Неверный формат start_date", http.StatusBadRequest)
			return
		}
		startDate = parsed
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "Неверный формат end_date", http.StatusBadRequest)
			return
		}
		endDate = parsed
	}

	purchases, err := h.statsService.ListPurchases(r.Context(), cardID, userUUID, startDate, endDate)
	if err != nil {
		h.logger.WithError(err).Error("Ошибка получения покупок")
		switch {
		case strings.Contains(err.Error(), "не найдена"):
			http.Error(w, "Карта не найдена", http.StatusNotFound)
		case strings.Contains(err.Error(), "дата"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "Ошибка получения покупок", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, purchases)
}

func (h *StatsHandler) statsRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
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
