package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/service"
)

// AuthMiddleware проверяет JWT токен владельца в заголовке Authorization
func AuthMiddleware(authService *service.AuthService, logger *logrus.Logger) mux.MiddlewareFunc {
	return tokenMiddleware(authService, logger, service.AudienceOwner, "userID")
}

// BotAuthMiddleware проверяет долгоживущий токен бота. Токен владельца
// агентские эндпоинты не открывает.
func BotAuthMiddleware(authService *service.AuthService, logger *logrus.Logger) mux.MiddlewareFunc {
	return tokenMiddleware(authService, logger, service.AudienceBot, "botID")
}

func tokenMiddleware(authService *service.AuthService, logger *logrus.Logger, audience, ctxKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Получаем заголовок Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Error("Отсутствует заголовок Authorization")
				http.Error(w, "Заголовок Authorization обязателен", http.StatusUnauthorized)
				return
			}

			// Проверяем формат заголовка
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Error("Неверный формат заголовка Authorization")
				http.Error(w, "Неверный формат заголовка Authorization", http.StatusUnauthorized)
				return
			}

			token := parts[1]
			// Парсим токен и проверяем его валидность и аудиторию
			subject, err := authService.ParseToken(token, audience)
			if err != nil {
				logger.WithError(err).Error("Неверный токен")
				http.Error(w, "Неверный токен", http.StatusUnauthorized)
				return
			}

			// Добавляем идентификатор субъекта в контекст
			ctx := context.WithValue(r.Context(), ctxKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
