package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config содержит настройки приложения
type Config struct {
	DBHost     string // Хост базы данных
	DBPort     string // Порт базы данных
	DBUser     string // Пользователь базы данных
	DBPassword string // Пароль базы данных
	DBName     string // Имя базы данных

	JWTSecret   string        // Секрет для JWT
	TokenExpiry time.Duration // Время жизни токена владельца
	BotTokenExpiry time.Duration // Время жизни токена бота

	ConfirmBaseURL  string        // Базовый URL ссылок подтверждения в письмах
	ConfirmationTTL time.Duration // Срок жизни запроса подтверждения

	LowBalanceThresholdCents int64 // Порог уведомления о низком балансе
	WarmupOrganicThreshold   int64 // Сколько органических событий переводит warmup -> active

	WebhookURL string // URL вебхуков владельца (пусто — вебхуки выключены)
}

// LoadConfig загружает конфигурацию из .env файла
func LoadConfig() (*Config, error) {
	// Загружаем переменные окружения из .env файла
	if err := godotenv.Load(); err != nil {
		logrus.Warn("Файл .env не найден")
	}

	// Парсим время жизни токена владельца
	expiry, err := time.ParseDuration(os.Getenv("TOKEN_EXPIRY"))
	if err != nil {
		expiry = 24 * time.Hour // По умолчанию 24 часа
	}

	// Токен бота живет долго: агент работает без интерактивного входа
	botExpiry, err := time.ParseDuration(os.Getenv("BOT_TOKEN_EXPIRY"))
	if err != nil {
		botExpiry = 365 * 24 * time.Hour
	}

	// Срок жизни подтверждения покупки
	confirmTTL, err := time.ParseDuration(os.Getenv("CONFIRMATION_TTL"))
	if err != nil {
		confirmTTL = 15 * time.Minute
	}

	// Создаем объект конфигурации
	config := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "covercard"),

		JWTSecret:      getEnv("JWT_SECRET", "default-secret-key"),
		TokenExpiry:    expiry,
		BotTokenExpiry: botExpiry,

		ConfirmBaseURL:  getEnv("CONFIRM_BASE_URL", "http://localhost:8080"),
		ConfirmationTTL: confirmTTL,

		LowBalanceThresholdCents: getEnvInt64("LOW_BALANCE_THRESHOLD_CENTS", 1000),
		WarmupOrganicThreshold:   getEnvInt64("OBFUSCATION_WARMUP_ORGANIC", 5),

		WebhookURL: os.Getenv("WEBHOOK_URL"),
	}

	return config, nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt64 получает целочисленное значение переменной окружения
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logrus.Warnf("Неверное значение %s, используется значение по умолчанию", key)
		return defaultValue
	}
	return parsed
}
