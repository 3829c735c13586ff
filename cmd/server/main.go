package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/config"
	"covercard-api/internal/crypto"
	"covercard-api/internal/handler"
	"covercard-api/internal/repository"
	"covercard-api/internal/service"
)

func main() {
	logger := logrus.New()
	// Уровень логирования (Debug для разработки, Info для продакшена)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Загрузка конфигурации приложения
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Подключение к PostgreSQL
	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	))
	if err != nil {
		logger.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Проверка соединения с БД
	if err := db.Ping(); err != nil {
		logger.Fatalf("Ошибка проверки соединения с БД: %v", err)
	}

	// Инициализация PGP для шифрования профилей карт
	pgpManager, err := crypto.NewPGPManager("config/pgp-key.asc")
	if err != nil {
		logger.Fatalf("Ошибка инициализации PGP: %v", err)
	}

	pgpKey := pgpManager.GetEntity()
	hmacKey := []byte(os.Getenv("HMAC_SECRET"))
	if len(hmacKey) == 0 {
		logger.Fatal("Переменная окружения HMAC_SECRET не установлена")
	}
	if len(hmacKey) < 32 {
		logger.Fatal("HMAC ключ должен быть длиной минимум 32 байта")
	}

	// Инициализация репозиториев
	logger.Info("Инициализация репозиториев...")
	userRepo := repository.NewUserRepository(db, logger)
	botRepo := repository.NewBotRepository(db, logger)
	walletRepo := repository.NewWalletRepository(db, logger)
	cardRepo := repository.NewCardRepository(db, logger)
	allowanceRepo := repository.NewAllowanceRepository(db, logger)
	confirmationRepo := repository.NewConfirmationRepository(db, logger)
	obfuscationRepo := repository.NewObfuscationRepository(db, logger)
	purchaseRepo := repository.NewPurchaseRepository(db, walletRepo, allowanceRepo, logger)
	emailSender := service.NewEmailSender(logger)
	webhookClient := service.NewWebhookClient(cfg.WebhookURL, hmacKey, logger)

	// Инициализация сервисов
	logger.Info("Инициализация сервисов...")
	authService := service.NewAuthService(userRepo, botRepo, cfg.JWTSecret, cfg.TokenExpiry, cfg.BotTokenExpiry, logger)
	walletService := service.NewWalletService(botRepo, walletRepo, logger)
	cardService := service.NewCardService(userRepo, botRepo, cardRepo, emailSender, pgpKey, hmacKey, logger)
	approvalService := service.NewApprovalService(confirmationRepo, hmacKey, cfg.ConfirmationTTL, logger)
	obfuscationService := service.NewObfuscationService(obfuscationRepo, cardRepo, cfg.WarmupOrganicThreshold, logger)
	checkoutService := service.NewCheckoutService(
		userRepo,
		cardRepo,
		walletRepo,
		allowanceRepo,
		purchaseRepo,
		approvalService,
		obfuscationService,
		cardService,
		emailSender,
		webhookClient,
		cfg.ConfirmBaseURL,
		cfg.LowBalanceThresholdCents,
		logger,
	)
	statsService := service.NewStatsService(cardRepo, allowanceRepo, purchaseRepo, obfuscationService, logger)

	// Инициализация HTTP обработчиков
	logger.Info("Инициализация обработчиков API...")
	authHandler := handler.NewAuthHandler(authService, logger)
	botHandler := handler.NewBotHandler(walletService, authService, logger)
	walletHandler := handler.NewWalletHandler(walletService, logger)
	cardHandler := handler.NewCardHandler(cardService, logger)
	statsHandler := handler.NewStatsHandler(statsService, logger)
	checkoutHandler := handler.NewCheckoutHandler(checkoutService, approvalService, logger)

	// Настройка маршрутизатора
	router := mux.NewRouter()

	// 1. Публичные маршруты для аутентификации
	publicRouter := router.PathPrefix("/auth").Subrouter()
	authHandler.RegisterRoutes(publicRouter) // Регистрация /signup и /signin

	// 2. Маршруты решения по подтверждениям (аутентификация HMAC токеном
	// в ссылке из письма)
	checkoutHandler.RegisterConfirmRoutes(router)

	// 3. Защищенные маршруты владельца (требуется JWT токен)
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(handler.AuthMiddleware(authService, logger))

	// Маршруты для работы с ботами
	botRouter := apiRouter.PathPrefix("/bots").Subrouter()
	botHandler.RegisterRoutes(botRouter)

	// Маршруты для работы с кошельками
	walletRouter := apiRouter.PathPrefix("/wallets").Subrouter()
	walletHandler.RegisterRoutes(walletRouter)

	// Маршруты для работы с картами и статистикой
	cardRouter := apiRouter.PathPrefix("/cards").Subrouter()
	cardHandler.RegisterRoutes(cardRouter)
	statsHandler.RegisterRoutes(cardRouter)

	// 4. Агентские маршруты (требуется токен бота)
	agentRouter := router.PathPrefix("/agent").Subrouter()
	agentRouter.Use(handler.BotAuthMiddleware(authService, logger))
	checkoutHandler.RegisterAgentRoutes(agentRouter)

	// Настройка планировщика фоновых задач
	logger.Info("Настройка планировщика фоновых задач...")
	c := cron.New()

	// Закрытие просроченных подтверждений
	_, err = c.AddFunc("@every 1m", func() {
		if err := approvalService.ExpireOverdue(context.Background()); err != nil {
			logger.WithError(err).Error("Ошибка закрытия просроченных подтверждений")
		}
	})
	if err != nil {
		logger.Fatalf("Ошибка настройки планировщика: %v", err)
	}

	// Планирование новых приманок
	_, err = c.AddFunc("@every 30m", func() {
		logger.Info("Запуск планирования приманок")
		if err := obfuscationService.ScheduleDecoys(context.Background()); err != nil {
			logger.WithError(err).Error("Ошибка планирования приманок")
		}
	})
	if err != nil {
		logger.Fatalf("Ошибка настройки планировщика: %v", err)
	}
	c.Start()

	// Настройка и запуск HTTP сервера
	server := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}

	go func() {
		logger.Info("Запуск сервера на порту :8080")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Ошибка сервера: %v", err)
		}
	}()

	// Ожидание сигналов для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Завершение работы сервера...")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Errorf("Ошибка при завершении работы сервера: %v", err)
	}
	logger.Info("Сервер успешно остановлен")
}
