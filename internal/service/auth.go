package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"covercard-api/internal/model"
)

// Аудитории токенов: токен владельца не открывает агентские эндпоинты
// и наоборот
const (
	AudienceOwner = "owner"
	AudienceBot   = "bot"
)

type AuthService struct {
	userRepo       UserStore
	botRepo        BotStore
	jwtSecret      string
	tokenExpiry    time.Duration
	botTokenExpiry time.Duration
	logger         *logrus.Logger
}

func NewAuthService(userRepo UserStore, botRepo BotStore, jwtSecret string, tokenExpiry, botTokenExpiry time.Duration, logger *logrus.Logger) *AuthService {
	return &AuthService{
		userRepo:       userRepo,
		botRepo:        botRepo,
		jwtSecret:      jwtSecret,
		tokenExpiry:    tokenExpiry,
		botTokenExpiry: botTokenExpiry,
		logger:         logger,
	}
}

// SignUp Регистрация нового владельца
func (s *AuthService) SignUp(ctx context.Context, input model.SignUpInput) (*model.User, error) {
	s.logger.WithFields(logrus.Fields{
		"email":    input.Email,
		"username": input.Username,
	}).Info("Попытка регистрации нового пользователя")

	// Проверка на существование пользователя
	exists, err := s.userRepo.ExistsByEmailOrUsername(ctx, input.Email, input.Username)
	if err != nil {
		s.logger.WithError(err).Error("Не удалось проверить существование пользователя")
		return nil, fmt.Errorf("ошибка проверки существования пользователя: %w", err)
	}
	if exists {
		s.logger.Warn("Пользователь с таким email или username уже существует")
		return nil, fmt.Errorf("пользователь с таким email или username уже существует")
	}

	// Хеширование пароля
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.WithError(err).Error("Не удалось захешировать пароль")
		return nil, fmt.Errorf("ошибка хеширования пароля: %w", err)
	}

	// Создание пользователя
	now := time.Now()
	user := &model.User{
		ID:        uuid.New(),
		Username:  input.Username,
		Email:     input.Email,
		Password:  string(hashedPassword),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.logger.WithError(err).Error("Не удалось создать пользователя в базе данных")
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("Пользователь успешно зарегистрирован")
	return user, nil
}

// SignIn Авторизация владельца и генерация JWT токена
func (s *AuthService) SignIn(ctx context.Context, input model.SignInInput) (string, error) {
	s.logger.WithField("email", input.Email).Info("Попытка входа пользователя")

	// Поиск пользователя по email
	user, err := s.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		s.logger.WithError(err).Warn("Пользователь не найден или неверные учётные данные")
		return "", fmt.Errorf("неверные учетные данные")
	}

	// Проверка пароля
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		s.logger.Warn("Неверный пароль при попытке входа")
		return "", fmt.Errorf("неверные учетные данные")
	}

	// Генерация JWT токена
	token, err := s.generateToken(user.ID.String(), AudienceOwner, s.tokenExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Не удалось сгенерировать JWT токен")
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("Пользователь успешно вошёл в систему")
	return token, nil
}

// IssueBotToken выпускает долгоживущий токен бота. Выдать его может только
// владелец бота.
func (s *AuthService) IssueBotToken(ctx context.Context, userID, botID uuid.UUID) (*model.BotTokenResponse, error) {
	bot, err := s.botRepo.GetByID(ctx, botID)
	if err != nil {
		s.logger.WithError(err).Warn("Бот не найден при выпуске токена")
		return nil, fmt.Errorf("бот не найден")
	}
	if bot.UserID != userID {
		s.logger.Warn("Попытка выпустить токен для чужого бота")
		return nil, fmt.Errorf("бот не найден")
	}

	token, err := s.generateToken(bot.ID.String(), AudienceBot, s.botTokenExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Не удалось сгенерировать токен бота")
		return nil, fmt.Errorf("ошибка генерации токена: %w", err)
	}

	s.logger.WithField("bot_id", bot.ID).Info("Выпущен токен бота")
	return &model.BotTokenResponse{BotID: bot.ID, Token: token}, nil
}

// generateToken Генерация JWT токена с указанной аудиторией
func (s *AuthService) generateToken(subject, audience string, expiry time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// ParseToken Разбор и валидация JWT токена с проверкой аудитории
func (s *AuthService) ParseToken(tokenString, audience string) (string, error) {
	s.logger.Debug("Попытка парсинга JWT токена")

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Проверка метода подписи
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		s.logger.WithError(err).Warn("Невалидный JWT токен")
		return "", fmt.Errorf("невалидный токен: %w", err)
	}

	// Токен должен быть выпущен для запрошенной аудитории
	matched := false
	for _, aud := range claims.Audience {
		if aud == audience {
			matched = true
			break
		}
	}
	if !matched {
		s.logger.Warn("Аудитория токена не совпадает")
		return "", fmt.Errorf("токен выпущен для другой аудитории")
	}

	// Извлечение идентификатора субъекта
	subject := claims.Subject
	if subject == "" {
		s.logger.Error("Не удалось извлечь идентификатор из токена")
		return "", fmt.Errorf("некорректные claims токена")
	}

	return subject, nil
}
