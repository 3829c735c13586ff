package service

import (
	"bytes"
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"covercard-api/internal/model"
	"covercard-api/internal/repository"
)

// Имена и индексы для фабрикации ложных профилей
var fakeHolderNames = []string{
	"Alex Morgan", "Jordan Reed", "Casey Bennett", "Taylor Brooks",
	"Riley Hayes", "Morgan Ellis", "Quinn Foster", "Avery Sullivan",
}

// CardService управляет картами с разделенным знанием: настоящий профиль
// и ложные хранятся в одинаковой форме (PGP блок плюс HMAC целостности),
// индекс настоящего знает только сервер.
type CardService struct {
	userRepo    UserStore
	botRepo     BotStore
	cardRepo    CardStore
	emailSender Notifier
	pgpKey      *openpgp.Entity
	hmacKey     []byte
	logger      *logrus.Logger
}

func NewCardService(
	userRepo UserStore,
	botRepo BotStore,
	cardRepo CardStore,
	emailSender Notifier,
	pgpKey *openpgp.Entity,
	hmacKey []byte,
	logger *logrus.Logger,
) *CardService {
	return &CardService{
		userRepo:    userRepo,
		botRepo:     botRepo,
		cardRepo:    cardRepo,
		emailSender: emailSender,
		pgpKey:      pgpKey,
		hmacKey:     hmacKey,
		logger:      logger,
	}
}

// CreateCard создает карту: настоящий профиль из данных владельца плюс
// 1-5 сфабрикованных ложных, в случайном порядке
func (s *CardService) CreateCard(ctx context.Context, userID uuid.UUID, req *model.CreateCardRequest) (*model.CardResponse, error) {
	s.logger.Info("Создание новой карты...")

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. Бот должен принадлежать владельцу
	bot, err := s.botRepo.GetByID(ctx, req.BotID)
	if err != nil {
		s.logger.WithError(err).Warn("Бот не найден")
		return nil, fmt.Errorf("бот не найден")
	}
	if bot.UserID != userID {
		s.logger.Warn("Бот не принадлежит пользователю")
		return nil, fmt.Errorf("бот не принадлежит пользователю")
	}

	// 2. Настоящий профиль получает случайный индекс среди ложных
	profileCount := req.FakeProfiles + 1
	realIndex := rand.Intn(profileCount)

	s.logger.WithFields(logrus.Fields{
		"profile_count": profileCount,
	}).Info("Генерация профилей карты")

	card := &model.Card{
		ID:               uuid.New(),
		UserID:           userID,
		BotID:            req.BotID,
		Status:           model.CardStatusPendingSetup,
		MissingPositions: req.MissingPositions,
		RealProfileIndex: realIndex,
		ProfileCount:     profileCount,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	profiles := make([]model.CardProfile, 0, profileCount)
	permissions := make([]model.ProfilePermission, 0, profileCount)
	for i := 0; i < profileCount; i++ {
		var profile *model.CardProfile
		if i == realIndex {
			profile, err = s.buildProfile(card.ID, i, req.MissingDigits, req.ExpiryMonth, req.ExpiryYear, req.HolderName, req.BillingZip)
		} else {
			profile, err = s.fabricateProfile(card.ID, i, len(req.MissingDigits))
		}
		if err != nil {
			s.logger.WithError(err).Error("Ошибка при шифровании профиля карты")
			return nil, err
		}
		profiles = append(profiles, *profile)

		// Стартовая политика одинакова для всех профилей, чтобы записи
		// не выдавали, какой из них настоящий
		permissions = append(permissions, model.ProfilePermission{
			CardID:         card.ID,
			ProfileIndex:   i,
			Window:         req.Permission.Window,
			AllowanceCents: req.Permission.AllowanceCents,
			ExemptCents:    req.Permission.ExemptCents,
			Mode:           req.Permission.Mode,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		})
	}

	// 3. Карта, профили и политики сохраняются одной транзакцией
	s.logger.Info("Сохранение карты в базу данных")
	if err := s.cardRepo.Create(ctx, card, profiles, permissions); err != nil {
		s.logger.WithError(err).Error("Ошибка при сохранении карты")
		return nil, err
	}

	// 4. Контрольная проверка HMAC настоящего профиля
	if _, err := s.DecryptProfile(&profiles[realIndex]); err != nil {
		s.logger.WithError(err).Error("Проверка профиля не прошла после создания карты")
	}

	s.logger.WithField("card_id", card.ID).Info("Карта успешно создана")
	return &model.CardResponse{
		ID:           card.ID,
		BotID:        card.BotID,
		Status:       card.Status,
		ProfileCount: card.ProfileCount,
		CreatedAt:    card.CreatedAt,
	}, nil
}

// ActivateCard переводит карту из pending_setup в active
func (s *CardService) ActivateCard(ctx context.Context, cardID, userID uuid.UUID) error {
	s.logger.WithFields(logrus.Fields{
		"card_id": cardID,
		"user_id": userID,
	}).Info("Активация карты")

	if err := s.cardRepo.Activate(ctx, cardID, userID); err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return fmt.Errorf("карта не найдена или уже активирована")
		}
		s.logger.WithError(err).Error("Ошибка при активации карты")
		return err
	}

	return nil
}

// GetCard возвращает карту владельца без индекса настоящего профиля
func (s *CardService) GetCard(ctx context.Context, cardID, userID uuid.UUID) (*model.CardResponse, error) {
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, fmt.Errorf("карта не найдена")
		}
		s.logger.WithError(err).Error("Ошибка при получении карты")
		return nil, fmt.Errorf("не удалось получить карту: %w", err)
	}

	if card.UserID != userID {
		s.logger.Warn("Карта не принадлежит пользователю")
		return nil, fmt.Errorf("карта не найдена")
	}

	return &model.CardResponse{
		ID:           card.ID,
		BotID:        card.BotID,
		Status:       card.Status,
		ProfileCount: card.ProfileCount,
		CreatedAt:    card.CreatedAt,
	}, nil
}

func (s *CardService) ListUserCards(ctx context.Context, userID uuid.UUID) ([]model.CardResponse, error) {
	s.logger.WithField("user_id", userID).Info("Получение списка карт пользователя")

	cards, err := s.cardRepo.ListByUser(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка при получении карт пользователя")
		return nil, fmt.Errorf("не удалось получить карты пользователя: %w", err)
	}

	responses := make([]model.CardResponse, 0, len(cards))
	for _, card := range cards {
		responses = append(responses, model.CardResponse{
			ID:           card.ID,
			BotID:        card.BotID,
			Status:       card.Status,
			ProfileCount: card.ProfileCount,
			CreatedAt:    card.CreatedAt,
		})
	}

	return responses, nil
}

// UpdatePermission меняет политику трат одного профиля карты
func (s *CardService) UpdatePermission(ctx context.Context, cardID, userID uuid.UUID, profileIndex int, req *model.UpdatePermissionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return fmt.Errorf("карта не найдена")
		}
		return err
	}
	if card.UserID != userID {
		return fmt.Errorf("карта не найдена")
	}
	if profileIndex < 0 || profileIndex >= card.ProfileCount {
		return fmt.Errorf("неизвестный профиль карты")
	}

	if err := s.cardRepo.UpdatePermission(ctx, cardID, profileIndex, req); err != nil {
		s.logger.WithError(err).Error("Ошибка при обновлении политики профиля")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"card_id":       cardID,
		"profile_index": profileIndex,
		"window":        req.Window,
		"mode":          req.Mode,
	}).Info("Политика профиля обновлена")

	return nil
}

func (s *CardService) ListPermissions(ctx context.Context, cardID, userID uuid.UUID) ([]model.ProfilePermission, error) {
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, fmt.Errorf("карта не найдена")
		}
		return nil, err
	}
	if card.UserID != userID {
		return nil, fmt.Errorf("карта не найдена")
	}

	return s.cardRepo.ListPermissions(ctx, cardID)
}

// buildProfile шифрует данные профиля и считает HMAC целостности
func (s *CardService) buildProfile(cardID uuid.UUID, index int, digits string, expiryMonth, expiryYear int, holderName, billingZip string) (*model.CardProfile, error) {
	profileData := fmt.Sprintf("%s|%02d/%04d", digits, expiryMonth, expiryYear)

	encryptedData, err := s.encryptData(profileData)
	if err != nil {
		return nil, err
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write([]byte(profileData))
	hmacValue := fmt.Sprintf("%x", h.Sum(nil))

	return &model.CardProfile{
		CardID:        cardID,
		ProfileIndex:  index,
		HolderName:    holderName,
		BillingZip:    billingZip,
		EncryptedData: string(encryptedData),
		HMAC:          hmacValue,
		CreatedAt:     time.Now(),
	}, nil
}

// fabricateProfile собирает ложный профиль, неотличимый по форме от
// настоящего: случайные цифры той же длины, правдоподобный срок действия
func (s *CardService) fabricateProfile(cardID uuid.UUID, index, digitCount int) (*model.CardProfile, error) {
	digits := make([]byte, digitCount)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}

	expiry := time.Now().AddDate(1+rand.Intn(4), rand.Intn(12), 0)
	holder := fakeHolderNames[rand.Intn(len(fakeHolderNames))]
	zip := strconv.Itoa(10000 + rand.Intn(90000))

	return s.buildProfile(cardID, index, string(digits), int(expiry.Month()), expiry.Year(), holder, zip)
}

// DecryptProfile восстанавливает данные профиля и проверяет HMAC
func (s *CardService) DecryptProfile(profile *model.CardProfile) (*model.CardProfileData, error) {
	block, err := armor.Decode(strings.NewReader(profile.EncryptedData))
	if err != nil {
		return nil, fmt.Errorf("не удалось декодировать armor: %w", err)
	}

	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{s.pgpKey}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка расшифровки: %w", err)
	}

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать расшифрованные данные: %w", err)
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(plaintext)
	expectedMAC := fmt.Sprintf("%x", h.Sum(nil))
	if !hmac.Equal([]byte(profile.HMAC), []byte(expectedMAC)) {
		s.logger.WithFields(logrus.Fields{
			"card_id":       profile.CardID,
			"profile_index": profile.ProfileIndex,
		}).Error("Проверка целостности данных профиля не пройдена")
		return nil, fmt.Errorf("проверка целостности данных не пройдена")
	}

	parts := strings.Split(string(plaintext), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("неверный формат данных профиля")
	}

	expiryParts := strings.Split(parts[1], "/")
	if len(expiryParts) != 2 {
		return nil, fmt.Errorf("неверный формат срока действия")
	}
	month, err := strconv.Atoi(expiryParts[0])
	if err != nil {
		return nil, fmt.Errorf("неверный формат срока действия")
	}
	year, err := strconv.Atoi(expiryParts[1])
	if err != nil {
		return nil, fmt.Errorf("неверный формат срока действия")
	}

	return &model.CardProfileData{
		MissingDigits: parts[0],
		ExpiryMonth:   month,
		ExpiryYear:    year,
	}, nil
}

// encryptData шифрует данные профиля PGP ключом сервера
func (s *CardService) encryptData(data string) ([]byte, error) {
	buf := new(bytes.Buffer)

	armorWriter, err := armor.Encode(buf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать armor writer: %w", err)
	}

	config := &packet.Config{
		DefaultHash:            crypto.SHA256,
		DefaultCipher:          packet.CipherAES256,
		DefaultCompressionAlgo: packet.CompressionZLIB,
	}

	plaintextWriter, err := openpgp.Encrypt(armorWriter, []*openpgp.Entity{s.pgpKey}, nil, nil, config)
	if err != nil {
		armorWriter.Close()
		return nil, fmt.Errorf("не удалось создать writer для шифрования: %w", err)
	}

	if _, err := plaintextWriter.Write([]byte(data)); err != nil {
		armorWriter.Close()
		return nil, fmt.Errorf("ошибка при записи открытого текста: %w", err)
	}

	if err := plaintextWriter.Close(); err != nil {
		armorWriter.Close()
		return nil, fmt.Errorf("ошибка при закрытии writer текста: %w", err)
	}

	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("ошибка при закрытии armor writer: %w", err)
	}

	return buf.Bytes(), nil
}
