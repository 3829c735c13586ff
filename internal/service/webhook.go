package service

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookClient доставляет события владельцу на настроенный URL. Каждое
// тело подписывается HMAC-SHA256, подпись уходит в заголовке
// X-Covercard-Signature.
type WebhookClient struct {
	httpClient *http.Client
	url        string
	hmacKey    []byte
	logger     *logrus.Logger
}

// NewWebhookClient создает клиент вебхуков. Пустой URL выключает доставку.
func NewWebhookClient(url string, hmacKey []byte, logger *logrus.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		url:     url,
		hmacKey: hmacKey,
		logger:  logger,
	}
}

// Dispatch отправляет событие. Доставка best-effort: ошибка логируется
// вызывающей стороной и не влияет на принятое решение.
func (c *WebhookClient) Dispatch(event string, payload map[string]interface{}) error {
	if c.url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации вебхука: %w", err)
	}

	req, err := http.NewRequest("POST", c.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	// Установка заголовков
	h := hmac.New(sha256.New, c.hmacKey)
	h.Write(body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Covercard-Signature", fmt.Sprintf("%x", h.Sum(nil)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка при выполнении HTTP-запроса: %w", err)
	}
	defer resp.Body.Close()

	// Тело ответа не используется, но соединение нужно дочитать
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("вебхук отклонен получателем: статус %d", resp.StatusCode)
	}

	c.logger.WithField("event", event).Debug("Вебхук доставлен")
	return nil
}
