package service

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-mail/mail/v2"
	"github.com/sirupsen/logrus"

	"covercard-api/internal/model"
)

type EmailSender struct {
	dialer               *mail.Dialer
	logger               *logrus.Logger
	enabled              bool
	isInsecureSkipVerify bool
}

func NewEmailSender(logger *logrus.Logger) *EmailSender {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPortStr := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	enabledStr := os.Getenv("EMAIL_SENDER_ENABLED")
	isInsecureSkipVerifyStr := os.Getenv("INSECURE_SKIP_VERIFY")
	// Преобразуем smtpPort в int
	smtpPort, err := strconv.Atoi(smtpPortStr)
	if err != nil {
		logger.Fatalf("Ошибка преобразования SMTP_PORT: %v", err)
	}
	// Преобразуем enabled в bool
	enabled := enabledStr == "true"
	isInsecureSkipVerify := isInsecureSkipVerifyStr == "true"
	d := mail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPass)
	d.TLSConfig = &tls.Config{
		ServerName:         smtpHost,
		InsecureSkipVerify: isInsecureSkipVerify,
	}
	return &EmailSender{
		dialer:  d,
		logger:  logger,
		enabled: enabled,
	}
}

// SendConfirmationRequest отправляет владельцу письмо с запросом на
// подтверждение покупки и ссылками на решение
func (es *EmailSender) SendConfirmationRequest(email string, conf *model.CheckoutConfirmation, approveURL, rejectURL string) error {
	if !es.enabled {
		es.logger.Warn("Отправка уведомлений отключена")
		return nil
	}

	subject := "Требуется подтверждение покупки"
	content := fmt.Sprintf(`
		<h1>Запрос на подтверждение покупки</h1>
		<p>Магазин: <strong>%s</strong></p>
		<p>Товар: <strong>%s</strong></p>
		<p>Сумма: <strong>%.2f USD</strong></p>
		<p><a href="%s">Подтвердить покупку</a> | <a href="%s">Отклонить покупку</a></p>
		<p>Ссылки действительны до <strong>%s</strong></p>
		<small>Это автоматическое уведомление, пожалуйста, не отвечайте на него</small>
	`, conf.MerchantName, conf.ItemName, model.CentsToUSD(conf.AmountCents),
		approveURL, rejectURL, conf.ExpiresAt.Format("02.01.2006 15:04"))

	return es.sendEmail(email, subject, content)
}

func (es *EmailSender) SendPurchaseNotification(email string, amountCents int64, merchant, item string) error {
	if !es.enabled {
		es.logger.Warn("Отправка уведомлений отключена")
		return nil
	}

	subject := "Уведомление о покупке"
	content := fmt.Sprintf(`
		<h1>Уведомление о покупке</h1>
		<p>Магазин: <strong>%s</strong></p>
		<p>Товар: <strong>%s</strong></p>
		<p>Сумма: <strong>%.2f USD</strong></p>
		<p>Дата: <strong>%s</strong></p>
		<small>Это автоматическое уведомление, пожалуйста, не отвечайте на него</small>
	`, merchant, item, model.CentsToUSD(amountCents), time.Now().Format("02.01.2006 15:04"))

	return es.sendEmail(email, subject, content)
}

func (es *EmailSender) SendDeclineNotification(email string, amountCents int64, merchant, reason string) error {
	if !es.enabled {
		es.logger.Warn("Отправка уведомлений отключена")
		return nil
	}

	subject := "Покупка отклонена"
	content := fmt.Sprintf(`
		<h1>Покупка отклонена</h1>
		<p>Магазин: <strong>%s</strong></p>
		<p>Сумма: <strong>%.2f USD</strong></p>
		<p>Причина: <strong>%s</strong></p>
		<p>Дата: <strong>%s</strong></p>
		<small>Это автоматическое уведомление, пожалуйста, не отвечайте на него</small>
	`, merchant, model.CentsToUSD(amountCents), reason, time.Now().Format("02.01.2006 15:04"))

	return es.sendEmail(email, subject, content)
}

func (es *EmailSender) SendLowBalanceAlert(email string, balanceCents int64) error {
	if !es.enabled {
		es.logger.Warn("Отправка уведомлений отключена")
		return nil
	}

	subject := "Низкий баланс кошелька"
	content := fmt.Sprintf(`
		<h1>Низкий баланс кошелька</h1>
		<p>Остаток на кошельке: <strong>%.2f USD</strong></p>
		<p>Пополните кошелек, чтобы бот мог продолжать покупки</p>
		<small>Это автоматическое уведомление, пожалуйста, не отвечайте на него</small>
	`, model.CentsToUSD(balanceCents))

	return es.sendEmail(email, subject, content)
}

func (es *EmailSender) sendEmail(to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", os.Getenv("SMTP_USER"))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := es.dialer.DialAndSend(m); err != nil {
		es.logger.WithError(err).Error("Ошибка отправки email")
		return fmt.Errorf("не удалось отправить email: %w", err)
	}

	es.logger.Infof("Email успешно отправлен на %s", to)
	return nil
}
