package mail

import (
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/subkeeper/subkeeper/internal/pkg/env"
)

// SendMail sends a plain HTML email via SMTP.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
	}
	return err
}

// GraceWarningNotifier sends dunning warnings over SMTP. It satisfies the
// billing engine's WarningNotifier.
type GraceWarningNotifier struct{}

// NewGraceWarningNotifier creates an SMTP-backed warning notifier.
func NewGraceWarningNotifier() *GraceWarningNotifier {
	return &GraceWarningNotifier{}
}

func (n *GraceWarningNotifier) NotifyGraceWarning(email string, subscriptionID uint, daysLeft int) error {
	subject := fmt.Sprintf("Your subscription will be cancelled in %d day(s)", daysLeft)
	body := fmt.Sprintf(
		"<p>We could not collect payment for your subscription (#%d).</p>"+
			"<p>Please update your payment method within %d day(s) to keep your subscription active.</p>",
		subscriptionID, daysLeft,
	)
	return SendMail(email, subject, body)
}
