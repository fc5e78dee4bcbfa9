package mail

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer delivers transactional mail. The smtp implementation points at the
// configured relay (mailpit in development).
type Mailer interface {
	Send(to, subject, body string) error
}

type SmtpMailer struct {
	addr string
	from string
}

func NewSmtpMailer(addr, from string) *SmtpMailer {
	return &SmtpMailer{addr: addr, from: from}
}

func (m *SmtpMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg))
	if err != nil {
		slog.Error("error sending mail", "to", to, "subject", subject, "error", err)
		return fmt.Errorf("error sending mail to %v: %w", to, err)
	}

	slog.Info("mail sent", "to", to, "subject", subject)
	return nil
}

// CapturedMail is one message recorded by the in-memory mailer.
type CapturedMail struct {
	To      string
	Subject string
	Body    string
}

// MemoryMailer records messages instead of delivering them, used in tests.
type MemoryMailer struct {
	Sent []CapturedMail
}

func (m *MemoryMailer) Send(to, subject, body string) error {
	m.Sent = append(m.Sent, CapturedMail{To: to, Subject: subject, Body: body})
	return nil
}

// ChangeEmailVerification renders the templated verification message sent
// to a new address on change-email.
func ChangeEmailVerification(name, newEmail, token string) (subject, body string) {
	subject = "Verify your new email address"
	body = fmt.Sprintf(
		"Hi %v,\n\nA request was made to change your account email to %v.\n"+
			"Use the verification code below to confirm the change:\n\n%v\n\n"+
			"If you did not request this change you can ignore this message.\n",
		name, newEmail, token)
	return subject, body
}
