package digest

import (
	"context"

	"github.com/sraws/backend/pkg/config"
	"gopkg.in/gomail.v2"
)

// Mailer sends one HTML email.
type Mailer interface {
	Send(ctx context.Context, from config.SMTPSender, to, subject, html string) error
}

// SMTPMailer sends through an SMTP relay, authenticating as the sender.
type SMTPMailer struct {
	host string
	port int
}

func NewSMTPMailer(host string, port int) *SMTPMailer {
	return &SMTPMailer{host: host, port: port}
}

func (m *SMTPMailer) Send(_ context.Context, from config.SMTPSender, to, subject, html string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(from.Address, "Sraws"))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := gomail.NewDialer(m.host, m.port, from.Address, from.Password)
	return d.DialAndSend(msg)
}
