package services

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"learnhub_payments/internal/config"
)

type Attachment struct {
	Name string
	Data []byte
}

type Mailer interface {
	Send(to, subject, body string, attachments ...Attachment) error
}

type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	s := &EmailService{from: from}
	if cfg.Host != "" && cfg.User != "" && cfg.Password != "" {
		s.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	}
	return s
}

func (s *EmailService) Send(to, subject, body string, attachments ...Attachment) error {
	if s.dialer == nil || s.from == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	for _, a := range attachments {
		data := a.Data
		m.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
