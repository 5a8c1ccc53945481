package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds SMTP provider settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"SMTP_HOST" default:"localhost"`
	Port     int    `mapstructure:"port" envconfig:"SMTP_PORT" default:"587"`
	User     string `mapstructure:"user" envconfig:"SMTP_USER" default:""`
	Password string `mapstructure:"password" envconfig:"SMTP_PASSWORD" default:""`

	FromEmail string `mapstructure:"from_email" envconfig:"SMTP_FROM" default:"noreply@velora.io"`
	FromName  string `mapstructure:"from_name" envconfig:"SMTP_FROM_NAME" default:"Velora"`

	// SendTimeout bounds one Send call including the in-call retries.
	SendTimeout time.Duration `mapstructure:"send_timeout" envconfig:"SMTP_SEND_TIMEOUT" default:"30s"`
}

// SMTPSender delivers messages over SMTP. Transient dial errors are retried
// briefly within a single Send call; scheduling across calls is the queue
// service's job.
type SMTPSender struct {
	dialer *gomail.Dialer
	cfg    SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		cfg:    cfg,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	m, messageID := s.build(msg)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	operation := func() error {
		return s.dialAndSend(ctx, m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = s.cfg.SendTimeout

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("smtp send error: %w", err)
	}
	return &Receipt{MessageID: messageID}, nil
}

func (s *SMTPSender) build(msg *Message) (*gomail.Message, string) {
	fromEmail := msg.FromEmail
	if fromEmail == "" {
		fromEmail = s.cfg.FromEmail
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = s.cfg.FromName
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", fromEmail, fromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	var messageID string
	if msg.QueueID != "" {
		messageID = fmt.Sprintf("<%s@%s>", msg.QueueID, s.cfg.Host)
		m.SetHeader("Message-Id", messageID)
	}

	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}
	return m, messageID
}

// dialAndSend runs the blocking gomail call under the context deadline.
// gomail has no context support, so the call is left to finish in the
// background when the deadline fires.
func (s *SMTPSender) dialAndSend(ctx context.Context, m *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
