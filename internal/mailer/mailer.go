// Package mailer renders the lifecycle emails and hands them to a transport
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/prperemyshlev/auth-lifecycle/internal/domain"
	"go.uber.org/zap"
)

const (
	TransportLog  = "log"
	TransportSMTP = "smtp"
	TransportAMQP = "amqp"
)

// Message is a rendered email
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Transport delivers rendered messages
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Mailer renders verification and reset emails
type Mailer struct {
	transport Transport
	from      string
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a mailer sending through transport
func New(transport Transport, from string, timeout time.Duration, logger *zap.Logger) *Mailer {
	return &Mailer{
		transport: transport,
		from:      from,
		timeout:   timeout,
		logger:    logger,
	}
}

// NewTransport builds the transport selected by cfg.Transport
func NewTransport(cfg config.MailConfig, logger *zap.Logger) (Transport, error) {
	switch cfg.Transport {
	case TransportLog:
		return NewLogTransport(logger), nil
	case TransportSMTP:
		return NewSMTPTransport(cfg)
	case TransportAMQP:
		return NewAMQPTransport(cfg.AMQPURL, cfg.AMQPQueue)
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

// SendVerificationEmail sends the email confirmation link to user
func (m *Mailer) SendVerificationEmail(ctx context.Context, user *domain.User, link string) error {
	return m.send(ctx, user, verificationEmail, link)
}

// SendPasswordResetEmail sends the password reset link to user
func (m *Mailer) SendPasswordResetEmail(ctx context.Context, user *domain.User, link string) error {
	return m.send(ctx, user, passwordResetEmail, link)
}

// Close releases the transport
func (m *Mailer) Close() error {
	return m.transport.Close()
}

func (m *Mailer) send(ctx context.Context, user *domain.User, tmpl *emailTemplate, link string) error {
	msg, err := tmpl.render(templateData{Name: user.Name, Link: link})
	if err != nil {
		return err
	}
	msg.From = m.from
	msg.To = user.Email

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %q email: %w", msg.Subject, err)
	}

	m.logger.Debug("email sent", zap.String("subject", msg.Subject), zap.Int64("user_id", user.ID))
	return nil
}
