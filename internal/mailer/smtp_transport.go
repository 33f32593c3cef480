package mailer

import (
	"context"
	"fmt"

	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/wneessen/go-mail"
)

// SMTPTransport delivers messages through an SMTP relay
type SMTPTransport struct {
	client *mail.Client
}

// NewSMTPTransport configures an SMTP client. Port 465 style implicit TLS is
// used when cfg.SMTPSecure is set, STARTTLS otherwise.
func NewSMTPTransport(cfg config.MailConfig) (*SMTPTransport, error) {
	opts := []mail.Option{mail.WithPort(cfg.SMTPPort)}
	if cfg.Timeout.Duration > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout.Duration))
	}
	if cfg.SMTPSecure {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPTransport{client: client}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	m, err := buildMsg(msg)
	if err != nil {
		return err
	}
	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

// Close is a no-op; connections are opened per send
func (t *SMTPTransport) Close() error {
	return nil
}

func buildMsg(msg *Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
