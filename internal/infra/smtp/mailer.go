package smtp

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/infra/config"
	"github.com/lumenauth/magiclink-service/internal/infra/logger"
)

// Mailer delivers login emails over SMTP with plain auth.
type Mailer struct {
	cfg    config.SMTPSettings
	logger *zap.Logger
}

// NewMailer constructs an SMTP-backed mailer.
func NewMailer(cfg config.SMTPSettings, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: log}
}

// Send delivers an HTML email to a single recipient. The context deadline is
// honored by running the SMTP exchange in a goroutine.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.cfg.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.Info("login email sent",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("subject", subject),
	)

	return nil
}

var _ port.Mailer = (*Mailer)(nil)
