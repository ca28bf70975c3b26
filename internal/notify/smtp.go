package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

type (
	// SMTPOptions configures the SMTP email sender.
	SMTPOptions struct {
		// Host and Port locate the SMTP relay. Required.
		Host string
		Port int
		// From is the sender address. Required.
		From string
		// Username and Password enable PLAIN auth when set.
		Username string
		Password string
	}

	// SMTPSender delivers emails through a plain SMTP relay.
	SMTPSender struct {
		addr string
		from string
		auth smtp.Auth
	}

	// LogSender is the EmailSender used when no relay is configured: it
	// logs the email instead of delivering it.
	LogSender struct {
		Logger telemetry.Logger
	}
)

// NewSMTPSender constructs an SMTP-backed sender.
func NewSMTPSender(opts SMTPOptions) (*SMTPSender, error) {
	if opts.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if opts.Port <= 0 {
		return nil, errors.New("smtp port is required")
	}
	if opts.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	var auth smtp.Auth
	if opts.Username != "" {
		auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		from: opts.From,
		auth: auth,
	}, nil
}

// Send delivers one email.
func (s *SMTPSender) Send(_ context.Context, email Email) error {
	if email.To == "" {
		return errors.New("recipient address is required")
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", email.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", email.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(email.Body)
	return smtp.SendMail(s.addr, s.auth, s.from, []string{email.To}, []byte(msg.String()))
}

// Send logs the email in place of delivery.
func (l LogSender) Send(ctx context.Context, email Email) error {
	logger := l.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	logger.Info(ctx, "email delivery disabled, logging instead",
		"to", email.To, "subject", email.Subject)
	return nil
}
