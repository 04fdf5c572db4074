package external

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"courier/internal/types"
)

// SMTPClientConfig configures the SMTP relay.
type SMTPClientConfig struct {
	Host     string
	Port     int
	User     string
	Password types.SecretString
	Logger   *slog.Logger
}

// smtpSendFunc hands a rendered message to the relay.
type smtpSendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// SMTPClient implements EmailProvider against an SMTP relay. STARTTLS is used
// when the server offers it; PLAIN auth is used when a user is configured.
type SMTPClient struct {
	host   string
	addr   string
	auth   smtp.Auth
	send   smtpSendFunc
	now    func() time.Time
	logger *slog.Logger
}

// SMTPOption configures an SMTPClient.
type SMTPOption func(*SMTPClient)

// withSMTPSend replaces the network exchange. Used by tests.
func withSMTPSend(fn smtpSendFunc) SMTPOption {
	return func(c *SMTPClient) { c.send = fn }
}

// WithSMTPClock overrides the clock used for the Date header.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(c *SMTPClient) { c.now = now }
}

// NewSMTPClient creates an SMTPClient for cfg.
func NewSMTPClient(cfg SMTPClientConfig, opts ...SMTPOption) (*SMTPClient, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp: invalid port %d", cfg.Port)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &SMTPClient{
		host:   cfg.Host,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:    time.Now,
		logger: logger,
	}
	if cfg.User != "" {
		c.auth = smtp.PlainAuth("", cfg.User, cfg.Password.Unmask(), cfg.Host)
	}
	c.send = c.dialAndSend

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send delivers input as a multipart/alternative message. The returned id is
// the Message-Id header written into the message.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := mail.Address{Name: input.From.Name, Address: input.From.Address}
	to, err := mail.ParseAddress(input.To)
	if err != nil {
		return "", types.Permanent(types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("invalid recipient %q", types.RedactEmail(input.To)), err))
	}

	msgID := c.messageID(input.ReferenceID, input.From.Address)
	msg, err := c.buildMessage(from, *to, input, msgID)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build email", err)
	}

	if err := c.send(ctx, from.Address, []string{to.Address}, msg); err != nil {
		mapped := mapSMTPError(err)
		c.logger.WarnContext(ctx, "SMTP send failed",
			"reference_id", input.ReferenceID,
			"permanent", types.IsPermanent(mapped),
			"error", err.Error(),
		)
		return "", mapped
	}

	c.logger.InfoContext(ctx, "SMTP relay accepted message",
		"reference_id", input.ReferenceID,
		"message_id", msgID,
	)
	return msgID, nil
}

func (c *SMTPClient) messageID(ref, from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	if ref == "" {
		ref = strconv.FormatInt(c.now().UnixNano(), 36)
	}
	return fmt.Sprintf("<%s@%s>", ref, domain)
}

func (c *SMTPClient) buildMessage(from, to mail.Address, input types.SendInput, msgID string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := func(k, v string) {
		buf.WriteString(k + ": " + v + "\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", input.Subject))
	header("Date", c.now().UTC().Format(time.RFC1123Z))
	header("Message-Id", msgID)
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", input.BodyText},
		{"text/html; charset=UTF-8", input.BodyHTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(crlf(p.body))); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func (c *SMTPClient) dialAndSend(ctx context.Context, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if c.auth != nil {
		if err := client.Auth(c.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

// mapSMTPError treats 5xx replies as permanent and everything else
// (4xx replies, network errors) as retryable.
func mapSMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return types.Permanent(types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SMTP rejected message (%d)", tpErr.Code), err))
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SMTP send failed", err)
}

var _ EmailProvider = (*SMTPClient)(nil)
