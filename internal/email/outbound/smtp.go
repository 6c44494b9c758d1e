package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// SMTPConfig holds connection settings for the SMTP transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From overrides the envelope sender; empty means use the message's
	// From address.
	From   string
	UseTLS bool
}

// SMTPTransport delivers composed messages over SMTP, either plaintext with
// STARTTLS left to the server dialog or over an implicit TLS connection.
type SMTPTransport struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPTransport builds a transport from config.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		cfg: cfg,
		now: time.Now,
	}
}

// Send delivers one message. The body is sent as HTML, matching what the
// pipeline stores for threads.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("smtp send: message required")
	}
	if len(msg.To) == 0 {
		return errors.New("smtp send: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := t.cfg.From
	if from == "" {
		from = msg.From
	}
	if from == "" {
		return errors.New("smtp send: no sender address")
	}

	payload := t.render(from, msg)
	recipients := append(append(append([]string{}, msg.To...), msg.CC...), msg.BCC...)
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	if t.cfg.UseTLS {
		return t.sendTLS(addr, from, recipients, payload)
	}

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, from, recipients, payload); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (t *SMTPTransport) sendTLS(addr, from string, recipients []string, payload []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.cfg.Host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (t *SMTPTransport) render(from string, msg *Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", t.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")

	// Deterministic header order keeps the payload stable for tests.
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, msg.Headers[k])
	}

	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}
