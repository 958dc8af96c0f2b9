package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"
)

// SMTPNotifier delivers mail through a relay with STARTTLS and PLAIN auth.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
	subject  string
}

// NewSMTPNotifier constructs a notifier backed by an SMTP relay.
func NewSMTPNotifier(host, port, username, password, from, subject string) *SMTPNotifier {
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		subject:  subject,
	}
}

// Attempt sends one email to destination. SMTP 5xx replies and malformed
// destinations classify as permanent failures; everything else as transient.
func (n *SMTPNotifier) Attempt(ctx context.Context, destination string, body string) error {
	if _, err := mail.ParseAddress(destination); err != nil {
		return permanent(fmt.Errorf("invalid destination %q: %w", destination, err))
	}

	data, err := buildMIME(n.from, destination, n.subject, body)
	if err != nil {
		return permanent(err)
	}

	if err := n.send(ctx, destination, data); err != nil {
		return classifySMTP(err)
	}
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, destination string, data []byte) error {
	addr := net.JoinHostPort(n.host, n.port)
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Minute)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, n.host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConf := &tls.Config{
			ServerName: n.host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConf); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.username != "" {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(n.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(destination); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}

	return nil
}

// classifySMTP maps an SMTP-level error to a delivery failure kind. A 5xx
// reply means the server definitively refused the message; 4xx replies and
// transport errors may succeed on a later attempt.
func classifySMTP(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return permanent(err)
	}
	return transient(err)
}
