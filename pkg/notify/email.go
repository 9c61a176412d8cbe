package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailChannel delivers over SMTP with STARTTLS when the server offers it.
type EmailChannel struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       string

	// send is swapped in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel returns nil unless host, from and to are all set, so the
// caller can pass the result straight to New.
func NewEmailChannel(host, port, username, password, from, to string) *EmailChannel {
	if host == "" || from == "" || to == "" {
		return nil
	}
	if port == "" {
		port = "587"
	}
	return &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Send composes an RFC 5322 text message and hands it to the SMTP server.
func (c *EmailChannel) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("notify: email: %w", err)
	}
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.from)
	fmt.Fprintf(&msg, "To: %s\r\n", c.to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", m.Subject())
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(m.Body(), "\n", "\r\n"))

	addr := c.host + ":" + c.port
	if err := c.send(addr, auth, c.from, []string{c.to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("notify: email via %s: %w", addr, err)
	}
	return nil
}
