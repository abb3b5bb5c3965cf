// Package email sends transactional mail over SMTP.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// Message is a single outgoing HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through an authenticated SMTP relay.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPSender creates an SMTPSender.
// It accepts five arguments:
// - host, port: the SMTP relay, e.g. smtp.gmail.com and 587.
// - user, password: PLAIN auth credentials.
// - from: the "From" address. Empty falls back to user.
//
// No connection is made until Ping or Send is called.
func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	if from == "" {
		from = user
	}
	return &SMTPSender{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		auth: smtp.PlainAuth("", user, password, host),
		from: from,
	}
}

// Ping dials the SMTP server to check that it is reachable.
func (s *SMTPSender) Ping() error {
	c, err := smtp.Dial(s.addr)
	if err != nil {
		return fmt.Errorf("cannot connect to the SMTP server: %v", err)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("cannot close the SMTP connection: %v", err)
	}
	return nil
}

// Send delivers msg. The context is checked before dialing; net/smtp itself
// cannot be cancelled mid-send.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := smtp.SendMail(s.addr, s.auth, s.from, []string{msg.To}, Compose(s.from, msg))
	if err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}
	return nil
}

// Compose renders msg as a MIME message with headers in a stable order.
func Compose(from string, msg Message) []byte {
	headers := map[string]string{
		"From":         from,
		"To":           msg.To,
		"Subject":      msg.Subject,
		"MIME-version": "1.0",
		"Content-Type": "text/html; charset=\"UTF-8\"",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// LogSender writes messages to a logger instead of sending them.
// Used when no SMTP credentials are configured.
type LogSender struct {
	Logger *log.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.Info("email not sent, SMTP is not configured", "to", msg.To, "subject", msg.Subject)
	return nil
}

// VerificationEmail builds the message carrying a verification code.
func VerificationEmail(to, code string) Message {
	body := `
	<html>
		<head>
			<style>
				body {
					font-family: sans-serif;
					margin: 0;
					padding: 0;
				}
				.container {
					max-width: 600px;
					margin: 0 auto;
					padding: 10px;
				}
				.code {
					font-size: 28px;
					letter-spacing: 6px;
				}
			</style>
		</head>
		<body>
			<div class="container">
				<h1>Welcome to FitQuest</h1>
				<p>Your verification code is:</p>
				<p class="code"><strong>` + code + `</strong></p>
				<p>Enter it in the app to verify your email. The code expires soon, so use it right away.</p>
			</div>
		</body>
	</html>
	`
	return Message{To: to, Subject: "Your FitQuest verification code", HTML: body}
}
