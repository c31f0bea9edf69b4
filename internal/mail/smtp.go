// smtp.go
//
// Mailer interface and its SMTP, no-op, and logging implementations.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Mailer delivers the two transactional messages the account flows need.
// Links carry both the raw token and the recipient's email; the email is the lookup key.
type Mailer interface {
	// SendAccountActivation sends the one-time activation link.
	// vars is a map of %%key%% placeholder names to replacement values (e.g. "name": "Alice").
	// Reserved keys (url, toEmail, expiresIn) are owned by the mailer and cannot be overridden via vars.
	SendAccountActivation(ctx context.Context, toEmail, token string, vars map[string]string) error

	// SendPasswordReset sends the reset link; expiresIn is rendered into the body.
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host              string
	Port              string
	Username          string
	Password          string
	FromAddress       string
	ActivationURLBase string // e.g. https://murmur.example/account_activations
	ResetURLBase      string // e.g. https://murmur.example/password_resets
}

// SMTPMailer sends transactional email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer discards all outbound email.
type NopMailer struct{}

func (n *NopMailer) SendAccountActivation(_ context.Context, _, _ string, _ map[string]string) error {
	return nil
}

func (n *NopMailer) SendPasswordReset(_ context.Context, _, _ string, _ time.Duration, _ map[string]string) error {
	return nil
}

// LogMailer writes links to the log instead of sending them. Used in development
// when SMTP is not configured, so activation and reset links are still reachable.
type LogMailer struct {
	ActivationURLBase string
	ResetURLBase      string
}

func (l *LogMailer) SendAccountActivation(ctx context.Context, toEmail, token string, _ map[string]string) error {
	slog.InfoContext(ctx, "activation link issued", "to", toEmail, "url", LinkURL(l.ActivationURLBase, token, toEmail))
	return nil
}

func (l *LogMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, _ map[string]string) error {
	slog.InfoContext(ctx, "password reset link issued", "to", toEmail, "url", LinkURL(l.ResetURLBase, token, toEmail),
		"expires_in", formatDuration(expiresIn))
	return nil
}

// LinkURL builds <base>/<token>/edit?email=<email>, the shape both link handlers route.
func LinkURL(base, token, email string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(token) + "/edit?email=" + url.QueryEscape(email)
}

// reservedVars holds placeholder keys owned by the mailer.
// Caller-supplied vars with these keys are silently dropped to prevent override.
var reservedVars = map[string]bool{
	"url":       true,
	"toEmail":   true,
	"expiresIn": true,
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// mergeVars copies caller vars minus reserved keys, leaving room for the mailer's own.
func mergeVars(vars map[string]string) map[string]string {
	merged := make(map[string]string, len(vars)+3)
	for k, v := range vars {
		if !reservedVars[k] {
			merged[k] = v
		}
	}
	return merged
}

// formatDuration renders a duration as a human-readable expiry string.
// e.g. time.Hour → "1 hour", 48*time.Hour → "2 days", 30*time.Minute → "30 minutes".
func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
}

// buildMessage assembles headers and body for a plain-text message.
func (m *SMTPMailer) buildMessage(toEmail, subject, body string) string {
	return "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

// SendAccountActivation emails the activation link to toEmail.
// token is the raw (unhashed) activation token.
func (m *SMTPMailer) SendAccountActivation(ctx context.Context, toEmail, token string, vars map[string]string) error {
	merged := mergeVars(vars)
	merged["toEmail"] = toEmail
	merged["url"] = LinkURL(m.cfg.ActivationURLBase, token, toEmail)

	body := "Hi %%name%%,\n\n" +
		"Welcome to murmur! Click the link below to activate your account:\n\n" +
		"%%url%%\n\n" +
		"If you did not sign up, ignore this email."

	msg := m.buildMessage(toEmail, "Account activation", body)
	if err := m.sendMail(ctx, toEmail, applyVars(msg, merged)); err != nil {
		return fmt.Errorf("sending account activation: %w", err)
	}
	return nil
}

// SendPasswordReset emails a password reset link to toEmail.
// token is the raw (unhashed) reset token.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	merged := mergeVars(vars)
	merged["toEmail"] = toEmail
	merged["expiresIn"] = formatDuration(expiresIn)
	merged["url"] = LinkURL(m.cfg.ResetURLBase, token, toEmail)

	body := "To reset your password click the link below:\n\n" +
		"%%url%%\n\n" +
		"This link will expire in %%expiresIn%%.\n\n" +
		"If you did not request your password to be reset, please ignore this email and\n" +
		"your password will stay as it is."

	msg := m.buildMessage(toEmail, "Password reset", body)
	if err := m.sendMail(ctx, toEmail, applyVars(msg, merged)); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}
