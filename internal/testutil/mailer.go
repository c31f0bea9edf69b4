// mailer.go
//
// RecordingMailer captures outbound mail so tests can follow the links.
package testutil

import (
	"context"
	"sync"
	"time"
)

// SentMail is one captured message.
type SentMail struct {
	Type      string // "activation" or "reset"
	ToEmail   string
	Token     string
	ExpiresIn time.Duration
	Vars      map[string]string
}

// RecordingMailer implements mail.Mailer by appending to Sent.
// Err, when set, is returned from every send after recording.
type RecordingMailer struct {
	Err  error
	Sent []SentMail
	mu   sync.Mutex
}

func (m *RecordingMailer) SendAccountActivation(_ context.Context, toEmail, token string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{Type: "activation", ToEmail: toEmail, Token: token, Vars: vars})
	return m.Err
}

func (m *RecordingMailer) SendPasswordReset(_ context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMail{Type: "reset", ToEmail: toEmail, Token: token, ExpiresIn: expiresIn, Vars: vars})
	return m.Err
}

// Last returns the most recent message of type, or false.
func (m *RecordingMailer) Last(typ string) (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Type == typ {
			return m.Sent[i], true
		}
	}
	return SentMail{}, false
}
