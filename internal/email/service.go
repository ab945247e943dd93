// Package email delivers access-code emails. The real implementation uses
// Resend; the mock captures sends for tests and local development.
package email

import (
	"errors"
	"sync"
	"time"

	"github.com/ctrlv-app/license-server/internal/obs"
)

// ErrNotConfigured signals that no delivery provider is available. The
// issuance handler turns this into either the dev-mode code response or a
// 500, depending on configuration.
var ErrNotConfigured = errors.New("email provider not configured")

// Service sends the access-code email for passwordless login.
type Service interface {
	SendAccessCode(to, code string, lifetime time.Duration) error
}

// Disabled is the no-provider implementation; every send fails with
// ErrNotConfigured.
type Disabled struct{}

func (Disabled) SendAccessCode(string, string, time.Duration) error {
	return ErrNotConfigured
}

// SentEmail represents a captured email for testing.
type SentEmail struct {
	To       string
	Code     string
	Lifetime time.Duration
}

// MockService captures emails instead of sending them.
type MockService struct {
	mu     sync.Mutex
	Emails []SentEmail
}

// NewMockService creates a new mock email service.
func NewMockService() *MockService {
	return &MockService{Emails: make([]SentEmail, 0)}
}

// SendAccessCode captures the email and logs it for manual testing. The
// log line carries the recipient but never the code itself.
func (m *MockService) SendAccessCode(to, code string, lifetime time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = append(m.Emails, SentEmail{To: to, Code: code, Lifetime: lifetime})
	obs.Pkg("email").Debug("mock_send", "to", to, "lifetime", lifetime.String())
	return nil
}

// LastEmail returns the most recently captured email, or the zero value.
func (m *MockService) LastEmail() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Emails) == 0 {
		return SentEmail{}
	}
	return m.Emails[len(m.Emails)-1]
}

// Count returns the number of captured emails.
func (m *MockService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Emails)
}

// Clear removes all captured emails.
func (m *MockService) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emails = m.Emails[:0]
}
