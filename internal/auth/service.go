// Package auth implements passwordless login for the desktop client:
// issuing short-lived 6-digit access codes over email, exchanging a code
// for a bearer session token, and resolving a session to its entitlement.
//
// Codes and tokens are stored only as peppered SHA-256 hashes. The
// plaintext token crosses the wire exactly once, in the verify response.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ctrlv-app/license-server/internal/crypto"
	"github.com/ctrlv-app/license-server/internal/db"
	"github.com/ctrlv-app/license-server/internal/email"
	"github.com/ctrlv-app/license-server/internal/errs"
	"github.com/ctrlv-app/license-server/internal/obs"
	"github.com/ctrlv-app/license-server/internal/subscription"
)

const codeDigits = 6

// Options configures a Service.
type Options struct {
	Pepper          string
	CodeLifetime    time.Duration
	SessionLifetime time.Duration
	TrialDays       int
	// AllowDevCode returns the plaintext code in the issue response when
	// no delivery provider is configured. Dev/test only.
	AllowDevCode bool
	Clock        Clock
}

// Service owns the magic-code and session lifecycle.
type Service struct {
	db    *db.DB
	email email.Service
	opts  Options
	log   *slog.Logger
}

// NewService wires the auth service. A nil Clock defaults to wall time.
func NewService(database *db.DB, sender email.Service, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &Service{
		db:    database,
		email: sender,
		opts:  opts,
		log:   obs.Pkg("auth"),
	}
}

// NormalizeEmail trims and lowercases an address. Anything without an
// "@" is rejected.
func NormalizeEmail(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", errs.New(errs.InvalidArgument, "Invalid email")
	}
	return normalized, nil
}

// IssueResult reports how a code request was fulfilled.
type IssueResult struct {
	// Delivered is true when the code went out by email.
	Delivered bool
	// DevCode carries the plaintext code when delivery was unavailable
	// and the dev escape hatch is enabled. Empty otherwise.
	DevCode string
}

// IssueCode creates an account if needed, mints a 6-digit code, stores
// its peppered hash, and attempts email delivery.
func (s *Service) IssueCode(ctx context.Context, rawEmail string) (IssueResult, error) {
	address, err := NormalizeEmail(rawEmail)
	if err != nil {
		return IssueResult{}, err
	}
	if s.opts.Pepper == "" {
		return IssueResult{}, errs.New(errs.Internal, "MAGIC_CODE_PEPPER is not configured")
	}

	now := s.opts.Clock.Now()
	if _, err := s.db.UpsertAccountByEmail(ctx, address, now.Unix()); err != nil {
		return IssueResult{}, fmt.Errorf("upsert account: %w", err)
	}

	code, err := crypto.RandomDigits(codeDigits)
	if err != nil {
		return IssueResult{}, fmt.Errorf("generate code: %w", err)
	}
	codeHash := crypto.HashWithPepper(code, s.opts.Pepper)
	expiresAt := now.Add(s.opts.CodeLifetime)
	if err := s.db.InsertMagicCode(ctx, address, codeHash, expiresAt.Unix(), now.Unix()); err != nil {
		return IssueResult{}, fmt.Errorf("insert magic code: %w", err)
	}

	sendErr := s.email.SendAccessCode(address, code, s.opts.CodeLifetime)
	if sendErr == nil {
		s.log.InfoContext(ctx, "access code issued", "email", address)
		return IssueResult{Delivered: true}, nil
	}
	if errors.Is(sendErr, email.ErrNotConfigured) && s.opts.AllowDevCode {
		s.log.WarnContext(ctx, "access code returned in response body (dev mode)", "email", address)
		return IssueResult{DevCode: code}, nil
	}
	if errors.Is(sendErr, email.ErrNotConfigured) {
		return IssueResult{}, errs.New(errs.Internal, "Email provider not configured")
	}
	return IssueResult{}, errs.Wrap(errs.Internal, "Failed to send email", sendErr)
}

// VerifyCode redeems the most recent valid code for the address and
// mints a session token. The returned token is never persisted; only
// its peppered hash is.
func (s *Service) VerifyCode(ctx context.Context, rawEmail, code string) (string, error) {
	address, err := NormalizeEmail(rawEmail)
	if err != nil {
		return "", err
	}

	now := s.opts.Clock.Now()
	row, err := s.db.LatestValidMagicCode(ctx, address, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.New(errs.Unauthenticated, "Code not found or expired")
	}
	if err != nil {
		return "", fmt.Errorf("lookup magic code: %w", err)
	}

	candidate := crypto.HashWithPepper(code, s.opts.Pepper)
	if !crypto.SecureCompare(candidate, row.CodeHash) {
		// The code stays unconsumed; the client may retry until expiry.
		return "", errs.New(errs.Unauthenticated, "Invalid code")
	}
	if err := s.db.ConsumeMagicCode(ctx, row.ID, now.Unix()); err != nil {
		return "", fmt.Errorf("consume magic code: %w", err)
	}

	account, err := s.db.GetAccountByEmail(ctx, address)
	if errors.Is(err, sql.ErrNoRows) {
		// Issuance always upserts the account first, so this is corruption.
		return "", errs.New(errs.Internal, "Account not found")
	}
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	token, err := crypto.RandomToken(crypto.TokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	tokenHash := crypto.HashWithPepper(token, s.opts.Pepper)
	expiresAt := now.Add(s.opts.SessionLifetime)
	if err := s.db.InsertSession(ctx, account.ID, tokenHash, expiresAt.Unix(), now.Unix()); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	s.log.InfoContext(ctx, "session created", "account_id", account.ID)
	return token, nil
}

// ResolveSession validates an Authorization header and returns the
// session's account.
func (s *Service) ResolveSession(ctx context.Context, authorization string) (db.Account, error) {
	scheme, token, ok := strings.Cut(authorization, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return db.Account{}, errs.New(errs.Unauthenticated, "Missing bearer token")
	}

	now := s.opts.Clock.Now()
	tokenHash := crypto.HashWithPepper(token, s.opts.Pepper)
	session, err := s.db.GetValidSession(ctx, tokenHash, now.Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return db.Account{}, errs.New(errs.Unauthenticated, "Invalid session")
	}
	if err != nil {
		return db.Account{}, fmt.Errorf("lookup session: %w", err)
	}

	account, err := s.db.GetAccountByID(ctx, session.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Account{}, errs.New(errs.Unauthenticated, "Invalid session")
	}
	if err != nil {
		return db.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

// Entitlement is the resolved access level for an account.
type Entitlement struct {
	Status             subscription.Status `json:"status"`
	PlanName           *string             `json:"planName"`
	TrialDaysRemaining *int                `json:"trialDaysRemaining"`
}

// ResolveEntitlement computes the account's entitlement. A billing
// record always wins, whatever its status; the implicit trial applies
// only to accounts Paddle has never told us about.
func (s *Service) ResolveEntitlement(ctx context.Context, account db.Account) (Entitlement, error) {
	sub, err := s.db.LatestSubscriptionForAccount(ctx, account.ID)
	if err == nil {
		ent := Entitlement{Status: subscription.Normalize(sub.Status)}
		if sub.PlanName.Valid {
			ent.PlanName = &sub.PlanName.String
		}
		return ent, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entitlement{}, fmt.Errorf("lookup subscription: %w", err)
	}

	now := s.opts.Clock.Now()
	elapsedDays := int((now.Unix() - account.CreatedAt) / (24 * 60 * 60))
	remaining := s.opts.TrialDays - elapsedDays
	if remaining < 0 {
		remaining = 0
	}
	ent := Entitlement{Status: subscription.StatusExpired, TrialDaysRemaining: &remaining}
	if remaining > 0 {
		ent.Status = subscription.StatusTrial
	}
	return ent, nil
}

// CleanupExpired deletes magic codes and sessions past their expiry.
// Returns total rows removed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.opts.Clock.Now().Unix()
	codes, err := s.db.DeleteExpiredMagicCodes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	sessions, err := s.db.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return codes, fmt.Errorf("delete expired sessions: %w", err)
	}
	return codes + sessions, nil
}
