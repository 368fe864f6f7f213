// Package identity abstracts OTP-based identity verification behind a
// single capability interface with two variants: a remote licensed
// provider and a deterministic stub for offline runs. The raw identity
// number is handled in memory only, passed to the provider once and
// never persisted or logged; callers keep only the last four digits.
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/example/ecocommute/internal/apperrors"
)

type Challenge struct {
	TransactionID string
	Message       string
}

type Result struct {
	Verified bool
	Message  string
	FullName string
}

type Verifier interface {
	SendChallenge(ctx context.Context, identityNumber string) (*Challenge, error)
	VerifyChallenge(ctx context.Context, transactionID, code string) (*Result, error)
}

// CleanNumber strips spaces and hyphens and validates the 12-digit
// format.
func CleanNumber(n string) (string, error) {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(n)
	if len(clean) != 12 {
		return "", apperrors.Validation("identity number must be 12 digits")
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", apperrors.Validation("identity number must contain only digits")
		}
	}
	return clean, nil
}

// Last4 returns the displayable tail of a cleaned number.
func Last4(clean string) string {
	if len(clean) != 12 {
		return ""
	}
	return clean[8:]
}

func validateCode(code string) error {
	if len(code) != 6 {
		return apperrors.Validation("code must be 6 digits")
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return apperrors.Validation("code must be 6 digits")
		}
	}
	return nil
}

// PendingTTL bounds how long a sent challenge stays redeemable.
const PendingTTL = 10 * time.Minute

// Pending is an in-flight challenge for one user. Held in memory, never
// in the database, mirroring the session-scoped handling of the flow.
type Pending struct {
	TransactionID string
	Last4         string
	SentAt        time.Time
}

type PendingStore struct {
	mu     sync.Mutex
	byUser map[string]Pending
}

func NewPendingStore() *PendingStore {
	return &PendingStore{byUser: make(map[string]Pending)}
}

// Begin replaces any previous challenge for the user.
func (s *PendingStore) Begin(userID, transactionID, last4 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = Pending{TransactionID: transactionID, Last4: last4, SentAt: time.Now()}
}

// Get returns the user's pending challenge without consuming it, so a
// mistyped code can be retried. Expired or absent challenges fail with
// State and the client restarts the flow.
func (s *PendingStore) Get(userID string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	if !ok {
		return Pending{}, apperrors.State("no verification in progress")
	}
	if time.Since(p.SentAt) > PendingTTL {
		delete(s.byUser, userID)
		return Pending{}, apperrors.State("verification code expired, request a new one")
	}
	return p, nil
}

// Drop discards any pending challenge, used after a successful
// verification and by the resend flow.
func (s *PendingStore) Drop(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
}
