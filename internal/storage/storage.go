package storage

import (
	"context"
	"errors"

	"github.com/brifify/brifify/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBalanceExhausted is returned by DebitToken when the guarded
	// decrement would take the balance below zero.
	ErrBalanceExhausted = errors.New("token balance exhausted")
)

// Storage is the durable backend for the user ledger and saved briefs.
// Ledger mutations are atomic conditional writes; callers never compose
// them from separate reads and writes.
type Storage interface {
	// EnsureUser creates the account if absent (conditional write) and
	// returns the current row plus whether this call created it. Safe
	// under concurrent first contact for the same user ID.
	EnsureUser(ctx context.Context, user *models.UserAccount) (*models.UserAccount, bool, error)

	// GetUser returns the account, or (nil, nil) when no row exists.
	GetUser(ctx context.Context, userID string) (*models.UserAccount, error)

	// TouchUser bumps lastUpdated for an existing account.
	TouchUser(ctx context.Context, userID string) error

	// DebitToken atomically decrements the balance by one, refusing to
	// go below zero. Returns the new balance.
	DebitToken(ctx context.Context, userID string) (int, error)

	// CreditTokens atomically adds amount to the balance. A non-empty
	// ref is applied at most once; a replayed ref returns the current
	// balance with applied=false.
	CreditTokens(ctx context.Context, userID string, amount int, ref string) (balance int, applied bool, err error)

	SaveBrief(ctx context.Context, userID string, brief *models.TechnicalBrief) error
	GetBrief(ctx context.Context, userID, briefID string) (*models.TechnicalBrief, error)
	ListBriefs(ctx context.Context, userID string) ([]*models.TechnicalBrief, error)
	DeleteBrief(ctx context.Context, userID, briefID string) error

	Close() error
}
