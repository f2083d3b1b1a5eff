// Package ledger implements identity resolution and the token
// debit/credit protocol on top of the storage backend's atomic
// primitives.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/models"
	"github.com/brifify/brifify/internal/storage"
)

var (
	// ErrUserNotFound is returned when an operation requires an
	// existing ledger row and none is present.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientTokens is returned when the balance is exhausted.
	ErrInsufficientTokens = errors.New("insufficient tokens")
	// ErrUnavailable wraps storage backend failures. Callers decide
	// whether to retry; the ledger never retries on its own.
	ErrUnavailable = errors.New("ledger unavailable")
)

// ResolveOptions carries the optional identity-provider attributes
// presented on first contact.
type ResolveOptions struct {
	// Subject is the provider-issued subject identifier, empty for
	// anonymous fingerprint identities.
	Subject string
	Email   string
}

type Service struct {
	store          storage.Storage
	startingTokens int
	logger         *zap.Logger
}

func NewService(store storage.Storage, startingTokens int, logger *zap.Logger) *Service {
	return &Service{
		store:          store,
		startingTokens: startingTokens,
		logger:         logger,
	}
}

// Resolve maps a client identifier to its ledger row, creating one with
// the starting allotment on first contact. Creation is a conditional
// write, so concurrent first-contact calls converge on a single row.
func (s *Service) Resolve(ctx context.Context, clientID string, opts ResolveOptions) (*models.UserAccount, bool, error) {
	candidate := &models.UserAccount{
		UserID:      clientID,
		IsAnonymous: opts.Subject == "",
		Email:       opts.Email,
		Tokens:      s.startingTokens,
	}

	user, created, err := s.store.EnsureUser(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if created {
		s.logger.Info("Created ledger account",
			zap.String("user_id", clientID),
			zap.Bool("is_anonymous", candidate.IsAnonymous),
			zap.Int("tokens", user.Tokens))
	} else if err := s.store.TouchUser(ctx, clientID); err != nil {
		s.logger.Warn("Failed to touch ledger account",
			zap.Error(err),
			zap.String("user_id", clientID))
	}

	return user, created, nil
}

// Balance returns the current token balance for an existing account.
func (s *Service) Balance(ctx context.Context, clientID string) (int, error) {
	user, err := s.store.GetUser(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.Tokens, nil
}

// ChargeOne debits exactly one token. The storage layer's guarded
// decrement rejects the charge when the balance is already zero, which
// covers the race between a caller's pre-check and the charge itself.
func (s *Service) ChargeOne(ctx context.Context, clientID string) (int, error) {
	balance, err := s.store.DebitToken(ctx, clientID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return 0, ErrUserNotFound
		case errors.Is(err, storage.ErrBalanceExhausted):
			return 0, ErrInsufficientTokens
		default:
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	s.logger.Info("Charged one token",
		zap.String("user_id", clientID),
		zap.Int("balance", balance))
	return balance, nil
}

// Credit adds amount to the balance, creating the account first if it
// has never been seen. A non-empty ref makes the grant replay-safe
// against at-least-once fulfillment delivery.
func (s *Service) Credit(ctx context.Context, clientID string, amount int, ref string, opts ResolveOptions) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	if _, _, err := s.Resolve(ctx, clientID, opts); err != nil {
		return 0, err
	}

	balance, applied, err := s.store.CreditTokens(ctx, clientID, amount, ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !applied {
		s.logger.Info("Skipped replayed token grant",
			zap.String("user_id", clientID),
			zap.String("ref", ref),
			zap.Int("balance", balance))
		return balance, nil
	}

	s.logger.Info("Credited tokens",
		zap.String("user_id", clientID),
		zap.Int("amount", amount),
		zap.Int("balance", balance))
	return balance, nil
}
