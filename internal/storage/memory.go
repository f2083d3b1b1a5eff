package storage

import (
	"context"
	"sync"
	"time"

	"github.com/brifify/brifify/internal/models"
)

// MemoryStorage is an in-memory Storage for development and tests. All
// ledger mutations happen under one mutex, which gives the same
// serialization guarantees the SQL backend gets from conditional writes.
type MemoryStorage struct {
	mu     sync.Mutex
	users  map[string]*models.UserAccount
	briefs map[string]map[string]*models.TechnicalBrief
	grants map[string]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:  make(map[string]*models.UserAccount),
		briefs: make(map[string]map[string]*models.TechnicalBrief),
		grants: make(map[string]struct{}),
	}
}

func (s *MemoryStorage) EnsureUser(ctx context.Context, user *models.UserAccount) (*models.UserAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.UserID]; ok {
		copied := *existing
		return &copied, false, nil
	}

	now := time.Now()
	created := &models.UserAccount{
		UserID:      user.UserID,
		IsAnonymous: user.IsAnonymous,
		Email:       user.Email,
		Tokens:      user.Tokens,
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.users[user.UserID] = created

	copied := *created
	return &copied, true, nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, userID string) (*models.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStorage) TouchUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.LastUpdated = time.Now()
	return nil
}

func (s *MemoryStorage) DebitToken(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if user.Tokens <= 0 {
		return 0, ErrBalanceExhausted
	}
	user.Tokens--
	user.LastUpdated = time.Now()
	return user.Tokens, nil
}

func (s *MemoryStorage) CreditTokens(ctx context.Context, userID string, amount int, ref string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, false, ErrNotFound
	}

	if ref != "" {
		if _, seen := s.grants[ref]; seen {
			return user.Tokens, false, nil
		}
		s.grants[ref] = struct{}{}
	}

	user.Tokens += amount
	user.LastUpdated = time.Now()
	return user.Tokens, true, nil
}

func (s *MemoryStorage) SaveBrief(ctx context.Context, userID string, brief *models.TechnicalBrief) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userBriefs, ok := s.briefs[userID]
	if !ok {
		userBriefs = make(map[string]*models.TechnicalBrief)
		s.briefs[userID] = userBriefs
	}

	copied := *brief
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	userBriefs[brief.BriefID] = &copied
	return nil
}

func (s *MemoryStorage) GetBrief(ctx context.Context, userID, briefID string) (*models.TechnicalBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	brief, ok := s.briefs[userID][briefID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *brief
	return &copied, nil
}

func (s *MemoryStorage) ListBriefs(ctx context.Context, userID string) ([]*models.TechnicalBrief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var briefs []*models.TechnicalBrief
	for _, brief := range s.briefs[userID] {
		copied := *brief
		briefs = append(briefs, &copied)
	}
	return briefs, nil
}

func (s *MemoryStorage) DeleteBrief(ctx context.Context, userID, briefID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.briefs[userID][briefID]; !ok {
		return ErrNotFound
	}
	delete(s.briefs[userID], briefID)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
