package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/storage"
)

func newTestService() (*Service, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()
	return NewService(store, 3, zap.NewNop()), store
}

func TestResolveCreatesAccountWithStartingAllotment(t *testing.T) {
	svc, _ := newTestService()

	user, created, err := svc.Resolve(context.Background(), "anon-abc", ResolveOptions{})
	require.NoError(t, err)

	assert.True(t, created)
	assert.True(t, user.IsAnonymous)
	assert.Equal(t, 3, user.Tokens)
}

func TestResolveInfersRegisteredIdentity(t *testing.T) {
	svc, _ := newTestService()

	user, _, err := svc.Resolve(context.Background(), "sub-123", ResolveOptions{
		Subject: "sub-123",
		Email:   "dev@example.com",
	})
	require.NoError(t, err)

	assert.False(t, user.IsAnonymous)
	assert.Equal(t, "dev@example.com", user.Email)
}

func TestResolveIsIdempotentUnderConcurrentFirstContact(t *testing.T) {
	svc, _ := newTestService()

	const callers = 20
	var wg sync.WaitGroup
	createdCount := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, created, err := svc.Resolve(context.Background(), "anon-race", ResolveOptions{})
			if !assert.NoError(t, err) {
				createdCount <- false
				return
			}
			assert.Equal(t, 3, user.Tokens, "tokens must never scale with caller count")
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	var creations int
	for created := range createdCount {
		if created {
			creations++
		}
	}
	assert.Equal(t, 1, creations, "exactly one caller observes creation")
}

func TestChargeOneDecrementsToFloor(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Resolve(ctx, "user-1", ResolveOptions{})
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		balance, err := svc.ChargeOne(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, want, balance)
	}

	_, err = svc.ChargeOne(ctx, "user-1")
	assert.ErrorIs(t, err, ErrInsufficientTokens)

	balance, err := svc.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance, "balance never goes negative")
}

func TestChargeOneUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ChargeOne(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreditIsAdditive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	balance, err := svc.Credit(ctx, "buyer", 20, "", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 23, balance, "lazy creation grants the starting allotment first")

	balance, err = svc.Credit(ctx, "buyer", 20, "", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 43, balance)
}

func TestCreditReplaySafeWithReference(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	balance, err := svc.Credit(ctx, "buyer", 20, "evt_1", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 23, balance)

	// At-least-once webhook delivery replays the same fulfillment.
	balance, err = svc.Credit(ctx, "buyer", 20, "evt_1", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 23, balance, "replayed grant must not double-credit")

	balance, err = svc.Credit(ctx, "buyer", 20, "evt_2", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 43, balance)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Credit(context.Background(), "buyer", 0, "", ResolveOptions{})
	assert.Error(t, err)

	_, err = svc.Credit(context.Background(), "buyer", -5, "", ResolveOptions{})
	assert.Error(t, err)
}

func TestBalanceUnknownUser(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Balance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestConcurrentChargesNeverOversell(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "hot", 7, "", ResolveOptions{}) // 3 + 7 = 10
	require.NoError(t, err)

	const attempts = 25
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ChargeOne(ctx, "hot")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientTokens)
		}
	}
	assert.Equal(t, 10, succeeded, "exactly the available tokens may be charged")

	balance, err := svc.Balance(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}
