package interview

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/ledger"
	"github.com/brifify/brifify/internal/models"
	"github.com/brifify/brifify/internal/storage"
)

type fakeAssistant struct {
	replies  []string
	askCalls int
	started  int
	seeded   []models.Turn
	askErr   error
	startErr error
}

func (f *fakeAssistant) StartThread(ctx context.Context, history []models.Turn) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	f.seeded = append([]models.Turn(nil), history...)
	return "thread_test", nil
}

func (f *fakeAssistant) Ask(ctx context.Context, threadID, content string) (string, error) {
	if f.askErr != nil {
		return "", f.askErr
	}
	reply := ""
	if f.askCalls < len(f.replies) {
		reply = f.replies[f.askCalls]
	}
	f.askCalls++
	return reply, nil
}

func newTestDriver(t *testing.T, fake *fakeAssistant) (*Driver, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	accounts := ledger.NewService(store, 3, zap.NewNop())
	return NewDriver(fake, accounts, zap.NewNop()), store
}

func userHistory(contents ...string) []models.Turn {
	var history []models.Turn
	for i, content := range contents {
		role := models.RoleAssistant
		if i%2 == 0 {
			role = models.RoleUser
		}
		history = append(history, models.Turn{Role: role, Content: content})
	}
	return history
}

func TestAdvanceStartsThreadOnFirstTurn(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"What platforms should it support?"}}
	driver, _ := newTestDriver(t, fake)

	history := []models.Turn{{Role: models.RoleUser, Content: "I want a recipe app"}}
	result, err := driver.Advance(context.Background(), "user-1", history, "")
	require.NoError(t, err)

	assert.Equal(t, 1, fake.started)
	assert.Empty(t, fake.seeded, "the newest answer is appended by Ask, not replayed")
	assert.Equal(t, "thread_test", result.ThreadID)
	assert.Equal(t, "What platforms should it support?", result.Message)
	assert.False(t, result.Complete)
	assert.Equal(t, 3, result.AvailableTokens)
}

func TestAdvanceReplaysPriorHistoryWhenThreadMissing(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"Anything else?"}}
	driver, _ := newTestDriver(t, fake)

	history := userHistory("a recipe app", "Which platforms?", "iOS and web")
	_, err := driver.Advance(context.Background(), "user-1", history, "")
	require.NoError(t, err)

	require.Len(t, fake.seeded, 2)
	assert.Equal(t, "a recipe app", fake.seeded[0].Content)
	assert.Equal(t, "Which platforms?", fake.seeded[1].Content)
}

func TestAdvanceReusesExistingThread(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"Next question?"}}
	driver, _ := newTestDriver(t, fake)

	history := userHistory("a recipe app", "Which platforms?", "iOS and web")
	result, err := driver.Advance(context.Background(), "user-1", history, "thread_existing")
	require.NoError(t, err)

	assert.Zero(t, fake.started)
	assert.Equal(t, "thread_existing", result.ThreadID)
}

func TestAdvanceDetectsCompletion(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"Done."}}
	driver, _ := newTestDriver(t, fake)

	history := []models.Turn{{Role: models.RoleUser, Content: "nothing more"}}
	result, err := driver.Advance(context.Background(), "user-1", history, "thread_x")
	require.NoError(t, err)

	assert.True(t, result.Complete)
	assert.Empty(t, result.Message)
}

func TestAdvanceSubstitutesFallbackOnEmptyReply(t *testing.T) {
	fake := &fakeAssistant{replies: []string{""}}
	driver, _ := newTestDriver(t, fake)

	history := []models.Turn{{Role: models.RoleUser, Content: "hello"}}
	result, err := driver.Advance(context.Background(), "user-1", history, "thread_x")
	require.NoError(t, err)

	assert.False(t, result.Complete)
	assert.Equal(t, fallbackQuestion, result.Message)
}

func TestAdvanceRejectsExhaustedBalanceBeforeUpstreamCall(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"should never be returned"}}
	driver, store := newTestDriver(t, fake)

	ctx := context.Background()
	_, _, err := store.EnsureUser(ctx, &models.UserAccount{UserID: "user-broke", Tokens: 1})
	require.NoError(t, err)
	_, err = store.DebitToken(ctx, "user-broke")
	require.NoError(t, err)

	history := []models.Turn{{Role: models.RoleUser, Content: "hello"}}
	_, err = driver.Advance(ctx, "user-broke", history, "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientTokens)
	assert.Zero(t, fake.started, "no thread may be created for an exhausted account")
	assert.Zero(t, fake.askCalls, "no reasoning-service call may be issued")
}

func TestAdvanceCreatesAccountLazily(t *testing.T) {
	fake := &fakeAssistant{replies: []string{"First question?"}}
	driver, store := newTestDriver(t, fake)

	_, err := driver.Advance(context.Background(),
		"brand-new", []models.Turn{{Role: models.RoleUser, Content: "an idea"}}, "")
	require.NoError(t, err)

	user, err := store.GetUser(context.Background(), "brand-new")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 3, user.Tokens)
	assert.True(t, user.IsAnonymous)
}

func TestAdvanceRejectsEmptyHistory(t *testing.T) {
	driver, _ := newTestDriver(t, &fakeAssistant{})

	_, err := driver.Advance(context.Background(), "user-1", nil, "")
	assert.ErrorIs(t, err, ErrEmptyHistory)

	// Trailing assistant turn means there is no answer to advance on.
	history := []models.Turn{{Role: models.RoleAssistant, Content: "A question?"}}
	_, err = driver.Advance(context.Background(), "user-1", history, "")
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func TestAdvancePropagatesUpstreamFailure(t *testing.T) {
	upstream := errors.New("run failed: rate_limit_exceeded")
	fake := &fakeAssistant{askErr: upstream}
	driver, store := newTestDriver(t, fake)

	history := []models.Turn{{Role: models.RoleUser, Content: "hello"}}
	_, err := driver.Advance(context.Background(), "user-1", history, "thread_x")
	assert.ErrorIs(t, err, upstream)

	// A failed turn must leave the balance untouched.
	user, err := store.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 3, user.Tokens)
}
