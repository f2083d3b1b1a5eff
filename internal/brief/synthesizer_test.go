package brief

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/models"
)

type fakeGenerator struct {
	brief    *models.TechnicalBrief
	err      error
	received string
	calls    int
}

func (f *fakeGenerator) GenerateTechnicalBrief(ctx context.Context, formattedQA string) (*models.TechnicalBrief, error) {
	f.calls++
	f.received = formattedQA
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.brief
	return &copied, nil
}

func sampleQuestionnaire() []models.QuestionnaireEntry {
	return []models.QuestionnaireEntry{
		{Question: "What does the app do?", Answer: "Tracks recipes"},
		{Question: "Which platforms?", Answer: "iOS and web"},
	}
}

func TestSynthesizeStampsIDAndTimestamp(t *testing.T) {
	gen := &fakeGenerator{brief: &models.TechnicalBrief{
		ProjectTitle: "Recipe Tracker",
		Description:  "An app for tracking recipes",
		Features:     []string{"recipe storage"},
	}}
	s := NewSynthesizer(gen, zap.NewNop())

	brief, err := s.Synthesize(context.Background(), sampleQuestionnaire())
	require.NoError(t, err)

	assert.NotEmpty(t, brief.BriefID)
	assert.False(t, brief.CreatedAt.IsZero())
	assert.Equal(t, "Recipe Tracker", brief.ProjectTitle)
}

func TestSynthesizeRejectsEmptyQuestionnaire(t *testing.T) {
	gen := &fakeGenerator{brief: &models.TechnicalBrief{}}
	s := NewSynthesizer(gen, zap.NewNop())

	_, err := s.Synthesize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyQuestionnaire)
	assert.Zero(t, gen.calls, "no generation call for an empty questionnaire")
}

func TestSynthesizePropagatesGenerationFailure(t *testing.T) {
	upstream := errors.New("no tool call in reply")
	gen := &fakeGenerator{err: upstream}
	s := NewSynthesizer(gen, zap.NewNop())

	_, err := s.Synthesize(context.Background(), sampleQuestionnaire())
	assert.ErrorIs(t, err, upstream)
}

func TestFormatQA(t *testing.T) {
	got := FormatQA(sampleQuestionnaire())
	want := "Q: What does the app do?\nA: Tracks recipes\n\nQ: Which platforms?\nA: iOS and web"
	assert.Equal(t, want, got)
}

func TestPairQuestionnaire(t *testing.T) {
	history := func(n int) []models.Turn {
		var turns []models.Turn
		for i := 0; i < n; i++ {
			if i%2 == 0 {
				turns = append(turns, models.Turn{Role: models.RoleAssistant, Content: fmt.Sprintf("question %d", i/2)})
			} else {
				turns = append(turns, models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("answer %d", i/2)})
			}
		}
		return turns
	}

	t.Run("even history pairs fully", func(t *testing.T) {
		entries := PairQuestionnaire(history(6))
		require.Len(t, entries, 3)
		for i, entry := range entries {
			assert.Equal(t, fmt.Sprintf("question %d", i), entry.Question)
			assert.Equal(t, fmt.Sprintf("answer %d", i), entry.Answer)
		}
	})

	t.Run("odd trailing assistant turn excluded", func(t *testing.T) {
		entries := PairQuestionnaire(history(7))
		assert.Len(t, entries, 3)
	})

	t.Run("leading user turn skipped", func(t *testing.T) {
		turns := append([]models.Turn{{Role: models.RoleUser, Content: "my project idea"}}, history(4)...)
		entries := PairQuestionnaire(turns)
		require.Len(t, entries, 2)
		assert.Equal(t, "question 0", entries[0].Question)
	})

	t.Run("empty history", func(t *testing.T) {
		assert.Empty(t, PairQuestionnaire(nil))
	})
}

func TestNewBriefIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewBriefID()
		require.True(t, strings.Contains(id, "-"))
		_, dup := seen[id]
		require.False(t, dup, "brief IDs must not collide")
		seen[id] = struct{}{}
	}
}
