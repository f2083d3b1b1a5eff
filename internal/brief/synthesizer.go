// Package brief turns a finished interview transcript into a
// structured technical brief.
package brief

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/models"
)

// ErrEmptyQuestionnaire is returned when synthesis is requested with no
// question/answer pairs.
var ErrEmptyQuestionnaire = errors.New("questionnaire is empty")

// Generator is the schema-constrained generation call the synthesizer
// consumes.
type Generator interface {
	GenerateTechnicalBrief(ctx context.Context, formattedQA string) (*models.TechnicalBrief, error)
}

type Synthesizer struct {
	generator Generator
	logger    *zap.Logger
}

func NewSynthesizer(generator Generator, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		generator: generator,
		logger:    logger,
	}
}

// Synthesize converts the questionnaire into a technical brief and
// stamps it with a fresh brief ID and creation time.
func (s *Synthesizer) Synthesize(ctx context.Context, questionnaire []models.QuestionnaireEntry) (*models.TechnicalBrief, error) {
	if len(questionnaire) == 0 {
		return nil, ErrEmptyQuestionnaire
	}

	brief, err := s.generator.GenerateTechnicalBrief(ctx, FormatQA(questionnaire))
	if err != nil {
		return nil, err
	}

	brief.BriefID = NewBriefID()
	brief.CreatedAt = time.Now()

	s.logger.Info("Synthesized technical brief",
		zap.String("brief_id", brief.BriefID),
		zap.String("project_title", brief.ProjectTitle))
	return brief, nil
}

// FormatQA renders the questionnaire the way the generation prompt
// expects it: "Q: ...\nA: ..." blocks separated by blank lines.
func FormatQA(questionnaire []models.QuestionnaireEntry) string {
	blocks := make([]string, 0, len(questionnaire))
	for _, entry := range questionnaire {
		blocks = append(blocks, fmt.Sprintf("Q: %s\nA: %s", entry.Question, entry.Answer))
	}
	return strings.Join(blocks, "\n\n")
}

// PairQuestionnaire derives question/answer pairs from the raw turn
// history by pairing each assistant turn with the user turn that
// follows it. A trailing assistant turn with no answer is excluded.
func PairQuestionnaire(history []models.Turn) []models.QuestionnaireEntry {
	var entries []models.QuestionnaireEntry
	for i := 0; i+1 < len(history); i++ {
		if history[i].Role == models.RoleAssistant && history[i+1].Role == models.RoleUser {
			entries = append(entries, models.QuestionnaireEntry{
				Question: history[i].Content,
				Answer:   history[i+1].Content,
			})
		}
	}
	return entries
}

// NewBriefID builds a collision-resistant brief identifier from the
// current time and a random suffix.
func NewBriefID() string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
