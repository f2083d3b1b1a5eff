// Package interview drives the turn-based question/answer loop between
// the client and the reasoning service.
package interview

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/ledger"
	"github.com/brifify/brifify/internal/models"
)

// ErrEmptyHistory is returned when a turn is advanced with no
// conversation history or without a trailing user answer.
var ErrEmptyHistory = errors.New("conversation history is empty")

// fallbackQuestion keeps the interview alive when a run completes but
// no assistant reply can be retrieved.
const fallbackQuestion = "Could you tell me a bit more about what you have in mind for this project?"

// Assistant is the slice of the reasoning service the driver consumes.
type Assistant interface {
	// StartThread creates a thread seeded with the given turns.
	StartThread(ctx context.Context, history []models.Turn) (string, error)
	// Ask appends one user message, runs the assistant and returns the
	// latest reply. Empty reply means a completed run with no
	// retrievable message.
	Ask(ctx context.Context, threadID, content string) (string, error)
}

// Result is the outcome of one interview turn.
type Result struct {
	Message         string `json:"message,omitempty"`
	ThreadID        string `json:"threadId"`
	Complete        bool   `json:"complete"`
	AvailableTokens int    `json:"availableTokens"`
}

type Driver struct {
	assistant Assistant
	accounts  *ledger.Service
	logger    *zap.Logger
}

func NewDriver(assistant Assistant, accounts *ledger.Service, logger *zap.Logger) *Driver {
	return &Driver{
		assistant: assistant,
		accounts:  accounts,
		logger:    logger,
	}
}

// Advance runs one turn of the interview. The final history turn must
// be the user's newest answer. The balance gate runs before any
// reasoning-service call; an exhausted account never reaches upstream.
func (d *Driver) Advance(ctx context.Context, clientID string, history []models.Turn, threadID string) (*Result, error) {
	if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		return nil, ErrEmptyHistory
	}

	account, _, err := d.accounts.Resolve(ctx, clientID, ledger.ResolveOptions{})
	if err != nil {
		return nil, err
	}
	if account.Tokens <= 0 {
		return nil, ledger.ErrInsufficientTokens
	}

	answer := history[len(history)-1].Content

	if threadID == "" {
		// New interview: rebuild the thread from everything before the
		// newest answer, which Ask appends itself.
		threadID, err = d.assistant.StartThread(ctx, history[:len(history)-1])
		if err != nil {
			return nil, fmt.Errorf("failed to start interview thread: %w", err)
		}
		d.logger.Info("Started interview thread",
			zap.String("user_id", clientID),
			zap.String("thread_id", threadID))
	}

	reply, err := d.assistant.Ask(ctx, threadID, answer)
	if err != nil {
		return nil, err
	}

	if reply == "" {
		d.logger.Warn("Run completed without an assistant reply, substituting clarifying prompt",
			zap.String("user_id", clientID),
			zap.String("thread_id", threadID))
		reply = fallbackQuestion
	}

	if IsComplete(reply) {
		d.logger.Info("Interview complete",
			zap.String("user_id", clientID),
			zap.String("thread_id", threadID))
		return &Result{
			ThreadID:        threadID,
			Complete:        true,
			AvailableTokens: account.Tokens,
		}, nil
	}

	return &Result{
		Message:         reply,
		ThreadID:        threadID,
		Complete:        false,
		AvailableTokens: account.Tokens,
	}, nil
}
