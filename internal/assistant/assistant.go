// Package assistant wraps the OpenAI client behind the two calls the
// interview core needs: thread-based question turns and the
// schema-constrained brief generation completion.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/brifify/brifify/internal/models"
)

var (
	// ErrRunFailed is returned when the reasoning service reports a
	// terminal non-completed run. The upstream detail is wrapped.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrRunTimeout is returned when a run does not complete within the
	// configured poll ceiling.
	ErrRunTimeout = errors.New("assistant run timed out")
	// ErrNoToolCall is returned when the brief-generation completion
	// comes back without the expected function call.
	ErrNoToolCall = errors.New("assistant did not produce the expected tool call")
)

const (
	assistantName = "Technical Specification Assistant"
	briefToolName = "generateTechnicalBrief"

	instructionsTemplate = `You are a technical specification assistant for non-technical people.
Based on the user's project description, ask relevant follow-up questions
that a developer would need to fully understand the project requirements.
Ask one question at a time and focus on critical aspects.
Do not include numbers in your questions.
Stop asking when you've collected enough information to start building the project.
Respond with 'done' when you have no more questions.
Limit to %d essential questions.`

	briefSystemPrompt = "You are a senior technical writer. Based on the user's answers, " +
		"generate a clean, structured technical brief using the defined function format only."
)

type Config struct {
	APIKey          string
	AssistantID     string
	Model           string
	QuestionLimit   int
	PollInterval    time.Duration
	PollMaxAttempts int
	// BaseURL overrides the OpenAI endpoint, used for tests.
	BaseURL string
}

type Client struct {
	api    *openai.Client
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	assistantID string
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		cfg:         cfg,
		logger:      logger,
		assistantID: cfg.AssistantID,
	}
}

// ensureAssistant returns the configured assistant ID, creating the
// assistant on first use when none was configured.
func (c *Client) ensureAssistant(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assistantID != "" {
		return c.assistantID, nil
	}

	name := assistantName
	instructions := fmt.Sprintf(instructionsTemplate, c.cfg.QuestionLimit)
	created, err := c.api.CreateAssistant(ctx, openai.AssistantRequest{
		Name:         &name,
		Instructions: &instructions,
		Model:        c.cfg.Model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}

	c.logger.Info("Created assistant", zap.String("assistant_id", created.ID))
	c.assistantID = created.ID
	return c.assistantID, nil
}

// StartThread creates a new conversation thread and replays the given
// turns into it. The client resends full history every request, so a
// thread can always be rebuilt from scratch.
func (c *Client) StartThread(ctx context.Context, history []models.Turn) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	for _, turn := range history {
		if _, err := c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
			Role:    turn.Role,
			Content: turn.Content,
		}); err != nil {
			return "", fmt.Errorf("failed to replay turn into thread: %w", err)
		}
	}

	return thread.ID, nil
}

// Ask appends one user message to the thread, runs the assistant, and
// returns the latest assistant reply. An empty reply after a completed
// run is returned as "" rather than an error.
func (c *Client) Ask(ctx context.Context, threadID, content string) (string, error) {
	assistantID, err := c.ensureAssistant(ctx)
	if err != nil {
		return "", err
	}

	if _, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    models.RoleUser,
		Content: content,
	}); err != nil {
		return "", fmt.Errorf("failed to add message: %w", err)
	}

	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	if err := c.awaitRun(ctx, threadID, run.ID); err != nil {
		return "", err
	}

	return c.latestAssistantMessage(ctx, threadID)
}

// awaitRun polls run status at a fixed interval up to the configured
// attempt ceiling. The ceiling substitutes for true cancellation: the
// upstream computation cannot be aborted, only abandoned.
func (c *Client) awaitRun(ctx context.Context, threadID, runID string) error {
	for attempt := 0; attempt < c.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		run, err := c.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("failed to retrieve run: %w", err)
		}

		switch run.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress:
			continue
		case openai.RunStatusCompleted:
			return nil
		default:
			detail := string(run.Status)
			if run.LastError != nil {
				detail = fmt.Sprintf("%s: %s", run.Status, run.LastError.Message)
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, detail)
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrRunTimeout, c.cfg.PollMaxAttempts)
}

func (c *Client) latestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	limit := 20
	order := "desc"
	messages, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range messages.Messages {
		if msg.Role != models.RoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if part.Text != nil && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}

	return "", nil
}

// GenerateTechnicalBrief runs one chat completion constrained to the
// generateTechnicalBrief function tool and parses its arguments as the
// brief payload. A reply without the tool call is an error; the brief
// is never guessed from free text.
func (c *Client) GenerateTechnicalBrief(ctx context.Context, formattedQA string) (*models.TechnicalBrief, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:      c.cfg.Model,
		ToolChoice: "auto",
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        briefToolName,
					Description: "Generate a structured technical brief for a developer",
					Parameters:  briefSchema(),
				},
			},
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: briefSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: formattedQA,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("brief completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrNoToolCall
	}

	var call *openai.ToolCall
	for i := range resp.Choices[0].Message.ToolCalls {
		if resp.Choices[0].Message.ToolCalls[i].Function.Name == briefToolName {
			call = &resp.Choices[0].Message.ToolCalls[i]
			break
		}
	}
	if call == nil {
		return nil, ErrNoToolCall
	}

	var brief models.TechnicalBrief
	if err := json.Unmarshal([]byte(call.Function.Arguments), &brief); err != nil {
		return nil, fmt.Errorf("failed to parse brief arguments: %w", err)
	}
	return &brief, nil
}

func briefSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"project_title": {
				Type:        jsonschema.String,
				Description: "A concise title describing the project",
			},
			"description": {
				Type:        jsonschema.String,
				Description: "A clear summary of what the project does",
			},
			"features": {
				Type:        jsonschema.Array,
				Items:       &jsonschema.Definition{Type: jsonschema.String},
				Description: "List of key features required for the project",
			},
			"technical_requirements": {
				Type:        jsonschema.Array,
				Items:       &jsonschema.Definition{Type: jsonschema.String},
				Description: "Technical specs or limitations to follow",
			},
			"platform": {
				Type:        jsonschema.String,
				Description: "The intended platform (e.g., Web, iOS, WordPress, etc.)",
			},
			"technology_stack": {
				Type:        jsonschema.Array,
				Items:       &jsonschema.Definition{Type: jsonschema.String},
				Description: "Recommended or required technologies",
			},
			"notes": {
				Type:        jsonschema.String,
				Description: "Any additional notes or clarifications",
			},
		},
		Required: []string{"project_title", "description", "features"},
	}
}
