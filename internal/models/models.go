package models

import "time"

// Turn roles mirror the reasoning service's message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in an interview conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserAccount is the ledger row for one user identity. Anonymous and
// registered identities are distinct rows; no merge is performed.
type UserAccount struct {
	UserID      string    `json:"userId"`
	IsAnonymous bool      `json:"isAnonymous"`
	Email       string    `json:"email,omitempty"`
	Tokens      int       `json:"tokens"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// QuestionnaireEntry pairs one assistant question with the user's answer.
type QuestionnaireEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TechnicalBrief is the structured output of a completed interview.
// The snake_case field names match the generateTechnicalBrief tool schema.
type TechnicalBrief struct {
	BriefID               string    `json:"briefId,omitempty"`
	ProjectTitle          string    `json:"project_title"`
	Description           string    `json:"description"`
	Features              []string  `json:"features"`
	TechnicalRequirements []string  `json:"technical_requirements,omitempty"`
	Platform              string    `json:"platform,omitempty"`
	TechnologyStack       []string  `json:"technology_stack,omitempty"`
	Notes                 string    `json:"notes,omitempty"`
	CreatedAt             time.Time `json:"createdAt,omitempty"`
}
