package models

// Role tags a transcript record for the completion service.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one role-tagged transcript record.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
