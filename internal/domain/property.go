package domain

// Property is a listing that needs an agent.
type Property struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	ZipCode     string  `json:"zip_code"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	AgentID     *string `json:"agent_id"`
	InAgentPool bool    `json:"in_agent_pool"`
}

// Agent holds the contact details of a field agent.
type Agent struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	TelegramChatID string
}
