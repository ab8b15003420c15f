package api

import "time"

// StreamRequest is the body of POST /playground/stream.
type StreamRequest struct {
	// the prompt fanned out to every selected provider
	Prompt string `json:"prompt" binding:"required,max=32000"`

	// provider ids as listed by GET /playground/models
	ProviderIDs []string `json:"providerIds" binding:"required,min=1,max=8,dive,required"`

	// continue an existing thread instead of starting a new one
	SessionID string `json:"sessionId,omitempty" binding:"omitempty,max=64"`
}

// StreamQuery is the query-string form of the stream request used by EventSource clients.
// "models" is accepted as an alias of "providerIds".
type StreamQuery struct {
	Prompt      string `form:"prompt" binding:"required,max=32000"`
	ProviderIDs string `form:"providerIds"`
	Models      string `form:"models"`
	SessionID   string `form:"sessionId" binding:"omitempty,max=64"`
}

// PageQuery carries raw pagination parameters; clamping happens in the service.
type PageQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"pageSize"`
}

type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type SessionSummary struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Models      []string  `json:"models"`
	Status      string    `json:"status"`
	TotalCost   float64   `json:"totalCost"`
	TotalTokens int64     `json:"totalTokens"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Turn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ProviderID   string    `json:"modelName"`
	UserPrompt   string    `json:"userPrompt"`
	Response     string    `json:"response"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	Cost         float64   `json:"cost"`
	ResponseTime int64     `json:"responseTime"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SessionDetail struct {
	SessionSummary
	Conversations []Turn `json:"conversations"`
}

type Pricing struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

type ProviderInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	MaxTokens int     `json:"maxTokens"`
	Pricing   Pricing `json:"pricing"`
}

type UsageStat struct {
	Date            string  `json:"date"`
	ProviderID      string  `json:"providerId"`
	Turns           int     `json:"turns"`
	TotalTokens     int64   `json:"totalTokens"`
	TotalCost       float64 `json:"totalCost"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// RuntimeConfig is the non-secret view of the server configuration.
type RuntimeConfig struct {
	Env       string      `json:"env"`
	Version   string      `json:"version"`
	Database  string      `json:"database"`
	Redis     bool        `json:"redis"`
	Tracing   bool        `json:"tracing"`
	Quota     QuotaConfig `json:"quota"`
	Providers []string    `json:"providers"`
}

type QuotaConfig struct {
	Limit         int   `json:"limit"`
	WindowSeconds int64 `json:"windowSeconds"`
}
