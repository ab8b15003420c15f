package model

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SessionActive    = "ACTIVE"
	SessionCompleted = "COMPLETED"

	TurnCompleted = "COMPLETED"
	TurnError     = "ERROR"
)

// User owns sessions and API keys.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// APIKey is the bearer credential used to access the API.
type APIKey struct {
	ID         string       `db:"id" json:"id"`
	UserID     string       `db:"user_id" json:"user_id"`
	Name       string       `db:"name" json:"name"`
	KeyHash    string       `db:"key_hash" json:"-"`
	KeyPrefix  string       `db:"key_prefix" json:"key_prefix"`
	LastUsedAt sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
	IsActive   bool         `db:"is_active" json:"is_active"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// Session is one prompt-initiated multi-provider conversation thread.
type Session struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Prompt      string     `db:"prompt" json:"prompt"`
	Models      StringList `db:"models" json:"models"`
	Status      string     `db:"status" json:"status"`
	TotalCost   float64    `db:"total_cost" json:"total_cost"`
	TotalTokens int64      `db:"total_tokens" json:"total_tokens"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Turn is one provider's response to one prompt round. Rows are never updated.
type Turn struct {
	Seq          int64     `db:"seq" json:"-"`
	ID           string    `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	ProviderID   string    `db:"provider_id" json:"provider_id"`
	UserPrompt   string    `db:"user_prompt" json:"user_prompt"`
	Response     string    `db:"response" json:"response"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	Cost         float64   `db:"cost" json:"cost"`
	ResponseTime int64     `db:"response_time_ms" json:"response_time_ms"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

func (t Turn) Tokens() int64 {
	return int64(t.InputTokens + t.OutputTokens)
}

// DailyUsage is the per-day, per-provider aggregate over turns.
type DailyUsage struct {
	Date            string  `db:"date" json:"date"`
	ProviderID      string  `db:"provider_id" json:"provider_id"`
	Turns           int     `db:"turns" json:"turns"`
	TotalTokens     int64   `db:"total_tokens" json:"total_tokens"`
	TotalCost       float64 `db:"total_cost" json:"total_cost"`
	AvgResponseTime float64 `db:"avg_response_time" json:"avg_response_time"`
}

// StringList is persisted as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("StringList: unsupported scan type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("StringList: %w", err)
	}
	*l = out
	return nil
}
