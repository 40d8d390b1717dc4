package models

import "time"

// UsageRecord is one inference attempt in the token ledger.
type UsageRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"size:64;index:idx_usage_session"`
	AgentName    string `gorm:"size:64;index"`
	Model        string `gorm:"size:64"`
	Kind         string `gorm:"size:16"`
	InputTokens  int
	OutputTokens int
	LatencyMs    int
	Success      bool
	Error        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index:idx_usage_session"`
}

// TotalTokens returns input plus output tokens.
func (r UsageRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
