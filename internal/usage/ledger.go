// Package usage keeps the token ledger: one row per inference attempt, with
// per-session and global summaries.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/danilop/ai-doc-read-studio/internal/generator"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/models"
)

// Ledger records generator attempts in the usage_records table.
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// Opts configures New.
type Opts struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Clock  func() time.Time
}

// New creates a Ledger. The schema must already be migrated.
func New(opts Opts) (*Ledger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("usage: db is required")
	}
	l := &Ledger{db: opts.DB, log: opts.Logger, now: opts.Clock}
	if l.log == nil {
		l.log = logging.Log
	}
	l.log = l.log.Named("usage")
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Record stores one attempt. Write failures are logged, never returned, so
// the ledger cannot fail a generation.
func (l *Ledger) Record(ctx context.Context, a generator.Attempt) {
	rec := models.UsageRecord{
		SessionID:    a.SessionID,
		AgentName:    a.Agent,
		Model:        a.Model,
		Kind:         string(a.Kind),
		InputTokens:  a.InputTokens,
		OutputTokens: a.OutputTokens,
		LatencyMs:    int(a.Latency / time.Millisecond),
		Success:      a.Err == nil,
		CreatedAt:    l.now(),
	}
	if a.Err != nil {
		rec.Error = a.Err.Error()
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		l.log.Warn("record usage failed",
			zap.String("session_id", a.SessionID),
			zap.String("agent", a.Agent),
			zap.Error(err))
	}
}

// Breakdown aggregates successful invocations for one model or agent.
type Breakdown struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Invocations  int64 `json:"invocations"`
}

// SessionSummary is the token usage of one session.
type SessionSummary struct {
	SessionID         string               `json:"session_id"`
	TotalInputTokens  int64                `json:"total_input_tokens"`
	TotalOutputTokens int64                `json:"total_output_tokens"`
	TotalTokens       int64                `json:"total_tokens"`
	TotalInvocations  int64                `json:"total_invocations"`
	FailedAttempts    int64                `json:"failed_attempts"`
	ModelBreakdown    map[string]Breakdown `json:"model_breakdown"`
	AgentBreakdown    map[string]Breakdown `json:"agent_breakdown"`
}

// TotalSummary is the token usage across every session.
type TotalSummary struct {
	TotalInputTokens           int64                `json:"total_input_tokens"`
	TotalOutputTokens          int64                `json:"total_output_tokens"`
	TotalTokens                int64                `json:"total_tokens"`
	TotalSessions              int64                `json:"total_sessions"`
	TotalInvocations           int64                `json:"total_invocations"`
	FailedAttempts             int64                `json:"failed_attempts"`
	TokensByModel              map[string]Breakdown `json:"tokens_by_model"`
	AverageTokensPerSession    int64                `json:"average_tokens_per_session"`
	AverageTokensPerInvocation int64                `json:"average_tokens_per_invocation"`
}

type groupRow struct {
	Name         string `gorm:"column:name"`
	InputTokens  int64  `gorm:"column:input_tokens"`
	OutputTokens int64  `gorm:"column:output_tokens"`
	Invocations  int64  `gorm:"column:invocations"`
}

const sumColumns = "COALESCE(SUM(input_tokens),0) as input_tokens, COALESCE(SUM(output_tokens),0) as output_tokens, COUNT(*) as invocations"

// SessionSummary aggregates the successful invocations of one session. An
// unknown session yields an empty summary.
func (l *Ledger) SessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	sum := SessionSummary{SessionID: sessionID}

	byModel, err := l.group(ctx, "model", "session_id = ?", sessionID)
	if err != nil {
		return sum, fmt.Errorf("usage: session summary for %s: %w", sessionID, err)
	}
	byAgent, err := l.group(ctx, "agent_name", "session_id = ?", sessionID)
	if err != nil {
		return sum, fmt.Errorf("usage: session summary for %s: %w", sessionID, err)
	}
	sum.ModelBreakdown = toMap(byModel)
	sum.AgentBreakdown = toMap(byAgent)
	for _, b := range sum.ModelBreakdown {
		sum.TotalInputTokens += b.InputTokens
		sum.TotalOutputTokens += b.OutputTokens
		sum.TotalInvocations += b.Invocations
	}
	sum.TotalTokens = sum.TotalInputTokens + sum.TotalOutputTokens

	err = l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("session_id = ? AND success = ?", sessionID, false).
		Count(&sum.FailedAttempts).Error
	if err != nil {
		return sum, fmt.Errorf("usage: session summary for %s: %w", sessionID, err)
	}
	return sum, nil
}

// TotalSummary aggregates every successful invocation in the ledger.
func (l *Ledger) TotalSummary(ctx context.Context) (TotalSummary, error) {
	var sum TotalSummary

	byModel, err := l.group(ctx, "model", "1 = 1")
	if err != nil {
		return sum, fmt.Errorf("usage: total summary: %w", err)
	}
	sum.TokensByModel = toMap(byModel)
	for _, b := range sum.TokensByModel {
		sum.TotalInputTokens += b.InputTokens
		sum.TotalOutputTokens += b.OutputTokens
		sum.TotalInvocations += b.Invocations
	}
	sum.TotalTokens = sum.TotalInputTokens + sum.TotalOutputTokens

	db := l.db.WithContext(ctx)
	if err := db.Model(&models.UsageRecord{}).
		Where("success = ?", true).
		Distinct("session_id").
		Count(&sum.TotalSessions).Error; err != nil {
		return sum, fmt.Errorf("usage: total summary: %w", err)
	}
	if err := db.Model(&models.UsageRecord{}).
		Where("success = ?", false).
		Count(&sum.FailedAttempts).Error; err != nil {
		return sum, fmt.Errorf("usage: total summary: %w", err)
	}
	if sum.TotalSessions > 0 {
		sum.AverageTokensPerSession = sum.TotalTokens / sum.TotalSessions
	}
	if sum.TotalInvocations > 0 {
		sum.AverageTokensPerInvocation = sum.TotalTokens / sum.TotalInvocations
	}
	return sum, nil
}

// Records returns a session's ledger rows, oldest first.
func (l *Ledger) Records(ctx context.Context, sessionID string) ([]models.UsageRecord, error) {
	var recs []models.UsageRecord
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("usage: records for %s: %w", sessionID, err)
	}
	return recs, nil
}

func (l *Ledger) group(ctx context.Context, column, where string, args ...interface{}) ([]groupRow, error) {
	var rows []groupRow
	err := l.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Select(column+" as name, "+sumColumns).
		Where(where, args...).
		Where("success = ?", true).
		Group(column).
		Scan(&rows).Error
	return rows, err
}

func toMap(rows []groupRow) map[string]Breakdown {
	out := make(map[string]Breakdown, len(rows))
	for _, r := range rows {
		out[r.Name] = Breakdown{
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			TotalTokens:  r.InputTokens + r.OutputTokens,
			Invocations:  r.Invocations,
		}
	}
	return out
}

// SortedNames returns the keys of a breakdown map in sorted order.
func SortedNames(m map[string]Breakdown) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
