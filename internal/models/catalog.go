package models

import "time"

// Remediation actions known to the executor. The catalog may reference any
// action name; these cover the built-in set.
const (
	ActionRestart    = "restart"
	ActionScaleUp    = "scale_up"
	ActionScaleDown  = "scale_down"
	ActionClearCache = "clear_cache"
	ActionRollback   = "rollback"
	ActionNotify     = "notify"
	ActionAlertTeam  = "alert_team"
)

// CatalogEntry maps an issue type to a candidate remediation with a learned
// confidence score.
type CatalogEntry struct {
	Issue       IssueType `yaml:"issue" json:"issue"`
	Action      string    `yaml:"action" json:"action"`
	Confidence  float64   `yaml:"confidence" json:"confidence"`
	Auto        bool      `yaml:"auto" json:"auto"`
	Uses        int       `yaml:"uses" json:"uses"`
	Successes   int       `yaml:"successes" json:"successes"`
	Description string    `yaml:"description" json:"description,omitempty"`
	LastUsedAt  time.Time `yaml:"last_used_at" json:"last_used_at,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at,omitempty"`
}

// Key returns the unique (issue, action) key for persistence.
func (e CatalogEntry) Key() string {
	return string(e.Issue) + ":" + e.Action
}

// ActionTrend summarises recent outcome history for a catalog entry.
type ActionTrend struct {
	Issue       IssueType `json:"issue"`
	Action      string    `json:"action"`
	SuccessRate float64   `json:"success_rate"`
	Samples     int       `json:"samples"`
	Direction   string    `json:"direction"`
}

const (
	TrendImproving    = "improving"
	TrendDeclining    = "declining"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)
