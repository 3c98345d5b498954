// Package scheduler drives agents from cron, file-watch, and webhook
// triggers. Agents are keyed by file path; the live instance behind a path
// can be swapped at runtime without dropping the identity, so editing an
// agent file takes effect on the next tick with no restart.
package scheduler

import (
	"context"
	"time"
)

// Instance is a live agent implementation. Exactly one instance is active
// per file path; it is replaced wholesale on reload.
type Instance interface {
	// Execute runs the agent's main behavior, triggered by cron or manually.
	Execute(ctx context.Context) error

	// OnFileChange is invoked when a path matching one of the agent's watch
	// globs changes.
	OnFileChange(ctx context.Context, path string, event string) error

	// OnWebhook handles an inbound webhook payload synchronously and
	// returns the response body.
	OnWebhook(ctx context.Context, payload map[string]interface{}) (interface{}, error)
}

// Metadata describes an agent's triggers. FilePath is the agent's stable
// identity across reloads. Schedule, Watch, and Webhook are each optional
// and non-exclusive.
type Metadata struct {
	Name     string   `json:"name"`
	FilePath string   `json:"file_path"`
	Schedule string   `json:"schedule,omitempty"`
	Watch    []string `json:"watch,omitempty"`
	Webhook  string   `json:"webhook,omitempty"`
}

// Triggers for a run.
const (
	TriggerCron    = "cron"
	TriggerWebhook = "webhook"
	TriggerWatch   = "watch"
	TriggerManual  = "manual"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Run is one recorded agent invocation.
type Run struct {
	ID        string        `json:"id"`
	Agent     string        `json:"agent"`
	Trigger   string        `json:"trigger"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RunRecorder persists agent runs.
type RunRecorder interface {
	RecordRun(run Run) error
}

// Observer receives run outcomes for metrics.
type Observer interface {
	AgentRun(agent string, status string)
}

// Loader parses an agent source file into metadata and a fresh instance.
type Loader interface {
	Load(ctx context.Context, path string) (Metadata, Instance, error)
}
