// Package execctx carries the immutable per-tool-call execution context and
// derives stable session and agent identities from transport-layer signals.
package execctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Mode selects between per-project progress logging and cross-project
// sentinel logging.
type Mode string

const (
	ModeProject  Mode = "project"
	ModeSentinel Mode = "sentinel"
)

// AgentIdentity describes the calling agent as reported by the host.
type AgentIdentity struct {
	Kind        string
	Model       string
	InstanceID  string
	SubID       string
	DisplayName string
}

// ExecutionContext is the immutable bundle constructed for each tool call.
type ExecutionContext struct {
	RepoRoot            string
	Mode                Mode
	SessionID           string
	ExecutionID         string
	TransportSessionID  string
	ParentExecutionID   string
	Agent               AgentIdentity
	Intent              string
	Timestamp           time.Time
	AffectedDevProjects []string
	SentinelDay         string // YYYY-MM-DD, sentinel mode only
}

// TimestampISO returns the context timestamp in ISO-8601 UTC.
func (ec *ExecutionContext) TimestampISO() string {
	return ec.Timestamp.UTC().Format(time.RFC3339)
}

// AgentKey returns the first non-empty identity component, falling back to
// "default". The explicit argument, when the tool call provides one, wins.
func (ec *ExecutionContext) AgentKey(explicit string) string {
	for _, candidate := range []string{ec.Agent.SubID, ec.Agent.InstanceID, ec.Agent.DisplayName, explicit} {
		if candidate != "" {
			return candidate
		}
	}
	return "default"
}

// AgentID derives the stable agent-identity hash used as the partition key
// for per-agent isolation. The scope key is the sentinel day in sentinel
// mode and the owning session in project mode. The full hex digest is kept:
// truncation would raise collision odds across parallel agents.
func (ec *ExecutionContext) AgentID(explicitAgentKey string) string {
	scopeKey := ec.SessionID
	if ec.Mode == ModeSentinel {
		scopeKey = ec.SentinelDay
	}
	material := fmt.Sprintf("%s:%s:%s:%s", ec.RepoRoot, ec.Mode, scopeKey, ec.AgentKey(explicitAgentKey))
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

type contextKeyType struct{}

var contextKey contextKeyType

// Install returns a child context carrying the execution context for the
// duration of one tool call. Tools read it back through From; helpers that
// cross module boundaries take it explicitly so tests can inject fakes.
func Install(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, contextKey, ec)
}

// From returns the installed execution context, or nil outside a tool call.
func From(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(contextKey).(*ExecutionContext)
	return ec
}
