package sinks

import (
	"context"

	"github.com/petrijr/shellguard/pkg/api"
)

// ReviewSink is told about approval decisions.
type ReviewSink interface {
	OnCommandForReview(ctx context.Context, cmd api.CommandMessage) error
	OnCommandApproved(ctx context.Context, cmd api.CommandMessage, approvedBy string) error
	OnCommandRejected(ctx context.Context, cmd api.CommandMessage, rejectedBy, reason string) error
	OnCommandAutoApproved(ctx context.Context, cmd api.CommandMessage) error
}

// OutputSink receives terminal output and human-readable status lines.
type OutputSink interface {
	OnTerminalOutput(ctx context.Context, out api.TerminalOutput) error
}

// CompletionSink is told how executions ended.
type CompletionSink interface {
	OnCommandCompleted(ctx context.Context, result api.CommandResult) error
	OnCommandFailed(ctx context.Context, cmd api.CommandMessage, message string) error
}

const (
	unknownActor    = "unknown"
	noReasonGiven   = "No reason provided"
	unknownError    = "Unknown error"
	defaultExitCode = -1
)
