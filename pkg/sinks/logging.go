package sinks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// LoggingReviewSink logs every review decision.
type LoggingReviewSink struct {
	logger *slog.Logger
}

func NewLoggingReviewSink(logger *slog.Logger) *LoggingReviewSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingReviewSink{logger: logger}
}

var _ ReviewSink = (*LoggingReviewSink)(nil)

func (s *LoggingReviewSink) OnCommandForReview(ctx context.Context, cmd api.CommandMessage) error {
	attrs := cmdAttrs(cmd)
	if cmd.Risk != nil {
		attrs = append(attrs, slog.String("risk_level", string(cmd.Risk.Level)))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "review_requested", attrs...)
	return nil
}

func (s *LoggingReviewSink) OnCommandApproved(ctx context.Context, cmd api.CommandMessage, approvedBy string) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "review_approved",
		append(cmdAttrs(cmd), slog.String("approved_by", approvedBy))...)
	return nil
}

func (s *LoggingReviewSink) OnCommandRejected(ctx context.Context, cmd api.CommandMessage, rejectedBy, reason string) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "review_rejected",
		append(cmdAttrs(cmd), slog.String("rejected_by", rejectedBy), slog.String("reason", reason))...)
	return nil
}

func (s *LoggingReviewSink) OnCommandAutoApproved(ctx context.Context, cmd api.CommandMessage) error {
	s.logger.LogAttrs(ctx, slog.LevelDebug, "review_auto_approved", cmdAttrs(cmd)...)
	return nil
}

func cmdAttrs(cmd api.CommandMessage) []slog.Attr {
	return []slog.Attr{
		slog.String("action_id", cmd.ID),
		slog.String("session_id", cmd.SessionID),
		slog.String("command", cmd.Command),
		slog.String("parameter", cmd.Parameter),
	}
}

// WriterOutputSink prints output to a writer, one block per chunk,
// prefixed with the session.
type WriterOutputSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterOutputSink(w io.Writer) *WriterOutputSink {
	return &WriterOutputSink{w: w}
}

var _ OutputSink = (*WriterOutputSink)(nil)

func (s *WriterOutputSink) OnTerminalOutput(_ context.Context, out api.TerminalOutput) error {
	text := strings.TrimRight(out.Output, "\n")
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "[%s] %s\n", out.SessionID, text)
	return err
}
