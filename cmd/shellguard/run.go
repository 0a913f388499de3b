package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/petrijr/shellguard"
	"github.com/petrijr/shellguard/internal/persistence"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		session string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Interactive session: submit, approve and reject commands",
		Long: `run reads commands from stdin, one per line. Lines starting with ':'
are operator commands:

  :pending                 list actions waiting for approval
  :approve <id>            approve an action
  :reject <id> [reason]    reject an action
  :force <id> [reason]     approve an action ahead of its queue
  :stats                   workflow counters
  :history                 recently finished actions
  :quit                    stop the workers and exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Workers.DryRun = true
			}
			logger := a.logger(cmd, cfg)
			out := &lockedWriter{w: cmd.OutOrStdout()}

			reg := prometheus.NewRegistry()
			b, err := shellguard.NewFromConfig(cmd.Context(), cfg,
				shellguard.WithBundleLogger(logger),
				shellguard.WithRegisterer(reg),
				shellguard.WithOutput(out),
			)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
				defer cancel()
				if err := b.Close(ctx); err != nil {
					logger.Warn("close_failed", slog.String("error", err.Error()))
				}
			}()

			if cfg.Metrics.Addr != "" {
				stop := serveMetrics(cfg.Metrics.Addr, reg, logger)
				defer stop()
			}
			if err := b.Start(cmd.Context()); err != nil {
				return err
			}

			s := &repl{
				bundle:   b,
				session:  session,
				operator: currentUser(),
				out:      out,
			}
			return s.loop(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&session, "session", "local", "Session id for submitted commands")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Echo commands instead of running them")
	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_listening", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

type repl struct {
	bundle   *shellguard.Bundle
	session  string
	operator string
	out      io.Writer
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			r.submit(ctx, line)
			continue
		}
		if quit := r.operatorCommand(ctx, line); quit {
			return nil
		}
	}
	return sc.Err()
}

func (r *repl) submit(ctx context.Context, text string) {
	wf, err := shellguard.SubmitText(ctx, r.bundle.Engine(), r.session, text)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if wf.Phase() == shellguard.PhasePendingApproval {
		fmt.Fprintf(r.out, "%s held for approval (risk %s)\n", wf.ID(), wf.Risk())
		return
	}
	fmt.Fprintf(r.out, "%s accepted (risk %s)\n", wf.ID(), wf.Risk())
}

// operatorCommand handles a ':' line and reports whether the loop should end.
func (r *repl) operatorCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	eng := r.bundle.Engine()

	switch name {
	case ":quit", ":q", ":exit":
		return true

	case ":pending":
		pending := eng.GetPendingApprovals()
		if len(pending) == 0 {
			fmt.Fprintln(r.out, "no pending actions")
			return false
		}
		for _, wf := range pending {
			fmt.Fprintf(r.out, "%s  %-14s  %s\n", wf.ID(), wf.Risk(), wf.Command().Parameter)
		}

	case ":approve", ":reject", ":force":
		if len(args) == 0 {
			fmt.Fprintf(r.out, "usage: %s <id>\n", name)
			return false
		}
		id, reason := args[0], strings.Join(args[1:], " ")
		var ok bool
		switch name {
		case ":approve":
			ok = shellguard.Approve(ctx, eng, id, r.operator)
		case ":reject":
			ok = shellguard.Reject(ctx, eng, id, r.operator, reason)
		default:
			ok = shellguard.ApproveOutOfOrder(ctx, eng, id, r.operator, reason)
		}
		if !ok {
			fmt.Fprintf(r.out, "%s: %s is not pending approval\n", name[1:], id)
		}

	case ":stats":
		st := eng.GetWorkflowStats()
		fmt.Fprintf(r.out, "total=%d active=%d pending=%d completed=%d failed=%d rejected=%d avg=%s\n",
			st.Total, st.Active, st.PendingApproval, st.Completed, st.Failed, st.Rejected, st.AverageDuration)

	case ":history":
		if err := r.bundle.FlushAudit(ctx); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		recs, err := r.bundle.Audit.List(ctx, persistence.AuditFilter{SessionID: r.session, Limit: 10})
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		writeRecords(r.out, recs)

	default:
		fmt.Fprintf(r.out, "unknown command %s\n", name)
	}
	return false
}

// lockedWriter serialises writes from the prompt and the workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
