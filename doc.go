// Package shellguard is an approval gate for terminal commands.
//
// Every command submitted to the Engine is scored by a RiskAssessor. Low-risk
// commands are approved automatically; everything else waits for a human to
// approve or reject it. Approved commands are released for execution in
// submission order per session, so a command never runs ahead of an earlier
// one that is still waiting for review, unless a reviewer explicitly lets it
// jump the queue.
//
// # Core Concepts
//
//  1. Engine
//  2. RiskAssessor
//  3. EventBus and sinks
//  4. LocalRunner
//  5. Bundle
//
// # Engine
//
// The Engine drives each action through its lifecycle:
//
//	SUBMITTED -> RISK_ASSESSED -> PENDING_APPROVAL | APPROVED
//	PENDING_APPROVAL -> APPROVED | REJECTED | IMMEDIATE_EXECUTE_APPROVAL
//	-> READY_TO_RUN -> EXECUTION_STARTED -> OUTPUT* -> COMPLETED | FAILED
//
// Each transition is recorded on the action's ActionWorkflow and published on
// the bus. Transitions are guarded: approving an action that is not pending,
// or completing one that was never released, returns false and changes
// nothing.
//
// # Risk assessment
//
// The rule-based assessor matches the command text against ordered pattern
// tiers (critical, high, medium) and a low-risk allow-list. The fail-safe
// assessor requires approval for everything and is the default. The
// composite assessor keeps the highest score of its children.
//
// # Sinks
//
// Listeners subscribe to the bus per phase or for every event. The sinks
// package adapts bus events to review, output and completion sinks, and
// records finished actions in an audit store (memory, SQLite, Postgres,
// Redis or MongoDB).
//
// # LocalRunner
//
// LocalRunner wires a bus, session stores, an Engine, a task queue and
// workers in one process:
//
//	runner := shellguard.NewLocalRunner(
//		shellguard.WithAssessor(shellguard.NewRuleBasedAssessor()),
//	)
//	_ = runner.StartWorkers(ctx, 2)
//	defer runner.Stop()
//
//	wf, _ := shellguard.SubmitText(ctx, runner.Engine, "tty1", "sudo systemctl restart nginx")
//	// wf.Phase() == PhasePendingApproval
//	shellguard.Approve(ctx, runner.Engine, wf.ID(), "alice")
//
// # Bundle
//
// NewFromConfig builds a LocalRunner plus audit history, sink adapters and
// metrics from a YAML configuration; the shellguard command uses it.
package shellguard
