// Package api contains the types shared by every part of shellguard: command
// messages and results, lifecycle phases and bus events, risk assessments,
// the ActionWorkflow aggregate, and the Engine and EventBus contracts.
//
// Most users interact with the higher-level shellguard package, which
// re-exports selected types and constructors from this package. The api
// package is intended for custom sinks, assessors and integrations.
//
// # Lifecycle
//
// Every submitted command becomes an ActionWorkflow that moves through the
// phases
//
//	SUBMITTED -> RISK_ASSESSED -> PENDING_APPROVAL | APPROVED
//	PENDING_APPROVAL -> APPROVED | REJECTED | IMMEDIATE_EXECUTE_APPROVAL
//	-> READY_TO_RUN -> EXECUTION_STARTED -> COMPLETED | FAILED
//
// OUTPUT events may be emitted any number of times once an action has been
// released for execution. COMPLETED, FAILED and REJECTED are terminal.
//
// The workflow keeps an append-only log of BusEvents; its phase is always
// the phase of the last event (see PhaseOf).
//
// # Risk
//
// A RiskAssessor turns a command into a RiskAssessment. The level of an
// assessment is derived from its score:
//
//	0-39 LOW, 40-69 MEDIUM, 70-89 HIGH, 90-100 CRITICAL
//
// Concrete assessors live in the risk package.
//
// # Observability
//
// Listeners attached to an EventBus see every transition. NewLoggingListener
// writes structured logs with log/slog, BasicMetrics keeps in-memory
// counters, and CompositeListener combines several listeners.
package api
