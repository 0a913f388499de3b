// Package sinks connects the engine's event bus to the outside world.
//
// Three sink interfaces cover the concerns a terminal front end has:
// ReviewSink for approval decisions, OutputSink for terminal output and
// status lines, and CompletionSink for execution outcomes. An
// AdapterRegistry subscribes once to the bus and fans each event out to the
// matching adapters.
//
// HistoryRecorder is a plain listener that writes finished actions to an
// audit store.
package sinks
