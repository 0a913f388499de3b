// Package worker executes actions once the engine has released them.
//
// NewExecutionSink subscribes to READY_TO_RUN: it marks the action as
// started and pushes a task onto a taskqueue.Queue. A Worker dequeues tasks,
// runs them through an Executor, forwards stdout as OUTPUT and finishes the
// action with CompleteAction or FailAction. Finishing an action releases the
// next one in its session.
//
// ShellExecutor runs TEXT and LINE commands through `sh -c`. EchoExecutor
// prints instead of running and is used by demos and tests.
package worker
