// Package orchestrator drives task graphs to completion.
//
// An Engine accepts document requests, decomposes them into a task graph
// through the decompose package and runs every task under a bounded
// concurrency limit. A task is admitted only after each required
// dependency has Succeeded and its output has been committed to the state
// store. Failures are retried with exponential backoff up to a per-task
// ceiling; a task that fails for good marks every transitive dependent
// Skipped, while independent branches keep running.
//
// Example usage:
//
//	eng := orchestrator.New(decomposer, store, orchestrator.WithLogger(log))
//	id, err := eng.Submit(ctx, "report", models.Params{"topic": "ingest"})
//	status, err := eng.Wait(ctx, id)
package orchestrator
