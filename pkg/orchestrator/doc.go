// Package orchestrator is the policy and sequencing layer of the payment
// core. It decides whether a quoted payment is auto-approvable, drives the
// create -> fund -> pay -> reclaim sequence over one ephemeral wallet,
// deduplicates concurrent requests for the same logical invocation, and maps
// every failure mode to a single caller-visible Outcome.
//
// # Execution
//
//	o, _ := orchestrator.New(cfg)
//	outcome := o.Execute(ctx, requirement, invocationID, fundingSource)
//
// Each Execute call is an independent run: its own ephemeral wallet, its own
// funding and reclaim sequence, no shared mutable wallet state with any
// other run. Steps within a run are strictly sequential; across runs there
// is no ordering at all. The only process-wide shared state is the in-flight
// invocation-id set guarding at-most-once execution.
//
// # At-Most-Once
//
// A run is keyed by the caller-supplied invocation id. A second Execute with
// the same id while the first is in flight returns OutcomeDuplicateInvocation
// immediately: no wallet, no spend. When a run terminates its id is
// evicted; reusing an id for a semantically new payment is the caller's
// responsibility. An empty id gets a generated UUID, so casual callers still
// participate in dedup.
//
// # Cancellation
//
// Before funding, cancellation aborts a run with no on-chain effect. Once
// anything has landed in the ephemeral wallet, the reclaim sweep runs on a
// context detached from the caller's; navigating away from a chat turn must
// not strand funded-but-unswept money.
//
// # Outcome Mapping
//
// The payment step is never retried: a protocol rejection is terminal for
// its requirement. Reclaim is always attempted once any funding leg
// confirmed, whatever the payment step did. Any residual left after the
// sweep turns the outcome into OutcomeReclaimIncomplete, logged at Error
// level since it is real economic loss until reconciled, with the fetched
// resource still attached when the payment itself succeeded.
package orchestrator
