// Package model defines the data structures shared by the payment core:
// payment requirements quoted by resource APIs, funding plans, ephemeral
// wallet lifecycle states, and the terminal outcome record every
// orchestration run produces.
//
// # Payment Requirement
//
// PaymentRequirement is the structured quote a resource API returns when it
// rejects an unpaid request:
//
//	type PaymentRequirement struct {
//		Network     string           // CAIP-2 network identifier
//		Mint        solana.PublicKey // SPL mint of the requested asset
//		Amount      uint64           // amount in the mint's base units
//		PayTo       solana.PublicKey // destination quoted by the API
//		ResourceURL string           // resource being purchased
//		ResourceRef string           // opaque id for logging/idempotency
//	}
//
// A requirement is immutable and consumed by at most one orchestration run.
//
// # Outcomes
//
// Every run terminates with exactly one Outcome. The Kind field selects the
// variant; the remaining fields carry the structured detail for that variant:
//
//	OutcomeFulfilled           resource body retrieved, wallet drained
//	OutcomePolicyRejected      amount above the auto-approval ceiling
//	OutcomeFundingFailed       custodian or ledger could not deliver funds
//	OutcomeProtocolRejected    resource API rejected or never answered
//	OutcomeReclaimIncomplete   residual value stranded in the ephemeral wallet
//	OutcomeDuplicateInvocation a run with the same invocation id is in flight
//
// OutcomeReclaimIncomplete always carries the exact residual balances so the
// stranded value can be reconciled manually; when the payment itself
// succeeded before the sweep came up short, the Resource field is still
// populated.
//
// # Lifecycle States
//
// The ephemeral wallet moves strictly forward through
//
//	StateCreated -> StateFunded -> StatePaymentAttempted -> StateReclaimed | StateAbandoned
//
// and never leaves the run that created it.
//
// # Thread Safety
//
// Model values are built once and treated as read-only afterwards; they hold
// no synchronization of their own.
//
// # See Also
//
//   - orchestrator package for how outcomes are produced
//   - wallet package for funding and sweep results
package model
