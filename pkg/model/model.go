package model

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PaymentRequirement is the quote produced by a resource API's
// payment-required response. It is immutable and consumed by at most one
// orchestration run; re-presenting the same requirement under the same
// invocation id never triggers a second spend.
type PaymentRequirement struct {
	// Network is the CAIP-2 identifier of the chain the payment must settle
	// on (e.g. "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp").
	Network string `json:"network"`
	// Mint is the SPL token mint of the requested asset.
	Mint solana.PublicKey `json:"mint"`
	// Amount is the payment amount in the mint's base units.
	Amount uint64 `json:"amount"`
	// PayTo is the destination address quoted by the resource API.
	PayTo solana.PublicKey `json:"pay_to"`
	// ResourceURL is the URL of the resource being purchased. The protocol
	// client re-runs the paid fetch against this URL.
	ResourceURL string `json:"resource_url"`
	// ResourceRef is an opaque identifier used for logging and idempotency,
	// never for ledger semantics.
	ResourceRef string `json:"resource_ref,omitempty"`
}

// FundingPlan describes the two transfers that move value from the custodial
// parent wallet into an ephemeral wallet: a native-asset fee leg covering
// network cost and rent, and a principal leg carrying the requirement's asset
// plus a small safety margin for protocol-side rounding. Both legs must be
// confirmed before payment is attempted.
type FundingPlan struct {
	// FeeLamports is the native-asset amount of the fee leg.
	FeeLamports uint64 `json:"fee_lamports"`
	// Mint is the SPL mint of the principal leg.
	Mint solana.PublicKey `json:"mint"`
	// PrincipalUnits is the principal leg amount in base units, margin
	// already included.
	PrincipalUnits uint64 `json:"principal_units"`
}

// FundingResult reports which legs of a FundingPlan were confirmed on the
// ledger, enabling the caller to decide between partial reclaim and plain
// failure.
type FundingResult struct {
	FeeConfirmed       bool   `json:"fee_confirmed"`
	PrincipalConfirmed bool   `json:"principal_confirmed"`
	FeeTransferID      string `json:"fee_transfer_id,omitempty"`
	PrincipalID        string `json:"principal_transfer_id,omitempty"`
}

// Landed reports whether any leg of the plan confirmed, i.e. whether the
// ephemeral wallet may hold value that has to be reclaimed.
func (r FundingResult) Landed() bool {
	return r.FeeConfirmed || r.PrincipalConfirmed
}

// Complete reports whether both legs confirmed.
func (r FundingResult) Complete() bool {
	return r.FeeConfirmed && r.PrincipalConfirmed
}

// Residual is a per-asset balance left behind in an ephemeral wallet.
type Residual struct {
	Lamports   uint64 `json:"lamports"`
	TokenUnits uint64 `json:"token_units"`
}

// IsZero reports whether nothing is left behind.
func (r Residual) IsZero() bool {
	return r.Lamports == 0 && r.TokenUnits == 0
}

func (r Residual) String() string {
	return fmt.Sprintf("%d lamports, %d token units", r.Lamports, r.TokenUnits)
}

// SweepResult reports the outcome of draining an ephemeral wallet back to the
// custodial address.
type SweepResult struct {
	// Swept is what made it back to the destination.
	Swept Residual `json:"swept"`
	// Residual is what is still in the wallet after the sweep. Zero on a
	// clean sweep.
	Residual Residual `json:"residual"`
	// Skipped is set when the sweep was not attempted because the remaining
	// native balance could not even cover the sweep transaction's own fee.
	Skipped bool `json:"skipped,omitempty"`
	// TransferID is the ledger signature of the sweep transaction, when one
	// was broadcast.
	TransferID string `json:"transfer_id,omitempty"`
}

// LifecycleState tracks an ephemeral wallet through its single payment run.
type LifecycleState int

const (
	// StateCreated: key material generated, nothing on chain yet.
	StateCreated LifecycleState = iota
	// StateFunded: both funding legs confirmed.
	StateFunded
	// StatePaymentAttempted: the protocol handshake ran, whatever its result.
	StatePaymentAttempted
	// StateReclaimed: the sweep fully emptied the wallet.
	StateReclaimed
	// StateAbandoned: residual value remains; recorded, not retried.
	StateAbandoned
)

// String implements fmt.Stringer.
func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFunded:
		return "funded"
	case StatePaymentAttempted:
		return "payment_attempted"
	case StateReclaimed:
		return "reclaimed"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// OutcomeKind selects the terminal variant of an orchestration run.
type OutcomeKind int

const (
	// OutcomeFulfilled: the resource was retrieved and the wallet drained.
	OutcomeFulfilled OutcomeKind = iota
	// OutcomePolicyRejected: the amount exceeds the auto-approval ceiling.
	// A routing decision, not a failure; the caller may escalate to a human.
	OutcomePolicyRejected
	// OutcomeFundingFailed: the custodian or ledger could not deliver funds.
	OutcomeFundingFailed
	// OutcomeProtocolRejected: the resource API rejected the payment, quoted
	// an out-of-bounds requirement, or never responded.
	OutcomeProtocolRejected
	// OutcomeReclaimIncomplete: residual value is stranded in the ephemeral
	// wallet; the exact amount is recorded for manual recovery.
	OutcomeReclaimIncomplete
	// OutcomeDuplicateInvocation: a run for the same invocation id is already
	// in flight; no wallet was created and nothing was spent.
	OutcomeDuplicateInvocation
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFulfilled:
		return "fulfilled"
	case OutcomePolicyRejected:
		return "policy_rejected"
	case OutcomeFundingFailed:
		return "funding_failed"
	case OutcomeProtocolRejected:
		return "protocol_rejected"
	case OutcomeReclaimIncomplete:
		return "reclaim_incomplete"
	case OutcomeDuplicateInvocation:
		return "duplicate_invocation"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the single terminal record of an orchestration run. Every call
// to the orchestrator produces exactly one Outcome; it is the sole basis for
// what the caller sees.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// InvocationID is the dedup key the run was executed under.
	InvocationID string `json:"invocation_id"`
	// Requirement echoes the consumed requirement for structured detail.
	Requirement PaymentRequirement `json:"requirement"`
	// Resource is the fetched body. Set for OutcomeFulfilled, and for
	// OutcomeReclaimIncomplete when the payment succeeded before the sweep
	// came up short.
	Resource []byte `json:"resource,omitempty"`
	// Reason is a short human-readable cause for the non-fulfilled variants.
	Reason string `json:"reason,omitempty"`
	// Funding reports which funding legs confirmed, when funding ran.
	Funding *FundingResult `json:"funding,omitempty"`
	// Residual is the stranded balance for OutcomeReclaimIncomplete.
	Residual *Residual `json:"residual,omitempty"`
	// WalletState is the final lifecycle state of the run's wallet, when one
	// was created.
	WalletState LifecycleState `json:"wallet_state"`
}

// Fulfilled reports whether the run retrieved the resource, regardless of
// whether the subsequent sweep was clean.
func (o Outcome) Fulfilled() bool {
	return o.Kind == OutcomeFulfilled ||
		(o.Kind == OutcomeReclaimIncomplete && len(o.Resource) > 0)
}
