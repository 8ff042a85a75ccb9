// Package wallet implements the ephemeral wallet lifecycle: create a
// disposable signing identity, drive its funding from the custodial parent
// wallet, and sweep whatever remains back when the run ends.
//
// # Ephemeral Wallets
//
// A Wallet is a freshly generated ed25519 keypair that exists only in
// process memory, is owned by exactly one orchestration run, and is never
// persisted, transmitted, pooled, or reused. Destroy zeroes the key material
// and is called unconditionally when the run terminates, whatever the
// outcome. The key signs exactly one class of transaction itself, the
// reclaim sweep; funding legs are signed by the custodian, the payment by
// the protocol client using the same in-memory key.
//
// # Funding
//
// Fund executes a FundingPlan: a native fee leg, then a principal token leg,
// both issued through the custodian Handle and each confirmed on the ledger
// with a bounded poll. The returned FundingResult names which legs landed so
// the orchestrator can decide between partial reclaim and plain failure. On
// a confirmation timeout the manager re-reads the balance before declaring
// the leg unconfirmed; a broadcast that timed out may still have landed.
//
// # Sweeping
//
// Sweep re-reads the wallet's current balances and drains them in a single
// transaction signed by the wallet's own key: transfer the full token
// balance to the destination's associated token account (created
// idempotently), close the now-empty token account so its rent follows, and
// transfer the remaining lamports minus the sweep's own fee. If the native
// balance cannot cover even that fee, the sweep is skipped and the residual
// reported instead of throwing good fee money after bad. A broadcast whose
// outcome is ambiguous is resolved by re-querying balances, never by
// trusting the immediate response.
package wallet
