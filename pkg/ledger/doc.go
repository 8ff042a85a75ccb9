// Package ledger is the thin boundary between the payment core and the
// Solana network: broadcast a signed transaction, read a confirmation
// status, read native and token balances, derive associated token accounts.
// The rest of the core only sees the Client interface, so tests run against
// in-memory fakes and never touch a network.
//
// # Client Interface
//
//	type Client interface {
//		Broadcast(ctx, tx) (solana.Signature, error)
//		Confirmation(ctx, sig) (ConfirmationStatus, error)
//		Lamports(ctx, addr) (uint64, error)
//		TokenBalance(ctx, owner, mint) (TokenBalance, error)
//		LatestBlockhash(ctx) (solana.Hash, error)
//	}
//
// RPCClient implements it over a gagliardetto/solana-go JSON-RPC client.
//
// # Confirmation Polling
//
// AwaitConfirmation polls Confirmation with bounded backoff until the
// transaction confirms, fails, or the budget runs out. It never busy-waits
// and tolerates a bounded number of transient read errors before giving up.
//
// # Thread Safety
//
// RPCClient holds no run-specific state and is safe to share across
// concurrent orchestration runs.
package ledger
