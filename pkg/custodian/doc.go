// Package custodian wraps the external custodial wallet service behind a
// single capability: transfer an asset from the parent wallet to a
// destination address. The parent wallet's key material never reaches this
// process; the custodian signs and broadcasts on its side using an
// authenticated session supplied by the auth layer.
//
// # Handle
//
// A Handle is a per-run funding-source capability. The orchestrator receives
// one per Execute call and never reaches into ambient session state, which
// keeps runs independently testable against mock custodians:
//
//	type Handle interface {
//		Address() solana.PublicKey
//		Transfer(ctx context.Context, req TransferRequest) (string, error)
//	}
//
// Transfer returns the ledger signature of the broadcast transfer; callers
// confirm it on the ledger themselves rather than trusting the custodian's
// response.
//
// # Failure Modes
//
// Errors are surfaced distinctly so the orchestration layer can route them:
//
//	ErrSessionInvalid      session expired; surface to the human-auth layer
//	ErrInsufficientBalance parent wallet cannot cover the transfer
//	ErrLedgerRejected      custodian's broadcast was rejected by the chain
//	ErrTimeout             custodian did not answer in time
//
// All are wrapped in a *TransferError carrying the HTTP status and message,
// and match errors.Is against the sentinel.
package custodian
