package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ConfirmationStatus is the ledger's view of a submitted transaction.
type ConfirmationStatus int

const (
	// StatusPending: the ledger has not (yet) committed the transaction.
	StatusPending ConfirmationStatus = iota
	// StatusConfirmed: the transaction is committed at confirmed depth or better.
	StatusConfirmed
	// StatusFailed: the transaction was committed but its execution failed.
	StatusFailed
)

// String implements fmt.Stringer.
func (s ConfirmationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TokenBalance is a token-account balance read. Exists distinguishes a zero
// balance from a token account that was never created (or already closed).
type TokenBalance struct {
	Units    uint64
	Decimals uint8
	Exists   bool
}

// Client is the narrow contract the payment core needs from the chain. It is
// stateless with respect to orchestration runs and safe for concurrent use.
type Client interface {
	// Broadcast submits a fully signed transaction and returns its signature.
	Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Confirmation reports the current status of a submitted transaction.
	Confirmation(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error)
	// Lamports returns the native balance of an account.
	Lamports(ctx context.Context, addr solana.PublicKey) (uint64, error)
	// TokenBalance returns the balance of owner's associated token account
	// for mint. A missing account is reported as Exists=false, not an error.
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (TokenBalance, error)
	// LatestBlockhash returns a recent blockhash for transaction assembly.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// TokenAccount derives the associated token account address holding mint on
// behalf of owner. Pure computation, no I/O.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return ata, nil
}

// RPCClient implements Client over a Solana JSON-RPC endpoint.
type RPCClient struct {
	rpc *rpc.Client
}

// NewRPCClient dials the given JSON-RPC endpoint.
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{rpc: rpc.New(endpoint)}
}

// RPC exposes the underlying solana-go client for callers that need raw
// access (the payment protocol signer fetches blockhashes through it).
func (c *RPCClient) RPC() *rpc.Client {
	return c.rpc
}

// Broadcast submits the transaction with preflight at confirmed commitment.
func (c *RPCClient) Broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		zap.L().Debug("broadcast rejected", zap.Error(err))
		return solana.Signature{}, fmt.Errorf("broadcast: %w", err)
	}
	return sig, nil
}

// Confirmation reads the signature status at confirmed depth.
func (c *RPCClient) Confirmation(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return StatusPending, fmt.Errorf("signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusPending, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StatusConfirmed, nil
	default:
		return StatusPending, nil
	}
}

// Lamports reads the native balance at confirmed commitment.
func (c *RPCClient) Lamports(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance reads the associated token account balance at confirmed
// commitment. A token account that does not exist yields a zero balance with
// Exists=false.
func (c *RPCClient) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (TokenBalance, error) {
	ata, err := TokenAccount(owner, mint)
	if err != nil {
		return TokenBalance{}, err
	}

	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// Nodes report a never-created token account as an RPC error rather
		// than a null value.
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return TokenBalance{}, nil
		}
		return TokenBalance{}, fmt.Errorf("token balance: %w", err)
	}
	if out == nil || out.Value == nil {
		return TokenBalance{}, nil
	}

	units, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return TokenBalance{}, fmt.Errorf("token balance %q: %w", out.Value.Amount, err)
	}
	return TokenBalance{Units: units, Decimals: out.Value.Decimals, Exists: true}, nil
}

// LatestBlockhash fetches a recent blockhash at confirmed commitment.
func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}
