package custodian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Sentinel failure modes of a custodian transfer.
var (
	// ErrSessionInvalid: the custodian session expired or was revoked. Not
	// retryable by this core; must be surfaced to the human-auth layer.
	ErrSessionInvalid = errors.New("custodian: session invalid")
	// ErrInsufficientBalance: the parent wallet cannot cover the transfer.
	ErrInsufficientBalance = errors.New("custodian: insufficient balance")
	// ErrLedgerRejected: the custodian's broadcast was rejected by the chain.
	ErrLedgerRejected = errors.New("custodian: ledger rejected transfer")
	// ErrTimeout: the custodian did not answer within the deadline.
	ErrTimeout = errors.New("custodian: transfer timed out")
)

// TransferRequest names one transfer out of the custodial parent wallet.
type TransferRequest struct {
	// Mint is the SPL mint to transfer. Nil means the native asset.
	Mint *solana.PublicKey
	// Amount is the transfer amount in base units (lamports for native).
	Amount uint64
	// Destination is the receiving address. For token transfers the
	// custodian creates the destination's associated token account if needed.
	Destination solana.PublicKey
}

// TransferError carries the structured detail of a failed transfer. It
// unwraps to one of the sentinel errors above.
type TransferError struct {
	Kind    error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

// Unwrap returns the sentinel failure mode.
func (e *TransferError) Unwrap() error {
	return e.Kind
}

// Handle is a funding-source capability scoped to one authenticated custodian
// session. It is passed into each orchestration run rather than held as a
// global, so runs stay independently testable.
type Handle interface {
	// Address returns the custodial parent wallet's public address. Reclaim
	// sweeps target this address.
	Address() solana.PublicKey
	// Transfer asks the custodian to sign and broadcast one transfer from
	// the parent wallet. It returns the ledger signature of the broadcast
	// transaction; confirmation is the caller's job.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// HTTPHandle implements Handle against the custodial wallet service's REST
// API using a bearer session token. It holds no run-specific state and is
// safe for concurrent use.
type HTTPHandle struct {
	base    string
	session string
	address solana.PublicKey
	client  *http.Client
}

// NewHTTPHandle builds a Handle for one custodian session.
//
// Parameters:
//   - baseURL: custodian service base URL, without trailing slash.
//   - sessionToken: bearer token for the authenticated session. Supplied by
//     the external auth subsystem, never generated or stored here.
//   - address: the parent wallet's public address.
//   - timeout: per-transfer round-trip deadline.
func NewHTTPHandle(baseURL, sessionToken string, address solana.PublicKey, timeout time.Duration) *HTTPHandle {
	return &HTTPHandle{
		base:    baseURL,
		session: sessionToken,
		address: address,
		client:  &http.Client{Timeout: timeout},
	}
}

// Address returns the custodial parent wallet address.
func (h *HTTPHandle) Address() solana.PublicKey {
	return h.address
}

type transferBody struct {
	Asset       string `json:"asset"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

type transferReply struct {
	Signature string `json:"signature"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Transfer POSTs one transfer to the custodian and maps the response to the
// package's typed failure modes. The native asset is requested as "sol";
// token transfers name the mint address.
func (h *HTTPHandle) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	asset := "sol"
	if req.Mint != nil {
		asset = req.Mint.String()
	}

	body, err := json.Marshal(transferBody{
		Asset:       asset,
		Amount:      req.Amount,
		Destination: req.Destination.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.session)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", &TransferError{Kind: ErrTimeout, Message: err.Error()}
		}
		return "", &TransferError{Kind: ErrLedgerRejected, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read transfer reply: %w", err)
	}

	var reply transferReply
	if len(raw) > 0 {
		// Best effort; error mapping below works from the status code alone.
		_ = json.Unmarshal(raw, &reply)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		terr := &TransferError{Kind: mapStatus(resp.StatusCode, reply.Code), Status: resp.StatusCode, Message: reply.Message}
		zap.L().Debug("custodian transfer rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("code", reply.Code))
		return "", terr
	}

	if reply.Signature == "" {
		return "", &TransferError{Kind: ErrLedgerRejected, Status: resp.StatusCode, Message: "custodian returned no signature"}
	}

	return reply.Signature, nil
}

// mapStatus converts a custodian HTTP status (and optional error code) into
// the sentinel failure modes.
func mapStatus(status int, code string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrSessionInvalid
	case status == http.StatusPaymentRequired || code == "insufficient_funds":
		return ErrInsufficientBalance
	case status == http.StatusGatewayTimeout || status == http.StatusServiceUnavailable:
		return ErrTimeout
	default:
		return ErrLedgerRejected
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
