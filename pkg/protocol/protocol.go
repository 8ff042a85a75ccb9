package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	v2 "github.com/mark3labs/x402-go/v2"
	x402http "github.com/mark3labs/x402-go/v2/http"
	"github.com/mark3labs/x402-go/v2/signers/svm"
	"go.uber.org/zap"

	"github.com/darkresearch/paykit/pkg/config"
)

// Sentinel failure modes of a paid fetch. See the package documentation for
// how they map onto orchestration outcomes.
var (
	ErrQuoteRejected   = errors.New("protocol: quoted requirement rejected")
	ErrPaymentRejected = errors.New("protocol: payment rejected by resource API")
	ErrNoResponse      = errors.New("protocol: resource API did not respond")
)

// Error carries the structured detail of a failed paid fetch. It unwraps to
// one of the sentinel errors.
type Error struct {
	Kind   error
	Status int
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the sentinel failure mode.
func (e *Error) Unwrap() error {
	return e.Kind
}

// maxResourceBytes bounds how much of a resource body is read into memory.
const maxResourceBytes = 8 << 20

// retryBaseDelay spaces the bounded connection-error retries.
const retryBaseDelay = 500 * time.Millisecond

// Client fetches paid resources with an ephemeral payer key. It holds no
// run-specific state; the payer is supplied per call.
type Client struct {
	network    string
	token      v2.TokenConfig
	blockhash  svm.RPCClient
	timeout    time.Duration
	maxRetries int
	transport  http.RoundTripper
}

// NewClient builds a protocol client for the configured network and stable
// asset. blockhash supplies recent blockhashes for payment transaction
// assembly; the ledger's RPC client satisfies it.
func NewClient(cfg *config.Config, blockhash svm.RPCClient) *Client {
	return &Client{
		network: cfg.Network,
		token: v2.TokenConfig{
			Address:  cfg.StableMint,
			Symbol:   cfg.StableSymbol,
			Decimals: cfg.StableDecimals,
		},
		blockhash:  blockhash,
		timeout:    cfg.Timeouts.WithDefaults().Protocol,
		maxRetries: 2,
	}
}

// FetchPaidResource performs the pay-for-resource handshake against url with
// the given payer key, refusing to sign anything above maxAmount base units
// of the configured stable asset. It returns the resource body on success;
// failures arrive as *Error wrapping one of the package sentinels.
//
// Connection errors on the unpaid leg are retried up to a small bound. Once
// a payment has been signed and submitted, nothing is ever retried: an
// ambiguous response after signing is terminal, because re-running the
// handshake could pay twice.
func (c *Client) FetchPaidResource(ctx context.Context, url string, payer solana.PrivateKey, maxAmount *big.Int) ([]byte, error) {
	signer, err := svm.NewSignerFromKey(c.network, payer, []v2.TokenConfig{c.token},
		svm.WithMaxAmount(maxAmount),
		svm.WithRPCClient(c.blockhash),
	)
	if err != nil {
		return nil, &Error{Kind: ErrQuoteRejected, Detail: "signer setup", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: ErrNoResponse, Err: ctx.Err()}
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
			zap.L().Debug("retrying paid fetch", zap.String("url", url), zap.Int("attempt", attempt))
		}

		body, signed, err := c.fetchOnce(ctx, url, signer)
		if err == nil {
			return body, nil
		}

		var perr *Error
		if errors.As(err, &perr) && errors.Is(perr, ErrNoResponse) && !signed {
			// The API never answered and nothing was signed; safe to retry.
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// fetchOnce runs one handshake attempt. The signed flag reports whether a
// payment was signed during the attempt, which gates retry safety.
func (c *Client) fetchOnce(ctx context.Context, url string, signer v2.Signer) (body []byte, signed bool, err error) {
	attempted := false
	client, err := x402http.NewClient(
		x402http.WithHTTPClient(&http.Client{Timeout: c.timeout, Transport: c.transport}),
		x402http.WithSigner(signer),
		x402http.WithPaymentCallbacks(func(v2.PaymentEvent) { attempted = true }, nil, nil),
	)
	if err != nil {
		return nil, false, fmt.Errorf("protocol client setup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &Error{Kind: ErrQuoteRejected, Detail: "bad resource url", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, attempted, classifyTransportError(err, attempted)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes))
	if err != nil {
		return nil, attempted, &Error{Kind: ErrNoResponse, Detail: "reading resource body", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, attempted, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		// Still 402 after the handshake: the API did not accept the payment.
		return nil, attempted, &Error{Kind: ErrPaymentRejected, Status: resp.StatusCode, Detail: "payment not accepted"}
	default:
		return nil, attempted, &Error{Kind: ErrPaymentRejected, Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}
}

// classifyTransportError maps an error out of the x402 round trip onto the
// package sentinels. Protocol-level errors (bad quote, over-ceiling, no
// matching signer) surface as *v2.PaymentError before anything is signed;
// everything else is a transport failure whose meaning depends on whether a
// payment had already been submitted.
func classifyTransportError(err error, attempted bool) error {
	var perr *v2.PaymentError
	if errors.As(err, &perr) {
		switch perr.Code {
		case v2.ErrCodeAmountExceeded, v2.ErrCodeNoValidSigner,
			v2.ErrCodeInvalidRequirements, v2.ErrCodeUnsupportedScheme,
			v2.ErrCodeUnsupportedVersion:
			return &Error{Kind: ErrQuoteRejected, Detail: string(perr.Code), Err: err}
		default:
			return &Error{Kind: ErrPaymentRejected, Detail: string(perr.Code), Err: err}
		}
	}
	if attempted {
		// A payment went out and the response is unknown. Terminal.
		return &Error{Kind: ErrPaymentRejected, Detail: "no response after payment submission", Err: err}
	}
	return &Error{Kind: ErrNoResponse, Err: err}
}
