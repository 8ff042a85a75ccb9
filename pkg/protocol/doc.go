// Package protocol is the glue between the payment core and the x402
// pay-for-resource protocol. The handshake mechanics (initial request, 402
// requirement parsing, payment signing, header encoding, resubmission) live
// in the vendored github.com/mark3labs/x402-go/v2 implementation; this
// package only configures a Solana signer for the ephemeral payer, enforces
// the caller's spend ceiling, and classifies failures.
//
// # Failure Classification
//
// The orchestration layer needs three distinctions a generic HTTP client
// does not give it:
//
//	ErrQuoteRejected   the API quoted a requirement this core refuses to
//	                   sign: wrong network, wrong asset, amount above the
//	                   authorized ceiling, or a malformed 402 body. Nothing
//	                   was signed. Terminal.
//	ErrPaymentRejected the API explicitly rejected the signed payment, or a
//	                   payment was signed and its outcome is unknown.
//	                   Terminal, never retried: retrying risks double pay.
//	ErrNoResponse      the API never answered and no payment was signed.
//	                   Retried a bounded number of times first.
//
// The quoted network and asset must exactly match the configured chain and
// stable mint; a mismatch fails closed rather than paying on the wrong
// network. This falls out of the signer configuration: the x402 selector
// refuses requirements no signer can satisfy.
package protocol
