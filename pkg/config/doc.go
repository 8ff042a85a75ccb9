// Package config defines the runtime configuration for the payment core:
// target network and RPC endpoint, custodian service endpoint, the stable
// asset used for payments, the auto-approval ceiling, funding margins, dust
// thresholds, and per-operation timeouts. It also provides validation and
// defaulting helpers.
//
// # Basic Configuration
//
// The minimum required configuration names an RPC endpoint, a custodian
// endpoint and the stable asset mint:
//
//	cfg := &config.Config{
//		RPCEndpoint:  rpc.MainNetBeta_RPC,
//		CustodianURL: "https://custodian.internal.example.com",
//		StableMint:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
//	}
//	if err := cfg.Validate(); err != nil { ... }
//
// # Network Selection
//
// Networks are CAIP-2 identifiers matching the payment protocol's network
// field. Two are predefined:
//
//	config.SolanaMainnet
//	config.SolanaDevnet
//
// The configured network must exactly match the network quoted by a resource
// API or the run fails closed rather than paying on the wrong chain.
//
// # Policy Parameters
//
// AutoApproveCeiling is a human-denominated decimal string (e.g. "0.005" for
// half a cent of USDC); CeilingBaseUnits converts it using StableDecimals.
// DustLamports and DustTokenUnits bound when a reclaim sweep is economically
// worth attempting; both are policy parameters, not correctness requirements.
//
// # Timeouts
//
// All network-bound operations have configurable deadlines; zero values are
// replaced with defaults via Timeouts.WithDefaults:
//
//	ChainRead:    12s  // balance and confirmation reads
//	ChainSubmit:  25s  // transaction broadcast
//	ConfirmWait:  45s  // bounded confirmation polling per transfer
//	Custodian:    30s  // one custodian transfer round-trip
//	Protocol:     60s  // one paid-resource handshake
//	Sweep:        45s  // reclaim broadcast plus confirmation
//
// # Validation
//
// Always call Validate() before handing the Config to the orchestrator. It
// applies implicit defaults (network, fee funding amount, principal margin,
// dust thresholds) and reports missing required fields.
package config
