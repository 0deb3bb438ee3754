// Package permit implements a signature-authorized token transfer engine.
//
// A token owner signs an EIP-712 permit off-chain (single-token or batched,
// optionally extended with a caller-defined witness) and a spender or
// relayer later submits the signature together with transfer instructions.
// The engine verifies the signature (ECDSA or contract-account), consumes
// the permit's unordered nonce from a 256-bit-word bitmap, and moves tokens
// through an injected transfer primitive, never exceeding the signed amount.
//
// Nonce state lives behind the NonceStore interface; MemoryStore serves
// single-instance deployments and tests, RedisStore lets replicas share one
// replay-protection domain.
package permit
