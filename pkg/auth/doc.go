// Package auth implements the session and token lifecycle for the API:
// credential verification with brute-force lockout, dual-token (header +
// cookie) session issuance, and rotating single-use "remember me" tokens.
//
// # Components
//
//   - TokenCodec: stateless signing/verification of the short-lived header
//     and cookie tokens, each under its own secret.
//   - FailureTracker: Redis-backed counter of consecutive bad-password
//     attempts per user, with a sliding TTL window.
//   - PersistentTokenManager: issues, redeems, and revokes the long-lived
//     remember-me tokens embedded in the user record.
//   - Issuer: orchestrates login (lockout check, password comparison,
//     failure accounting, token minting, remember-me issuance).
//
// A request is authenticated when both tokens of the session pair decode
// and their identity claims match exactly; see pkg/middleware for the
// guard chain that enforces this.
package auth
