// Package auth verifies bearer tokens and enforces role and permission gates
// for proxied routes.
//
// Tokens are HS256 JWTs carrying the claims id, email, role and permissions.
// A token may arrive in a configurable header (with an optional "Bearer "
// prefix) or, failing that, in a named cookie. Verified identities are
// attached to the request as a *Principal.
package auth
