// Package jwt issues and verifies the two token kinds of a session: short-lived access
// tokens that carry the caller's identity, and long-lived refresh tokens that carry only
// a random jti and the account id.
//
// Every token is stamped with a typ claim and each parse path accepts exactly one typ,
// so a refresh token can never be replayed as a bearer credential.
package jwt
