// Package password hashes secrets with argon2id.
//
// Two kinds of secret pass through it: user passwords, and refresh tokens whose digest
// is the only thing a session row stores. Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports digests produced with weaker parameters so callers can
// re-hash on the next successful verification.
//
// The package never stores secrets and never logs them.
package password
