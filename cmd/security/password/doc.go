// Package password hashes and verifies user passwords.
//
// New hashes are bcrypt (default cost 10). Verify also accepts argon2id hashes in
// the PHC-like "$argon2id$v=19$m=..,t=..,p=..$salt$key" format so stored
// credentials can migrate between families without a reset.
//
// Hash strings are treated as untrusted input during Verify; malformed hashes
// return ErrInvalidHash and never a match.
package password
