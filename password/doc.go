// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes written by the previous bcrypt based system ($2a$, $2b$, $2y$) still
// verify. [Argon2.NeedsUpgrade] reports true for them and for argon2id hashes
// made with weaker parameters, so the caller can re-hash after a successful
// login.
//
// The package never stores or logs passwords.
package password
