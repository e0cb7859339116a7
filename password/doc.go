// Package password provides argon2id hashing in PHC string format and the
// composition policy enforced at registration time.
//
// Hashes are self-describing: Verify reads the parameters out of the stored
// string, so cost changes only affect newly hashed passwords. NeedsRehash
// lets callers upgrade stored hashes opportunistically after a successful
// verification.
package password
