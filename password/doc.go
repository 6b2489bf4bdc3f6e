// Package password provides argon2id credential hashing in PHC string format
// and the configurable strength policy applied at registration and change time.
//
// Hashes are self-describing: verification reads the cost parameters out of the
// stored string, so parameter upgrades never invalidate existing credentials.
package password
