// Package keys holds device signing keys for peer identities.
//
// Public keys travel as "<alg>:<base64>" strings (e.g. "ed25519:AAAA...").
// Private keys are generated from a 32-byte seed and stored locally by
// fingerprint, either on disk (FileStore) or in memory (MemStore).
//
// Supported algorithms: ed25519 and dilithium3. Messages are hashed before
// signing; the hash algorithm is chosen per signature (sha256, sha512, sha3-256).
package keys
