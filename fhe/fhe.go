// Package fhe defines the encrypted-value subsystem consumed by the auction
// contract. The contract only ever sees opaque ciphertext handles; comparisons
// and selections over them return fresh handles without revealing cleartext.
//
// The production subsystem (client-side encryption, threshold decryption) is an
// external collaborator. LocalEngine in this package is the deterministic
// in-process implementation used by the daemon in development mode and by the
// test suites.
package fhe

import "encoding/hex"

// Handle is an opaque 32-byte reference to an encrypted value. The zero handle
// is reserved and never refers to a stored ciphertext.
type Handle [32]byte

// IsZero reports whether the handle is the reserved zero value.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Bytes returns a copy of the raw handle bytes.
func (h Handle) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

// Hex renders the handle for logs and read-only snapshot APIs.
func (h Handle) Hex() string {
	return hex.EncodeToString(h[:])
}

// HandleFromBytes reconstructs a handle from its raw representation. Inputs of
// the wrong length yield the zero handle.
func HandleFromBytes(b []byte) Handle {
	var h Handle
	if len(b) != len(h) {
		return Handle{}
	}
	copy(h[:], b)
	return h
}

// Engine is the surface the auction contract consumes. Every operation is
// synchronous; a failure leaves the engine's stores untouched.
type Engine interface {
	// ImportExternal verifies that the proof attests the ciphertext was
	// honestly constructed for (contract, caller) and registers the value,
	// returning its handle.
	ImportExternal(ciphertext, proof []byte, contract, caller [20]byte) (Handle, error)
	// Allow grants the identity decrypt access on the handle. The grant is
	// idempotent and bound to this specific handle, not to any logical slot
	// the caller stores it in.
	Allow(h Handle, identity [20]byte) error
	// GreaterThan computes an encrypted boolean a > b. The result is a fresh
	// opaque handle; no cleartext comparison outcome is exposed.
	GreaterThan(a, b Handle) (Handle, error)
	// Select obliviously chooses a when cond holds and b otherwise. The
	// result is a fresh handle with an empty access list.
	Select(cond, a, b Handle) (Handle, error)
	// EncodeConstant registers a trivial encryption of a public constant.
	EncodeConstant(v uint64) (Handle, error)
	// ExportHandle returns the opaque 32-byte identifier for read-only
	// snapshot APIs.
	ExportHandle(h Handle) [32]byte
}

// Decrypter is the gateway-facing surface. The auction contract never calls
// it; only identities previously granted access through Allow may decrypt.
type Decrypter interface {
	Decrypt(h Handle, identity [20]byte) (uint64, error)
}
