package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrProofInvalid  = errors.New("fhe: input proof verification failed")
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")
	ErrAccessDenied  = errors.New("fhe: identity not authorized for handle")
	ErrNotBoolean    = errors.New("fhe: condition handle is not an encrypted boolean")
)

const sealNonceLen = 24

// LocalEngine is the in-process encrypted-value engine. Values live in a
// cleartext store keyed by handle with a per-handle access list, so decrypt
// authorization follows the value: replacing a slot's handle strands the old
// grants and the new handle starts with an empty access list.
//
// LocalEngine is safe for concurrent use.
type LocalEngine struct {
	mu     sync.Mutex
	seq    uint64
	values map[Handle]uint64
	bools  map[Handle]bool
	acl    map[Handle]map[[20]byte]struct{}
}

// NewLocalEngine constructs an empty engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{
		values: make(map[Handle]uint64),
		bools:  make(map[Handle]bool),
		acl:    make(map[Handle]map[[20]byte]struct{}),
	}
}

// Seal produces a ciphertext+proof pair for the value, bound to the
// (contract, caller) pair, matching what the client-side encryption library
// would hand a bidder. The layout is a random nonce followed by the value
// masked with a keccak-derived pad; the proof commits to the ciphertext and
// both identities.
func (e *LocalEngine) Seal(value uint64, contract, caller [20]byte) (ciphertext, proof []byte, err error) {
	nonce := make([]byte, sealNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("fhe: nonce generation: %w", err)
	}
	masked := maskValue(value, nonce, contract, caller)
	ciphertext = append(nonce, masked...)
	proof = sealProof(ciphertext, contract, caller)
	return ciphertext, proof, nil
}

// ImportExternal implements the Engine interface.
func (e *LocalEngine) ImportExternal(ciphertext, proof []byte, contract, caller [20]byte) (Handle, error) {
	if len(ciphertext) != sealNonceLen+8 {
		return Handle{}, ErrProofInvalid
	}
	expected := sealProof(ciphertext, contract, caller)
	if len(proof) != len(expected) {
		return Handle{}, ErrProofInvalid
	}
	for i := range expected {
		if proof[i] != expected[i] {
			return Handle{}, ErrProofInvalid
		}
	}
	nonce := ciphertext[:sealNonceLen]
	masked := ciphertext[sealNonceLen:]
	value := unmaskValue(masked, nonce, contract, caller)

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.newHandleLocked(value)
	e.values[h] = value
	e.acl[h] = make(map[[20]byte]struct{})
	return h, nil
}

// Allow implements the Engine interface.
func (e *LocalEngine) Allow(h Handle, identity [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	grants, ok := e.acl[h]
	if !ok {
		return ErrUnknownHandle
	}
	grants[identity] = struct{}{}
	return nil
}

// GreaterThan implements the Engine interface.
func (e *LocalEngine) GreaterThan(a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, ok := e.values[a]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	bv, ok := e.values[b]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	var encoded uint64
	if av > bv {
		encoded = 1
	}
	h := e.newHandleLocked(encoded)
	e.values[h] = encoded
	e.bools[h] = true
	e.acl[h] = make(map[[20]byte]struct{})
	return h, nil
}

// Select implements the Engine interface.
func (e *LocalEngine) Select(cond, a, b Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cv, ok := e.values[cond]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	if !e.bools[cond] {
		return Handle{}, ErrNotBoolean
	}
	av, ok := e.values[a]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	bv, ok := e.values[b]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	chosen := bv
	if cv != 0 {
		chosen = av
	}
	h := e.newHandleLocked(chosen)
	e.values[h] = chosen
	e.acl[h] = make(map[[20]byte]struct{})
	return h, nil
}

// EncodeConstant implements the Engine interface.
func (e *LocalEngine) EncodeConstant(v uint64) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.newHandleLocked(v)
	e.values[h] = v
	e.acl[h] = make(map[[20]byte]struct{})
	return h, nil
}

// ExportHandle implements the Engine interface.
func (e *LocalEngine) ExportHandle(h Handle) [32]byte {
	return [32]byte(h)
}

// Decrypt implements the Decrypter interface. Only identities granted access
// through Allow may read the cleartext.
func (e *LocalEngine) Decrypt(h Handle, identity [20]byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok := e.values[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	grants := e.acl[h]
	if _, granted := grants[identity]; !granted {
		return 0, ErrAccessDenied
	}
	return value, nil
}

// newHandleLocked derives a fresh handle. The sequence number keeps handles
// unique even for equal values; hashing keeps them unlinkable to the value.
func (e *LocalEngine) newHandleLocked(value uint64) Handle {
	e.seq++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], e.seq)
	binary.BigEndian.PutUint64(buf[8:], value)
	digest := ethcrypto.Keccak256([]byte("sealedbid/fhe/handle"), buf[:])
	var h Handle
	copy(h[:], digest)
	return h
}

func maskValue(value uint64, nonce []byte, contract, caller [20]byte) []byte {
	pad := ethcrypto.Keccak256([]byte("sealedbid/fhe/pad"), nonce, contract[:], caller[:])
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], value)
	out := make([]byte, 8)
	for i := range raw {
		out[i] = raw[i] ^ pad[i]
	}
	return out
}

func unmaskValue(masked, nonce []byte, contract, caller [20]byte) uint64 {
	pad := ethcrypto.Keccak256([]byte("sealedbid/fhe/pad"), nonce, contract[:], caller[:])
	var raw [8]byte
	for i := range raw {
		raw[i] = masked[i] ^ pad[i]
	}
	return binary.BigEndian.Uint64(raw[:])
}

func sealProof(ciphertext []byte, contract, caller [20]byte) []byte {
	return ethcrypto.Keccak256([]byte("sealedbid/fhe/proof"), ciphertext, contract[:], caller[:])
}
