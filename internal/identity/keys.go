package identity

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

const (
	PublicKeySize = 64
	SecretKeySize = 64

	// Both key records are agreement (X25519) || signing (Ed25519).
	subKeySize = 32

	fingerprintPrefix = "zt1"
)

// PublicKey is an X25519 public key (first 32 bytes) followed by an Ed25519 public key (last 32 bytes).
type PublicKey struct {
	b [PublicKeySize]byte
}

// SecretKey is an X25519 static secret (first 32 bytes) followed by an Ed25519 seed (last 32 bytes).
type SecretKey struct {
	b [SecretKeySize]byte
}

// PublicKeyFromBytes validates length and the signing sub-key encoding.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, lengthError("public key from bytes", PublicKeySize, len(b))
	}
	if _, err := new(edwards25519.Point).SetBytes(b[subKeySize:]); err != nil {
		return PublicKey{}, newError("public key from bytes", KindKeyEncoding, err)
	}
	var pub PublicKey
	copy(pub.b[:], b)
	return pub, nil
}

func (k PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, k.b[:])
	return out
}

// Array returns the raw 64-byte record.
func (k PublicKey) Array() [PublicKeySize]byte {
	return k.b
}

func (k PublicKey) AgreementKey() []byte {
	return append([]byte(nil), k.b[:subKeySize]...)
}

func (k PublicKey) SigningKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k.b[subKeySize:]...)
}

func (k PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(k.b[:], other.b[:]) == 1
}

func (k PublicKey) IsZero() bool {
	return k.b == [PublicKeySize]byte{}
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k.b[:])
}

// Fingerprint is a short display id for logs and CLI output, not a network address.
func (k PublicKey) Fingerprint() string {
	h := blake2b.Sum256(k.b[:])
	return fingerprintPrefix + base58.Encode(h[:])
}

// Verify checks an Ed25519 signature with the signing sub-key.
func (k PublicKey) Verify(message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.b[subKeySize:], message, sig)
}

// SecretKeyFromArray wraps raw bytes without checks; every 64-byte value is a usable secret key.
func SecretKeyFromArray(b [SecretKeySize]byte) SecretKey {
	return SecretKey{b: b}
}

func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	if len(b) != SecretKeySize {
		return SecretKey{}, lengthError("secret key from bytes", SecretKeySize, len(b))
	}
	var sk SecretKey
	copy(sk.b[:], b)
	return sk, nil
}

// PublicKey derives both public sub-keys.
func (k SecretKey) PublicKey() PublicKey {
	var pub PublicKey

	var dhSecret, dhPublic [subKeySize]byte
	copy(dhSecret[:], k.b[:subKeySize])
	curve25519.ScalarBaseMult(&dhPublic, &dhSecret)
	copy(pub.b[:subKeySize], dhPublic[:])
	zeroBytes(dhSecret[:])

	signing := ed25519.NewKeyFromSeed(k.b[subKeySize:])
	copy(pub.b[subKeySize:], signing[ed25519.SeedSize:])
	zeroBytes(signing)
	return pub
}

func (k SecretKey) Bytes() []byte {
	out := make([]byte, SecretKeySize)
	copy(out, k.b[:])
	return out
}

func (k SecretKey) AgreementKey() []byte {
	return append([]byte(nil), k.b[:subKeySize]...)
}

// SigningKey expands the Ed25519 seed into a full private key.
func (k SecretKey) SigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k.b[subKeySize:])
}

func (k SecretKey) Equal(other SecretKey) bool {
	return subtle.ConstantTimeCompare(k.b[:], other.b[:]) == 1
}

func (k SecretKey) IsZero() bool {
	return k.b == [SecretKeySize]byte{}
}

// String never prints key material.
func (k SecretKey) String() string {
	return "SecretKey([REDACTED])"
}

// GoString keeps %#v from dumping the array.
func (k SecretKey) GoString() string {
	return k.String()
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
