package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	kdfName         = "argon2id"
	kdfTime         = uint32(2)
	kdfMemoryKB     = uint32(64 * 1024)
	kdfThreads      = uint8(1)
)

// FilePrefix marks sealed files so plain identity records can be told apart.
var FilePrefix = []byte("ZTIDENC1\n")

var (
	ErrAuthFailed         = errors.New("securestore authentication failed")
	ErrInvalid            = errors.New("securestore envelope is invalid")
	ErrNotSealed          = errors.New("securestore data is not sealed")
	ErrPassphraseRequired = errors.New("securestore passphrase is required")
)

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// IsSealed reports whether data starts with FilePrefix.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, FilePrefix)
}

// Seal encrypts plaintext into the prefixed file format.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	env, err := SealEnvelope(passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(FilePrefix)+len(raw)+1)
	out = append(out, FilePrefix...)
	out = append(out, raw...)
	return append(out, '\n'), nil
}

func SealEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open reverses Seal.
func Open(passphrase string, data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrNotSealed
	}
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(data[len(FilePrefix):]), &env); err != nil {
		return nil, ErrInvalid
	}
	return OpenEnvelope(passphrase, &env)
}

// OpenEnvelope refuses envelopes whose KDF cost differs from what Seal writes,
// so a tampered file cannot downgrade the work factor.
func OpenEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if env.KDFTime != kdfTime || env.KDFMemoryKB != kdfMemoryKB || env.KDFThreads != kdfThreads {
		return nil, ErrInvalid
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	key := argon2.IDKey([]byte(passphrase), env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
