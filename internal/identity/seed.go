package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoIdentity = "ztid/identity/v1"

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrSeedTooShort     = errors.New("seed must be at least 16 bytes")
)

// NewMnemonic returns a fresh 24-word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

// GenerateFromMnemonic grinds deterministically from the BIP-39 seed of mnemonic,
// so the same words and passphrase always recover the same identity.
func GenerateFromMnemonic(ctx context.Context, mnemonic, passphrase string) (Identity, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return Identity{}, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return Identity{}, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer zeroBytes(seed)
	return GenerateFromSeed(ctx, seed)
}

// GenerateFromSeed expands seed with HKDF-SHA256 into a ChaCha20 key and grinds
// over that keystream, which never runs out regardless of how many attempts it takes.
func GenerateFromSeed(ctx context.Context, seed []byte) (Identity, error) {
	if len(seed) < 16 {
		return Identity{}, ErrSeedTooShort
	}
	stream, err := newSeedStream(seed)
	if err != nil {
		return Identity{}, err
	}
	return Generate(ctx, GenerateOptions{Rand: stream})
}

type seedStream struct {
	cipher *chacha20.Cipher
}

func newSeedStream(seed []byte) (*seedStream, error) {
	key := make([]byte, chacha20.KeySize)
	defer zeroBytes(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(hkdfInfoIdentity)), key); err != nil {
		return nil, err
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	return &seedStream{cipher: c}, nil
}

func (s *seedStream) Read(p []byte) (int, error) {
	zeroBytes(p)
	s.cipher.XORKeyStream(p, p)
	return len(p), nil
}
