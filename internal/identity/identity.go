package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	recordSeparator = ":"
	recordVersion   = "0"
)

// Identity combines an address, its public key and optionally the secret key.
type Identity struct {
	address   Address
	publicKey PublicKey
	secretKey *SecretKey
}

// FromSecretKey derives the public key and address. Not every secret key yields an
// identity: expect ErrHashcashRejected or ErrAddressReserved for most of them.
func FromSecretKey(sk SecretKey) (Identity, error) {
	pub := sk.PublicKey()
	addr, err := DeriveAddress(pub)
	if err != nil {
		return Identity{}, rewrap("identity from secret key", err)
	}
	secret := sk
	return Identity{address: addr, publicKey: pub, secretKey: &secret}, nil
}

// New assembles an identity from parts without re-deriving anything.
func New(addr Address, pub PublicKey, sk *SecretKey) Identity {
	id := Identity{address: addr, publicKey: pub}
	if sk != nil {
		secret := *sk
		id.secretKey = &secret
	}
	return id
}

// ParseIdentity reads "address:0:public[:secret]". The address is taken as given;
// use Validate for records that come from untrusted sources.
func ParseIdentity(text string) (Identity, error) {
	const op = "parse identity"
	fields := strings.Split(strings.TrimSpace(text), recordSeparator)
	if len(fields) != 3 && len(fields) != 4 {
		return Identity{}, newError(op, KindMalformedIdentity, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields)))
	}
	if fields[1] != recordVersion {
		return Identity{}, newError(op, KindMalformedIdentity, fmt.Errorf("unsupported version %q", fields[1]))
	}

	rawAddr, err := decodeField("address", fields[0])
	if err != nil {
		return Identity{}, newError(op, KindMalformedIdentity, err)
	}
	addr, err := AddressFromBytes(rawAddr)
	if err != nil {
		return Identity{}, rewrap(op, err)
	}

	rawPub, err := decodeField("public key", fields[2])
	if err != nil {
		return Identity{}, newError(op, KindMalformedIdentity, err)
	}
	pub, err := PublicKeyFromBytes(rawPub)
	if err != nil {
		return Identity{}, rewrap(op, err)
	}

	id := Identity{address: addr, publicKey: pub}
	if len(fields) == 4 {
		rawSecret, err := decodeField("secret key", fields[3])
		if err != nil {
			return Identity{}, newError(op, KindMalformedIdentity, err)
		}
		sk, err := SecretKeyFromBytes(rawSecret)
		zeroBytes(rawSecret)
		if err != nil {
			return Identity{}, rewrap(op, err)
		}
		id.secretKey = &sk
	}
	return id, nil
}

func decodeField(name, value string) ([]byte, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return raw, nil
}

func (id Identity) Address() Address {
	return id.address
}

func (id Identity) PublicKey() PublicKey {
	return id.publicKey
}

// SecretKey returns the secret key and whether one is present.
func (id Identity) SecretKey() (SecretKey, bool) {
	if id.secretKey == nil {
		return SecretKey{}, false
	}
	return *id.secretKey, true
}

func (id Identity) HasSecretKey() bool {
	return id.secretKey != nil
}

// PublicOnly drops the secret key.
func (id Identity) PublicOnly() Identity {
	return Identity{address: id.address, publicKey: id.publicKey}
}

// SigningKeypair builds the Ed25519 private key from the signing sub-keys.
func (id Identity) SigningKeypair() (ed25519.PrivateKey, error) {
	const op = "signing keypair"
	if id.secretKey == nil {
		return nil, newError(op, KindMissingSecretKey, nil)
	}
	priv := id.secretKey.SigningKey()
	if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(id.publicKey.b[subKeySize:])) {
		zeroBytes(priv)
		return nil, newError(op, KindKeyMismatch, nil)
	}
	return priv, nil
}

func (id Identity) Sign(message []byte) ([]byte, error) {
	priv, err := id.SigningKeypair()
	if err != nil {
		return nil, rewrap("sign", err)
	}
	defer zeroBytes(priv)
	return ed25519.Sign(priv, message), nil
}

func (id Identity) Verify(message, sig []byte) bool {
	return id.publicKey.Verify(message, sig)
}

// Validate re-derives the address from the public key and, when a secret key is
// present, checks that it produces the same public key.
func (id Identity) Validate() error {
	const op = "validate identity"
	if id.secretKey != nil && !id.secretKey.PublicKey().Equal(id.publicKey) {
		return newError(op, KindKeyMismatch, nil)
	}
	derived, err := DeriveAddress(id.publicKey)
	if err != nil {
		return rewrap(op, err)
	}
	if derived != id.address {
		return newError(op, KindAddressMismatch, fmt.Errorf("record %s, derived %s", id.address, derived))
	}
	return nil
}

// Text renders the record; the secret key is appended only when asked for and present.
func (id Identity) Text(includeSecret bool) string {
	var sb strings.Builder
	sb.Grow(AddressSize*2 + 3 + PublicKeySize*2 + 1 + SecretKeySize*2)
	sb.WriteString(id.address.String())
	sb.WriteString(recordSeparator)
	sb.WriteString(recordVersion)
	sb.WriteString(recordSeparator)
	sb.WriteString(hex.EncodeToString(id.publicKey.b[:]))
	if includeSecret && id.secretKey != nil {
		sb.WriteString(recordSeparator)
		sb.WriteString(hex.EncodeToString(id.secretKey.b[:]))
	}
	return sb.String()
}

// String is the public form of the record.
func (id Identity) String() string {
	return id.Text(false)
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.Text(false)), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
