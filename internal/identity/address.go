package identity

import (
	"encoding/hex"
	"strings"
)

const AddressSize = 5

// Address is the 40-bit node id taken from the last five bytes of the memory-hard hash.
//
// A derived address is never all zero and never starts with 0xff. Addresses parsed
// from text or built with AddressFromBytes carry no such guarantee.
type Address struct {
	b [AddressSize]byte
}

// DeriveAddress computes the address of pub. It fails with ErrHashcashRejected when the
// hash misses the threshold and ErrAddressReserved when the candidate is excluded;
// callers grinding for a new identity should retry with a fresh key on either.
func DeriveAddress(pub PublicKey) (Address, error) {
	return deriveAddress(pub, mixHash)
}

func deriveAddress(pub PublicKey, hash rawHashFunc) (Address, error) {
	const op = "derive address"
	buf, err := hash(pub)
	if err != nil {
		return Address{}, rewrap(op, err)
	}
	if err := acceptHashcash(op, buf); err != nil {
		return Address{}, err
	}
	var addr Address
	copy(addr.b[:], buf[HashSize-AddressSize:])
	if addr.IsReserved() {
		return Address{}, newError(op, KindAddressReserved, nil)
	}
	return addr, nil
}

// AddressFromBytes only checks the length.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, lengthError("address from bytes", AddressSize, len(b))
	}
	var addr Address
	copy(addr.b[:], b)
	return addr, nil
}

// ParseAddress decodes the 10-character hex form.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Address{}, newError("parse address", KindMalformedIdentity, err)
	}
	addr, err := AddressFromBytes(raw)
	if err != nil {
		return Address{}, rewrap("parse address", err)
	}
	return addr, nil
}

// IsReserved reports whether the derivation path would reject this value.
func (a Address) IsReserved() bool {
	return a.b[0] == 0xff || a.b == [AddressSize]byte{}
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.b[:]...)
}

// Uint64 returns the address as a 40-bit big-endian integer.
func (a Address) Uint64() uint64 {
	var n uint64
	for _, b := range a.b {
		n = n<<8 | uint64(b)
	}
	return n
}

func (a Address) String() string {
	return hex.EncodeToString(a.b[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
