package identity

import (
	"errors"
	"fmt"
)

// Kind classifies identity failures so callers can branch without matching messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBytesLength
	KindHashcashRejected
	KindAddressReserved
	KindMalformedIdentity
	KindKeyEncoding
	KindMissingSecretKey
	KindAddressMismatch
	KindKeyMismatch
	KindInternal
)

var (
	ErrBytesLength       = errors.New("incorrect input length")
	ErrHashcashRejected  = errors.New("invalid hashcash")
	ErrAddressReserved   = errors.New("reserved address")
	ErrMalformedIdentity = errors.New("malformed identity")
	ErrKeyEncoding       = errors.New("invalid key encoding")
	ErrMissingSecretKey  = errors.New("identity has no secret key")
	ErrAddressMismatch   = errors.New("address does not match public key")
	ErrKeyMismatch       = errors.New("public key does not match secret key")
	ErrIndexConversion   = errors.New("index out of native range")
)

var kindSentinels = map[Kind]error{
	KindBytesLength:       ErrBytesLength,
	KindHashcashRejected:  ErrHashcashRejected,
	KindAddressReserved:   ErrAddressReserved,
	KindMalformedIdentity: ErrMalformedIdentity,
	KindKeyEncoding:       ErrKeyEncoding,
	KindMissingSecretKey:  ErrMissingSecretKey,
	KindAddressMismatch:   ErrAddressMismatch,
	KindKeyMismatch:       ErrKeyMismatch,
	KindInternal:          ErrIndexConversion,
}

func (k Kind) String() string {
	switch k {
	case KindBytesLength:
		return "bytes_length"
	case KindHashcashRejected:
		return "hashcash_rejected"
	case KindAddressReserved:
		return "address_reserved"
	case KindMalformedIdentity:
		return "malformed_identity"
	case KindKeyEncoding:
		return "key_encoding"
	case KindMissingSecretKey:
		return "missing_secret_key"
	case KindAddressMismatch:
		return "address_mismatch"
	case KindKeyMismatch:
		return "key_mismatch"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by every exported operation of this package.
// Err always wraps the sentinel of Kind, optionally with detail.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return "identity: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown if err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}

// IsRetryable reports whether a fresh secret key may succeed where this one failed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindHashcashRejected, KindAddressReserved:
		return true
	default:
		return false
	}
}

func newError(op string, kind Kind, detail error) *Error {
	sentinel := kindSentinels[kind]
	err := sentinel
	if detail != nil {
		err = fmt.Errorf("%w: %w", sentinel, detail)
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func lengthError(op string, want, got int) *Error {
	return &Error{
		Op:   op,
		Kind: KindBytesLength,
		Err:  fmt.Errorf("%w: want %d bytes, got %d", ErrBytesLength, want, got),
	}
}

// rewrap keeps the Kind of an inner *Error while reporting the outer op.
func rewrap(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Kind: e.Kind, Err: e.Err}
	}
	return newError(op, KindInternal, err)
}
