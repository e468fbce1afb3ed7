package identity

import (
	"crypto/sha512"
	"encoding/binary"
	"math"

	"golang.org/x/crypto/salsa20/salsa"
)

const (
	HashSize = 64

	scratchSize = 1 << 21
	wordSize    = 8
	blockSize   = 64

	// A hash is accepted iff its first byte is below this limit (about 1 in 15).
	hashcashLimit = 17
)

// rawHashFunc produces the unfiltered 64-byte hash; tests replace it with fixtures.
type rawHashFunc func(PublicKey) ([HashSize]byte, error)

// MemoryHardHash runs the memory-hard hash over the 64-byte public key record and
// returns the output only when it satisfies the hashcash threshold.
func MemoryHardHash(pub PublicKey) ([HashSize]byte, error) {
	buf, err := mixHash(pub)
	if err != nil {
		return [HashSize]byte{}, rewrap("memory-hard hash", err)
	}
	if err := acceptHashcash("memory-hard hash", buf); err != nil {
		return [HashSize]byte{}, err
	}
	return buf, nil
}

func acceptHashcash(op string, buf [HashSize]byte) error {
	if buf[0] >= hashcashLimit {
		return newError(op, KindHashcashRejected, nil)
	}
	return nil
}

// mixHash fills a 2 MiB scratch region with a strictly sequential Salsa20 chain,
// then walks it swapping words between scratch and the working buffer at
// data-dependent offsets, re-encrypting the buffer after every swap.
func mixHash(pub PublicKey) ([HashSize]byte, error) {
	buf := sha512.Sum512(pub.b[:])
	ks := newKeystream(buf[0:32], buf[32:40])

	scratch := make([]byte, scratchSize)
	ks.xor(scratch[:blockSize])
	for off := blockSize; off < scratchSize; off += blockSize {
		copy(scratch[off:off+blockSize], scratch[off-blockSize:off])
		ks.xor(scratch[off : off+blockSize])
	}

	var tmp [wordSize]byte
	for off := 0; off < scratchSize; off += 2 * wordSize {
		n1 := binary.BigEndian.Uint64(scratch[off : off+wordSize])
		n2 := binary.BigEndian.Uint64(scratch[off+wordSize : off+2*wordSize])

		i1, err := wordOffset(n1, HashSize/wordSize)
		if err != nil {
			return [HashSize]byte{}, err
		}
		i2, err := wordOffset(n2, scratchSize/wordSize)
		if err != nil {
			return [HashSize]byte{}, err
		}
		if i1+wordSize > len(buf) || i2+wordSize > len(scratch) {
			return [HashSize]byte{}, newError("mix", KindInternal, nil)
		}

		copy(tmp[:], buf[i1:i1+wordSize])
		copy(buf[i1:i1+wordSize], scratch[i2:i2+wordSize])
		copy(scratch[i2:i2+wordSize], tmp[:])

		ks.xor(buf[:])
	}
	return buf, nil
}

// wordOffset maps n onto one of words 8-byte slots and returns its byte offset.
// The range check cannot fail on 64-bit targets.
func wordOffset(n uint64, words uint64) (int, error) {
	slot := n % words
	if slot > uint64(math.MaxInt/wordSize) {
		return 0, newError("mix", KindInternal, nil)
	}
	return int(slot) * wordSize, nil
}

// keystream is a single Salsa20/20 stream consumed in whole 64-byte blocks.
type keystream struct {
	key [32]byte
	// nonce (8 bytes) || little-endian block counter (8 bytes)
	counter [16]byte
}

func newKeystream(key, nonce []byte) *keystream {
	ks := &keystream{}
	copy(ks.key[:], key)
	copy(ks.counter[:8], nonce)
	return ks
}

func (ks *keystream) xor(b []byte) {
	if len(b)%blockSize != 0 {
		panic("identity: keystream used with partial block")
	}
	salsa.XORKeyStream(b, b, &ks.counter, &ks.key)
	n := binary.LittleEndian.Uint64(ks.counter[8:])
	binary.LittleEndian.PutUint64(ks.counter[8:], n+uint64(len(b)/blockSize))
}
