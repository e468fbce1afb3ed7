package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKeyLengthGuards(t *testing.T) {
	for _, n := range []int{0, 1, 32, 63, 65, 128} {
		if _, err := PublicKeyFromBytes(make([]byte, n)); !errors.Is(err, ErrBytesLength) {
			t.Fatalf("public key length %d: expected ErrBytesLength, got %v", n, err)
		}
		if _, err := SecretKeyFromBytes(make([]byte, n)); !errors.Is(err, ErrBytesLength) {
			t.Fatalf("secret key length %d: expected ErrBytesLength, got %v", n, err)
		}
	}
	if _, err := SecretKeyFromBytes(make([]byte, SecretKeySize)); err != nil {
		t.Fatalf("64-byte secret key must be accepted, got %v", err)
	}
}

func TestPublicKeyRejectsInvalidSigningPoint(t *testing.T) {
	raw, _ := hex.DecodeString(vectorPublic)
	if _, err := PublicKeyFromBytes(raw); err != nil {
		t.Fatalf("vector public key must be accepted, got %v", err)
	}

	// y = 2 is not on the curve.
	bad := append([]byte(nil), raw...)
	for i := subKeySize; i < PublicKeySize; i++ {
		bad[i] = 0
	}
	bad[subKeySize] = 2
	_, err := PublicKeyFromBytes(bad)
	if !errors.Is(err, ErrKeyEncoding) {
		t.Fatalf("expected ErrKeyEncoding, got %v", err)
	}
	if KindOf(err) != KindKeyEncoding {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
}

func TestPublicKeyAccessorsCopy(t *testing.T) {
	raw, _ := hex.DecodeString(vectorPublic)
	pub, err := PublicKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("public key from bytes failed: %v", err)
	}
	out := pub.Bytes()
	out[0] ^= 0xff
	if !bytes.Equal(pub.Bytes(), raw) {
		t.Fatal("mutating Bytes() output must not change the key")
	}
	if !bytes.Equal(append(pub.AgreementKey(), pub.SigningKey()...), raw) {
		t.Fatal("sub-keys must concatenate to the record")
	}
	if pub.String() != vectorPublic {
		t.Fatalf("unexpected hex form %s", pub.String())
	}
	if fp := pub.Fingerprint(); !strings.HasPrefix(fp, fingerprintPrefix) || fp != pub.Fingerprint() {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
}

func TestSecretKeyNeverPrintsMaterial(t *testing.T) {
	raw, _ := hex.DecodeString(vectorSecret)
	sk, err := SecretKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("secret key from bytes failed: %v", err)
	}
	for _, out := range []string{fmt.Sprint(sk), fmt.Sprintf("%v", sk), fmt.Sprintf("%#v", sk)} {
		if strings.Contains(out, vectorSecret[:16]) {
			t.Fatalf("secret key material leaked: %s", out)
		}
	}
	if !sk.Equal(SecretKeyFromArray(sk.b)) {
		t.Fatal("array constructor must produce an equal key")
	}
}

func TestKindStrings(t *testing.T) {
	seen := map[string]Kind{}
	for k := KindBytesLength; k <= KindInternal; k++ {
		name := k.String()
		if name == "unknown" {
			t.Fatalf("kind %d has no name", k)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("kinds %d and %d share name %q", prev, k, name)
		}
		seen[name] = k
		if KindOf(kindSentinels[k]) != k {
			t.Fatalf("sentinel of %s does not classify back", name)
		}
	}
	if KindOf(errors.New("other")) != KindUnknown {
		t.Fatal("foreign errors must be KindUnknown")
	}
}
