package securestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ztid/go-backend/internal/testutil/fsperm"
)

func TestSealOpenRoundtrip(t *testing.T) {
	data, err := Seal("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if !IsSealed(data) {
		t.Fatal("sealed data must carry the file prefix")
	}
	plain, err := Open("pass", data)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestOpenTamperedFailsDeterministically(t *testing.T) {
	data, err := Seal("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	data[len(data)-3] ^= 0xFF
	_, err = Open("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed or ErrInvalid, got %v", err)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	data, err := Seal("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := Open("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, err := Open("", data); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestOpenEnvelopeRejectsKDFDowngrade(t *testing.T) {
	env, err := SealEnvelope("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("seal envelope failed: %v", err)
	}
	downgraded := *env
	downgraded.KDFMemoryKB = 8 * 1024
	if _, err := OpenEnvelope("pass", &downgraded); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for downgraded kdf, got %v", err)
	}
	malformed := *env
	malformed.Nonce = []byte{1, 2, 3}
	if _, err := OpenEnvelope("pass", &malformed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for malformed nonce, got %v", err)
	}
}

func TestOpenRejectsPlainData(t *testing.T) {
	if _, err := Open("pass", []byte("538c34e03c:0:00")); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("expected ErrNotSealed, got %v", err)
	}
}

func TestWriteFileAtomicAndReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "identity.secret")

	sealed, err := Seal("pass", []byte("record"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if err := WriteFileAtomic(path, sealed, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	fsperm.AssertFileMode(t, path, 0o600)
	fsperm.AssertPrivateDir(t, filepath.Dir(path))
	plain, wasSealed, err := ReadFile(path, "pass")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !wasSealed || string(plain) != "record" {
		t.Fatalf("unexpected read result sealed=%v plain=%q", wasSealed, plain)
	}

	plainPath := filepath.Join(dir, "identity.public")
	if err := WriteFileAtomic(plainPath, []byte("public"), 0o644); err != nil {
		t.Fatalf("write plain failed: %v", err)
	}
	raw, wasSealed, err := ReadFile(plainPath, "")
	if err != nil || wasSealed || string(raw) != "public" {
		t.Fatalf("unexpected plain read: %q sealed=%v err=%v", raw, wasSealed, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files must not be left behind, found %d entries", len(entries))
	}
}
