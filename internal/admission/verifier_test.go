package admission

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ztid/go-backend/internal/config"
	"ztid/go-backend/internal/identity"
	"ztid/go-backend/internal/metrics"
)

const (
	vectorAddress      = "538c34e03c"
	vectorPublic       = "070288330a72d2aa3cb7935dfe6028d9fb83bdb42240aaa05e33529121babd183ff775351742a47487454195c08c0e83c520e7466fcdde3396a0c4cd40557737"
	vectorSecret       = "f20542ab6955fe140fb3a5be9557666b9c89a3e2b73432de46d827d11736773aca15c3e03b89a1d09436ae45bc02f84b8d5a0a2f6c0d42b3856c2b22f5ab2b27"
	vectorPublicRecord = vectorAddress + ":0:" + vectorPublic
)

// newTestVerifier swaps the memory-hard derivation for a stub that always yields want.
func newTestVerifier(t *testing.T, cfg config.AdmissionConfig, want string) (*Verifier, *metrics.Collectors, *atomic.Int32) {
	t.Helper()
	collectors := metrics.New(prometheus.NewRegistry())
	v, err := New(cfg, Options{
		Metrics: collectors,
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}
	addr, err := identity.ParseAddress(want)
	if err != nil {
		t.Fatalf("parse stub address failed: %v", err)
	}
	calls := new(atomic.Int32)
	v.derive = func(identity.PublicKey) (identity.Address, error) {
		calls.Add(1)
		return addr, nil
	}
	return v, collectors, calls
}

func TestAdmitVerifiesAndCaches(t *testing.T) {
	cfg := config.Default().Admission
	v, collectors, calls := newTestVerifier(t, cfg, vectorAddress)

	for i := 0; i < 3; i++ {
		id, err := v.Admit("10.0.0.1:9993", vectorPublicRecord)
		if err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
		if id.Address().String() != vectorAddress {
			t.Fatalf("unexpected address %s", id.Address())
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one derivation, got %d", calls.Load())
	}
	if got := testutil.ToFloat64(collectors.Admissions.WithLabelValues(ResultAdmitted)); got != 1 {
		t.Fatalf("admitted = %v", got)
	}
	if got := testutil.ToFloat64(collectors.Admissions.WithLabelValues(ResultCached)); got != 2 {
		t.Fatalf("cached = %v", got)
	}
}

func TestAdmitRejectsAddressMismatch(t *testing.T) {
	v, collectors, _ := newTestVerifier(t, config.Default().Admission, "0102030405")

	_, err := v.Admit("peer", vectorPublicRecord)
	if !errors.Is(err, identity.ErrAddressMismatch) {
		t.Fatalf("expected ErrAddressMismatch, got %v", err)
	}
	if identity.KindOf(err) != identity.KindAddressMismatch {
		t.Fatalf("unexpected kind %s", identity.KindOf(err))
	}
	if got := testutil.ToFloat64(collectors.Admissions.WithLabelValues(ResultRejected)); got != 1 {
		t.Fatalf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(collectors.Derivations.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("derivations = %v", got)
	}
}

func TestAdmitPropagatesDerivationErrors(t *testing.T) {
	v, _, _ := newTestVerifier(t, config.Default().Admission, vectorAddress)
	v.derive = func(pub identity.PublicKey) (identity.Address, error) {
		_, err := identity.AddressFromBytes(nil)
		return identity.Address{}, err
	}
	if _, err := v.Admit("peer", vectorPublicRecord); !errors.Is(err, identity.ErrBytesLength) {
		t.Fatalf("expected derivation error, got %v", err)
	}
}

func TestAdmitStripsSecretKey(t *testing.T) {
	v, _, _ := newTestVerifier(t, config.Default().Admission, vectorAddress)
	id, err := v.Admit("peer", vectorPublicRecord+":"+vectorSecret)
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if id.HasSecretKey() {
		t.Fatal("admitted identity must not keep a secret key")
	}
}

func TestAdmitWithoutVerificationTrustsRecord(t *testing.T) {
	cfg := config.Default().Admission
	cfg.VerifyAddress = false
	v, collectors, calls := newTestVerifier(t, cfg, "0102030405")

	id, err := v.Admit("peer", "ffffffffff:0:"+vectorPublic)
	if err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if id.Address().String() != "ffffffffff" {
		t.Fatalf("unexpected address %s", id.Address())
	}
	if calls.Load() != 0 {
		t.Fatal("derivation must be skipped when verification is off")
	}
	if got := testutil.ToFloat64(collectors.Admissions.WithLabelValues(ResultUnverified)); got != 1 {
		t.Fatalf("unverified = %v", got)
	}
}

func TestAdmitRateLimitsPerSource(t *testing.T) {
	cfg := config.Default().Admission
	cfg.RatePerSecond = 1
	cfg.Burst = 2
	v, _, _ := newTestVerifier(t, cfg, vectorAddress)

	for i := 0; i < 2; i++ {
		if _, err := v.Admit("noisy", vectorPublicRecord); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	if _, err := v.Admit("noisy", vectorPublicRecord); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := v.Admit("quiet", vectorPublicRecord); err != nil {
		t.Fatalf("other sources must not be limited: %v", err)
	}
}

func TestAdmitRejectsMalformedRecord(t *testing.T) {
	v, _, calls := newTestVerifier(t, config.Default().Admission, vectorAddress)
	if _, err := v.Admit("peer", "abc:1:deadbeef"); !errors.Is(err, identity.ErrMalformedIdentity) {
		t.Fatalf("expected ErrMalformedIdentity, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("malformed records must not be hashed")
	}
}

func TestAdmitAllReportsEachLine(t *testing.T) {
	cfg := config.Default().Admission
	cfg.CacheSize = 0
	v, _, calls := newTestVerifier(t, cfg, vectorAddress)

	input := strings.Join([]string{
		"# peers",
		vectorPublicRecord,
		"",
		"not-a-record",
		vectorPublicRecord,
	}, "\n")
	decisions, err := v.AdmitAll("file", strings.NewReader(input))
	if err != nil {
		t.Fatalf("admit all failed: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}
	if decisions[0].Line != 2 || decisions[0].Err != nil {
		t.Fatalf("unexpected first decision: %+v", decisions[0])
	}
	if decisions[1].Line != 4 || !errors.Is(decisions[1].Err, identity.ErrMalformedIdentity) {
		t.Fatalf("unexpected second decision: %+v", decisions[1])
	}
	if decisions[2].Line != 5 || decisions[2].Err != nil {
		t.Fatalf("unexpected third decision: %+v", decisions[2])
	}
	if calls.Load() != 2 {
		t.Fatalf("cache disabled: expected 2 derivations, got %d", calls.Load())
	}
}

func TestAdmitVectorWithRealDerivation(t *testing.T) {
	if testing.Short() {
		t.Skip("memory-hard hash is slow")
	}
	v, err := New(config.Default().Admission, Options{})
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}
	if _, err := v.Admit("peer", vectorPublicRecord); err != nil {
		t.Fatalf("vector must be admitted: %v", err)
	}
	if _, err := v.Admit("peer", "0102030405:0:"+vectorPublic); !errors.Is(err, identity.ErrAddressMismatch) {
		t.Fatalf("expected ErrAddressMismatch, got %v", err)
	}
}
