package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ztid/go-backend/internal/identity"
)

func TestObserveDerivationOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	_, rejected := identity.AddressFromBytes(nil)
	c.ObserveDerivation(nil, 10*time.Millisecond)
	c.ObserveGenerateAttempt(identity.ErrHashcashRejected, 12*time.Millisecond)
	c.ObserveGenerateAttempt(identity.ErrAddressReserved, 12*time.Millisecond)
	c.ObserveDerivation(rejected, time.Millisecond)

	if got := testutil.ToFloat64(c.Derivations.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("expected 1 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(c.Derivations.WithLabelValues("hashcash_rejected")); got != 1 {
		t.Fatalf("expected 1 hashcash_rejected, got %v", got)
	}
	if got := testutil.ToFloat64(c.Derivations.WithLabelValues("address_reserved")); got != 1 {
		t.Fatalf("expected 1 address_reserved, got %v", got)
	}
	if got := testutil.ToFloat64(c.Derivations.WithLabelValues("bytes_length")); got != 1 {
		t.Fatalf("expected 1 bytes_length, got %v", got)
	}
	if got := testutil.ToFloat64(c.GenerateAttempts); got != 2 {
		t.Fatalf("expected 2 generate attempts, got %v", got)
	}
	if n := testutil.CollectAndCount(c.DerivationTime); n != 1 {
		t.Fatalf("expected one histogram, got %d", n)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.ObserveDerivation(errors.New("x"), time.Second)
	c.ObserveGenerateAttempt(nil, time.Second)
	c.ObserveAdmission("admitted")
	if Outcome(errors.New("foreign")) != "unknown" {
		t.Fatal("foreign errors must map to unknown")
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
