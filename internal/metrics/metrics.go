// Package metrics exposes Prometheus collectors for address derivation and admission.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ztid/go-backend/internal/identity"
)

const namespace = "ztid"

type Collectors struct {
	Derivations      *prometheus.CounterVec
	DerivationTime   prometheus.Histogram
	GenerateAttempts prometheus.Counter
	Admissions       *prometheus.CounterVec
}

// New registers the collectors with reg; a nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivations_total",
			Help:      "Address derivations by outcome.",
		}, []string{"outcome"}),
		DerivationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "derivation_seconds",
			Help:      "Wall time of one memory-hard address derivation.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
		GenerateAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_attempts_total",
			Help:      "Secret keys tried while generating identities.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Identity admission decisions by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(c.Derivations, c.DerivationTime, c.GenerateAttempts, c.Admissions)
	}
	return c
}

// ObserveDerivation records one derivation; safe on a nil receiver.
func (c *Collectors) ObserveDerivation(err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Derivations.WithLabelValues(Outcome(err)).Inc()
	c.DerivationTime.Observe(elapsed.Seconds())
}

// ObserveGenerateAttempt matches identity.GenerateOptions.OnAttempt.
func (c *Collectors) ObserveGenerateAttempt(err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.GenerateAttempts.Inc()
	c.ObserveDerivation(err, elapsed)
}

func (c *Collectors) ObserveAdmission(result string) {
	if c == nil {
		return
	}
	c.Admissions.WithLabelValues(result).Inc()
}

// Outcome maps a derivation error onto a bounded label value.
func Outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	return identity.KindOf(err).String()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
