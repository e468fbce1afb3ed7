// Package admission decides whether identity records received from peers are acceptable.
//
// Parsing alone trusts the address written in a record. Records from other nodes are
// not trusted: the verifier re-derives the address from the public key, which costs
// one memory-hard hash, so sources are rate limited and verified pairs are cached.
package admission

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ztid/go-backend/internal/config"
	"ztid/go-backend/internal/identity"
	"ztid/go-backend/internal/metrics"
	"ztid/go-backend/internal/platform/logging"
	"ztid/go-backend/internal/platform/ratelimiter"
)

const (
	ResultAdmitted    = "admitted"
	ResultCached      = "cached"
	ResultUnverified  = "unverified"
	ResultRateLimited = "rate_limited"
	ResultRejected    = "rejected"

	maxRecordLine = 4096
)

var ErrRateLimited = errors.New("admission rate limit exceeded")

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collectors
	Now     func() time.Time
}

type Verifier struct {
	verifyAddress bool
	limiter       *ratelimiter.MapLimiter
	verified      *lru.Cache[cacheKey, struct{}]
	logger        *slog.Logger
	metrics       *metrics.Collectors
	now           func() time.Time
	derive        func(identity.PublicKey) (identity.Address, error)
}

type cacheKey struct {
	address identity.Address
	public  [identity.PublicKeySize]byte
}

func New(cfg config.AdmissionConfig, opts Options) (*Verifier, error) {
	v := &Verifier{
		verifyAddress: cfg.VerifyAddress,
		limiter:       ratelimiter.New(cfg.RatePerSecond, cfg.Burst, cfg.IdleTTL),
		logger:        logging.OrDefault(opts.Logger),
		metrics:       opts.Metrics,
		now:           opts.Now,
		derive:        identity.DeriveAddress,
	}
	if v.now == nil {
		v.now = time.Now
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[cacheKey, struct{}](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("admission cache: %w", err)
		}
		v.verified = cache
	}
	return v, nil
}

// Admit parses record and, when address verification is enabled, checks that its address
// really derives from its public key. Any secret key in the record is discarded.
func (v *Verifier) Admit(source, record string) (identity.Identity, error) {
	if !v.limiter.Allow(source, v.now()) {
		v.observe(source, ResultRateLimited, identity.Address{}, ErrRateLimited)
		return identity.Identity{}, ErrRateLimited
	}

	id, err := identity.ParseIdentity(record)
	if err != nil {
		v.observe(source, ResultRejected, identity.Address{}, err)
		return identity.Identity{}, err
	}
	if id.HasSecretKey() {
		v.logger.Warn("admission record carried a secret key; discarding it", "source", source, "address", id.Address())
		id = id.PublicOnly()
	}
	if !v.verifyAddress {
		v.observe(source, ResultUnverified, id.Address(), nil)
		return id, nil
	}

	key := cacheKey{address: id.Address(), public: id.PublicKey().Array()}
	if v.verified != nil && v.verified.Contains(key) {
		v.observe(source, ResultCached, id.Address(), nil)
		return id, nil
	}

	started := v.now()
	derived, err := v.derive(id.PublicKey())
	v.metrics.ObserveDerivation(err, v.now().Sub(started))
	if err == nil && derived != id.Address() {
		err = &identity.Error{
			Op:   "admit",
			Kind: identity.KindAddressMismatch,
			Err:  fmt.Errorf("%w: record %s, derived %s", identity.ErrAddressMismatch, id.Address(), derived),
		}
	}
	if err != nil {
		v.observe(source, ResultRejected, id.Address(), err)
		return identity.Identity{}, err
	}

	if v.verified != nil {
		v.verified.Add(key, struct{}{})
	}
	v.observe(source, ResultAdmitted, id.Address(), nil)
	return id, nil
}

// Decision is the outcome of one line passed to AdmitAll.
type Decision struct {
	Line     int
	Identity identity.Identity
	Err      error
}

// AdmitAll admits one record per non-empty line of r.
func (v *Verifier) AdmitAll(source string, r io.Reader) ([]Decision, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512), maxRecordLine)
	var out []Decision
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, err := v.Admit(source, text)
		out = append(out, Decision{Line: line, Identity: id, Err: err})
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (v *Verifier) observe(source, result string, addr identity.Address, err error) {
	v.metrics.ObserveAdmission(result)
	if err != nil {
		v.logger.Info("identity rejected",
			"source", source,
			"result", result,
			"kind", identity.KindOf(err).String(),
			"error", err.Error(),
		)
		return
	}
	v.logger.Debug("identity admitted", "source", source, "result", result, "address", addr)
}
