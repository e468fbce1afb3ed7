package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type GenerateOptions struct {
	// Workers defaults to runtime.NumCPU(). It is forced to 1 when Rand is set.
	Workers int
	// Rand defaults to crypto/rand. A caller-supplied reader makes generation
	// reproducible because attempts are drawn from it in order.
	Rand io.Reader
	// OnAttempt is called after every attempt, possibly from several goroutines.
	OnAttempt func(err error, elapsed time.Duration)
}

var errFound = errors.New("identity found")

// Generate draws fresh secret keys until one yields a valid identity or ctx is done.
func Generate(ctx context.Context, opts GenerateOptions) (Identity, error) {
	workers := opts.Workers
	source := opts.Rand
	if source == nil {
		source = rand.Reader
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
	} else {
		workers = 1
	}

	var (
		mu     sync.Mutex
		result Identity
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			id, err := grind(gctx, source, opts.OnAttempt)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if result.publicKey.IsZero() {
				result = id
			}
			return errFound
		})
	}
	err := g.Wait()
	if errors.Is(err, errFound) {
		return result, nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return Identity{}, err
}

func grind(ctx context.Context, source io.Reader, onAttempt func(error, time.Duration)) (Identity, error) {
	var raw [SecretKeySize]byte
	defer zeroBytes(raw[:])
	for {
		if err := ctx.Err(); err != nil {
			return Identity{}, err
		}
		if _, err := io.ReadFull(source, raw[:]); err != nil {
			return Identity{}, fmt.Errorf("generate identity: read randomness: %w", err)
		}
		started := time.Now()
		id, err := FromSecretKey(SecretKeyFromArray(raw))
		if onAttempt != nil {
			onAttempt(err, time.Since(started))
		}
		if err == nil {
			return id, nil
		}
		if !IsRetryable(err) {
			return Identity{}, err
		}
	}
}
