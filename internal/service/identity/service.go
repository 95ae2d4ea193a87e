// Package identity assigns and validates deployment identifiers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"log/slog"

	"github.com/outpostd/outpost/internal/store"
)

var (
	// ErrDeploymentNotFound rejects a caller-supplied id with no ledger
	// history.
	ErrDeploymentNotFound = errors.New("identity: deployment does not exist")
	// ErrSuffixExhausted signals the bounded retry cap was hit while
	// generating a fresh id. Callers must treat this as fatal.
	ErrSuffixExhausted = errors.New("identity: could not generate unused deployment id")
)

// Alphabet excludes the visually ambiguous glyphs O, 0, l and I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz123456789"

const (
	suffixLength = 3
	maxAttempts  = 10
)

// Service resolves deployment identities against the ledger.
type Service struct {
	events store.EventStore
	logger *slog.Logger
	pick   func(n int) int
}

// New returns an identity service.
func New(events store.EventStore, logger *slog.Logger) Service {
	return Service{events: events, logger: logger, pick: rand.IntN}
}

// ResolveOrCreate returns the deployment id for a request. An empty
// providedID yields a fresh {module}-{name}-{suffix} id verified unused
// against the ledger; a non-empty providedID must already have ledger
// history. The unused check is not atomic with the first ledger write,
// so two concurrent callers can in principle race to the same id; the
// alphabet size keeps that probability negligible but nonzero.
func (s Service) ResolveOrCreate(ctx context.Context, module, name, providedID string) (id string, existing bool, err error) {
	if providedID != "" {
		exists, err := s.events.DeploymentExists(ctx, providedID)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return "", false, fmt.Errorf("%w: %s", ErrDeploymentNotFound, providedID)
		}
		return providedID, true, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-%s-%s", module, name, s.suffix())
		exists, err := s.events.DeploymentExists(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if !exists {
			if attempt > 0 {
				s.logger.Info("deployment id collision retried", "attempts", attempt+1, "deployment_id", candidate)
			}
			return candidate, false, nil
		}
	}
	return "", false, ErrSuffixExhausted
}

func (s Service) suffix() string {
	buf := make([]byte, suffixLength)
	for i := range buf {
		buf[i] = Alphabet[s.pick(len(Alphabet))]
	}
	return string(buf)
}
