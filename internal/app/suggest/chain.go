package suggest

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Chain tries providers in order until one returns candidates.
type Chain struct {
	providers []ProviderWithMetadata
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata) *Chain {
	return &Chain{providers: providers}
}

// Candidates returns the first non-empty result. Unauthenticated errors stop
// the chain. When every provider failed, an upstream failure takes precedence
// over a malformed reply.
func (c *Chain) Candidates(ctx context.Context, req Request) (suggestion.Candidates, error) {
	var upstreamErr, otherErr error

	for i, pm := range c.providers {
		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		candidates, err := pm.Provider.Candidates(ctx, req)
		if err != nil {
			if apperrors.IsUnauthenticated(err) || ctx.Err() != nil {
				return suggestion.Candidates{}, err
			}
			zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
			if apperrors.IsUpstream(err) {
				upstreamErr = err
			} else {
				otherErr = err
			}
			if candidates.Len() == 0 {
				continue
			}
		}

		if candidates.Len() == 0 {
			zlog.Debug().Msgf("provider returned no candidates: provider=%s", pm.DisplayName)
			continue
		}

		zlog.Info().Msgf("provider returned candidates: provider=%s songs=%d artists=%d",
			pm.DisplayName, len(candidates.Songs), len(candidates.Artists))
		return candidates, nil
	}

	switch {
	case upstreamErr != nil:
		return suggestion.Candidates{}, errors.Wrap(upstreamErr, "all providers failed")
	case otherErr != nil:
		return suggestion.Candidates{}, errors.Wrap(otherErr, "no provider returned candidates")
	}
	return suggestion.Candidates{}, nil
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "provider_chain"
}
