package profile

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
)

// Chain asks the cache first, then every source in order, and caches the first hit.
type Chain struct {
	cache   *Cache
	sources []contract.ProfileDirectory
	log     *slog.Logger
}

var _ contract.ProfileDirectory = (*Chain)(nil)

func NewChain(cache *Cache, log *slog.Logger, sources ...contract.ProfileDirectory) *Chain {
	return &Chain{cache: cache, sources: sources, log: log}
}

func (c *Chain) Lookup(ctx context.Context, userID string) (domain.ParticipantRef, error) {
	if c.cache != nil {
		if ref, err := c.cache.Lookup(ctx, userID); err == nil {
			return ref, nil
		}
	}
	var failures []error
	for _, source := range c.sources {
		ref, err := source.Lookup(ctx, userID)
		if errors.Is(err, errors.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if c.cache != nil {
			if err = c.cache.Remember(ref); err != nil {
				c.log.Debug("Profile not cached", "user_id", userID, "error", err)
			}
		}
		return ref, nil
	}
	if len(failures) > 0 {
		return domain.ParticipantRef{}, errors.Join(failures...)
	}
	return domain.ParticipantRef{}, errors.ErrProfileNotFound
}

// Remember feeds the cache from a trusted source, such as the name claim of a token.
func (c *Chain) Remember(ref domain.ParticipantRef) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Remember(ref); err != nil {
		c.log.Debug("Profile not cached", "user_id", ref.ID, "error", err)
	}
}
