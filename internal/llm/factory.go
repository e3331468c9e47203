package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/cache"
	"github.com/fyrsmithlabs/excelmind/internal/config"
)

// New builds the configured provider client, rate limited and, when store is
// non-nil, cached.
func New(cfg config.LLMConfig, store cache.Store, ttl time.Duration, logger *zap.Logger, observe CacheObserver) (Client, error) {
	var base Client
	switch cfg.Provider {
	case "", "anthropic":
		a, err := NewAnthropic(cfg, logger)
		if err != nil {
			return nil, err
		}
		base = a
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	client := Client(NewRateLimited(base, cfg.RateLimit, cfg.Burst))
	if store != nil {
		client = NewCached(client, store, ttl, logger, observe)
	}
	return client, nil
}
