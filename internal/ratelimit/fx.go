package ratelimit

import (
	"context"
	"time"

	"github.com/agentforge/creditledger/internal/clock"
	"github.com/agentforge/creditledger/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type StoreParams struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
	LC    fx.Lifecycle
}

// ProvideStore selects the admission store from configuration. The memory
// store gets a background sweep so idle keys do not accumulate; redis keys
// expire on their own.
func ProvideStore(p StoreParams) Store {
	log := p.Log.Named("ratelimit")

	if p.Cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.RateLimit.RedisAddr,
			Password: p.Cfg.RateLimit.RedisPassword,
			DB:       p.Cfg.RateLimit.RedisDB,
		})
		p.LC.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		log.Info("using redis admission store", zap.String("addr", p.Cfg.RateLimit.RedisAddr))
		return NewRedisStore(client)
	}

	store := NewMemoryStore()
	interval := p.Cfg.RateLimit.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						store.Sweep(longestWindow(), p.Clock.Now())
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(done)
			return nil
		},
	})
	log.Info("using in-memory admission store", zap.Duration("sweep_interval", interval))
	return store
}

func longestWindow() time.Duration {
	longest := time.Duration(0)
	for _, limit := range presets {
		if limit.Window > longest {
			longest = limit.Window
		}
	}
	return longest
}

var Module = fx.Module("ratelimit",
	fx.Provide(ProvideStore),
	fx.Provide(NewLimiter),
)
