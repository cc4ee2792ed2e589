package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/time/rate"

	vc "github.com/linnemanlabs/leadwatch/internal/cfg"
	"github.com/linnemanlabs/leadwatch/internal/llm/claude"
	"github.com/linnemanlabs/leadwatch/internal/llm/openai"
	"github.com/linnemanlabs/leadwatch/internal/notify/slack"
	"github.com/linnemanlabs/leadwatch/internal/notify/telegram"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
	"github.com/linnemanlabs/leadwatch/internal/pipeline/memstore"
	"github.com/linnemanlabs/leadwatch/internal/pipeline/pgstore"
	"github.com/linnemanlabs/leadwatch/internal/pipeline/redisstore"
	"github.com/linnemanlabs/leadwatch/internal/postgres"
	"github.com/linnemanlabs/leadwatch/internal/resolve"
	"github.com/linnemanlabs/leadwatch/internal/source"
)

// loadRegistry returns the built-in sources unless a registry file is given.
func loadRegistry(path string) (*source.Registry, error) {
	if path == "" {
		return source.DefaultRegistry(), nil
	}
	reg, err := source.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	return reg, nil
}

// newCompleter returns nil when the selected provider has no API key, which
// puts the resolver in fallback mode.
func newCompleter(c *vc.Config) resolve.Completer {
	key := c.CompletionKey()
	if key == "" {
		return nil
	}
	if c.CompletionProvider == vc.ProviderClaude {
		return claude.New(key, c.ClaudeModel)
	}
	return openai.New(key, c.OpenAIModel)
}

// newLimiter returns nil (unlimited) for a non-positive rate.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// openStore connects the configured backend. A nil store with a nil error
// means persistence is disabled. The returned close func is never nil.
func openStore(ctx context.Context, c *vc.Config, L log.Logger) (pipeline.Store, func(), error) {
	noop := func() {}

	switch kind := c.StoreKind(); kind {
	case vc.StorePostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return st, pool.Close, nil

	case vc.StoreRedis:
		client, err := redisstore.NewClient(ctx, c.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("redis client: %w", err)
		}
		L.Info(ctx, "using redis store", "prefix", c.RedisPrefix)
		return redisstore.New(client, c.RedisPrefix), func() { _ = client.Close() }, nil

	case vc.StoreMemory:
		L.Info(ctx, "using in-memory store, events are lost on exit")
		return memstore.New(), noop, nil

	default:
		L.Info(ctx, "no store configured, persistence disabled")
		return nil, noop, nil
	}
}

// notifiers fans a report out to every configured notifier.
type notifiers []pipeline.Notifier

func (ns notifiers) Notify(ctx context.Context, r *pipeline.Report) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newNotifier returns nil when no notifier is configured.
func newNotifier(ctx context.Context, c *vc.Config, L log.Logger) (pipeline.Notifier, error) {
	var ns notifiers
	if c.SlackWebhookURL != "" {
		ns = append(ns, slack.New(c.SlackWebhookURL, L))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	if c.TelegramToken != "" {
		tg, err := telegram.New(c.TelegramToken, c.TelegramChatID, L)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		ns = append(ns, tg)
		L.Info(ctx, "notifier enabled", "type", "telegram")
	}
	if len(ns) == 0 {
		return nil, nil
	}
	return ns, nil
}
