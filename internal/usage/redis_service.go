package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gokkuu100/wakiliweb-sub003/internal/config"
	"github.com/gokkuu100/wakiliweb-sub003/internal/redis"
)

// counterWindow keeps daily counters around a little past midnight so a slow
// clock on either side cannot reset a window early.
const counterWindow = 48 * time.Hour

// RedisLimitService tracks per-user daily token and query consumption in
// redis. The billing system stores each user's plan under plan:{user_id};
// users without one fall back to the default plan.
type RedisLimitService struct {
	cache       *redis.Client
	plans       map[string]config.PlanLimits
	defaultPlan string
}

func NewRedisLimitService(cache *redis.Client, cfg config.UsageConfig) (*RedisLimitService, error) {
	if cache == nil {
		return nil, errors.New("redis client required")
	}
	if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q not configured", cfg.DefaultPlan)
	}
	return &RedisLimitService{
		cache:       cache,
		plans:       cfg.Plans,
		defaultPlan: cfg.DefaultPlan,
	}, nil
}

// CheckLimit reports whether the user may spend estimatedTokens today.
func (s *RedisLimitService) CheckLimit(ctx context.Context, userID string, estimatedTokens int) (Decision, error) {
	limits, err := s.limitsFor(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	queries, err := s.cache.GetInt64(ctx, s.queriesKey(userID))
	if err != nil {
		return Decision{}, fmt.Errorf("read query counter: %w", err)
	}
	if queries >= limits.DailyQueries {
		return Decision{Allowed: false, Reason: "daily query limit reached"}, nil
	}

	tokens, err := s.cache.GetInt64(ctx, s.tokensKey(userID))
	if err != nil {
		return Decision{}, fmt.Errorf("read token counter: %w", err)
	}
	if tokens+int64(estimatedTokens) > limits.DailyTokens {
		return Decision{Allowed: false, Reason: "daily token limit reached"}, nil
	}

	return Decision{Allowed: true}, nil
}

// RecordUsage charges a completed turn against the user's daily counters.
func (s *RedisLimitService) RecordUsage(ctx context.Context, userID string, tokens int) error {
	if err := s.cache.IncrByWindow(ctx, s.tokensKey(userID), int64(tokens), counterWindow); err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	if err := s.cache.IncrByWindow(ctx, s.queriesKey(userID), 1, counterWindow); err != nil {
		return fmt.Errorf("record query usage: %w", err)
	}
	return nil
}

func (s *RedisLimitService) limitsFor(ctx context.Context, userID string) (config.PlanLimits, error) {
	plan, err := s.cache.Get(ctx, "plan:"+userID)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			return config.PlanLimits{}, fmt.Errorf("read plan: %w", err)
		}
		plan = s.defaultPlan
	}
	limits, ok := s.plans[plan]
	if !ok {
		limits = s.plans[s.defaultPlan]
	}
	return limits, nil
}

func (s *RedisLimitService) tokensKey(userID string) string {
	return fmt.Sprintf("usage:%s:%s:tokens", userID, time.Now().UTC().Format("2006-01-02"))
}

func (s *RedisLimitService) queriesKey(userID string) string {
	return fmt.Sprintf("usage:%s:%s:queries", userID, time.Now().UTC().Format("2006-01-02"))
}
