package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/go-redis/redis/v8"

	"trading-portfolio/internal/portfolio"
)

const riskLimitsRedisKey = "gateway:risk_limits"

// ConfigStore manages the active risk limits: it applies changes to the
// risk manager, persists them in Redis when available and broadcasts them
// on ConfigChannel.
type ConfigStore struct {
	hub  *Hub
	risk *portfolio.RiskManager
	rdb  *goredis.Client // nil keeps limits in memory only
}

// NewConfigStore creates a ConfigStore. rdb may be nil.
func NewConfigStore(hub *Hub, risk *portfolio.RiskManager, rdb *goredis.Client) *ConfigStore {
	return &ConfigStore{hub: hub, risk: risk, rdb: rdb}
}

// Load restores persisted limits from Redis. Called once during startup.
// Returns true if limits were restored.
func (cs *ConfigStore) Load(ctx context.Context) bool {
	if cs.rdb == nil {
		return false
	}
	data, err := cs.rdb.Get(ctx, riskLimitsRedisKey).Result()
	if err != nil {
		return false
	}
	var limits portfolio.RiskLimits
	if json.Unmarshal([]byte(data), &limits) != nil {
		return false
	}
	cs.risk.SetLimits(limits)
	cs.hub.logger.Info("restored risk limits from redis")
	return true
}

// Get returns the active limits.
func (cs *ConfigStore) Get() portfolio.RiskLimits {
	return cs.risk.Limits()
}

// Set validates, applies, persists and broadcasts limits.
func (cs *ConfigStore) Set(ctx context.Context, limits portfolio.RiskLimits) error {
	if err := validateLimits(limits); err != nil {
		return err
	}
	cs.risk.SetLimits(limits)

	data, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("encode risk limits: %w", err)
	}
	if cs.rdb != nil {
		if err := cs.rdb.Set(ctx, riskLimitsRedisKey, data, 0).Err(); err != nil {
			cs.hub.logger.Warn("persist risk limits failed", slog.Any("error", err))
		}
	}
	cs.hub.broadcast(ConfigChannel, data)
	return nil
}

// errInvalidLimits marks a rejected limits update.
type errInvalidLimits string

func (e errInvalidLimits) Error() string { return "invalid risk limits: " + string(e) }

func validateLimits(l portfolio.RiskLimits) error {
	switch {
	case l.MaxPositionSize < 0:
		return errInvalidLimits("max_position_size must not be negative")
	case l.MaxDailyOrders < 0:
		return errInvalidLimits("max_daily_orders must not be negative")
	case l.MaxConcentrationPct < 0 || l.MaxConcentrationPct > 100:
		return errInvalidLimits("max_concentration_pct must be within 0-100")
	case l.MaxVaRPct < 0 || l.MaxVaRPct > 100:
		return errInvalidLimits("max_var_pct must be within 0-100")
	case l.MaxDrawdownPct < 0 || l.MaxDrawdownPct > 100:
		return errInvalidLimits("max_drawdown_pct must be within 0-100")
	}
	return nil
}
